// Package config loads service configuration from the environment, with an
// optional YAML overlay file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries every tunable of the service. Zero values are replaced by
// defaults in Load.
type Config struct {
	Port string `yaml:"port"`

	// Shared signing secrets, one per producer class.
	GPSSecret string `yaml:"gpsSecret"`
	TMSSecret string `yaml:"tmsSecret"`

	// Geofence thresholds.
	ArriveRadiusM     float64 `yaml:"arriveRadiusM"`
	DepartExitRadiusM float64 `yaml:"departExitRadiusM"`
	ArriveMaxSpeedKph float64 `yaml:"arriveMaxSpeedKph"`
	DepartMinSpeedKph float64 `yaml:"departMinSpeedKph"`
	ArriveDwellPings  int     `yaml:"arriveDwellPings"`
	DepartDwellPings  int     `yaml:"departDwellPings"`

	// Ingress dedupe.
	IdempotencyTTL time.Duration `yaml:"idempotencyTTL"`

	// Queue behaviour.
	VisibilityTimeout time.Duration `yaml:"visibilityTimeout"`
	MaxAttempts       int           `yaml:"maxAttempts"`

	// Bounded timeout applied to every external call from the processor.
	DependencyTimeout time.Duration `yaml:"dependencyTimeout"`

	// Ingress rate limit (requests per second; 0 disables).
	IngressRateLimit float64 `yaml:"ingressRateLimit"`
	IngressBurst     int     `yaml:"ingressBurst"`

	// Backends. Empty means in-memory.
	DatabaseURL string `yaml:"databaseURL"`
	RedisURL    string `yaml:"redisURL"`
	AMQPURL     string `yaml:"amqpURL"`
}

// Load reads configuration from the environment. If CONFIG_FILE is set the
// YAML file is read first and env vars override it.
func Load() (Config, error) {
	var c Config
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	c.Port = envOr("PORT", or(c.Port, "8080"))
	c.GPSSecret = envOr("HMAC_SECRET_GPS", c.GPSSecret)
	c.TMSSecret = envOr("HMAC_SECRET_TMS", c.TMSSecret)

	c.ArriveRadiusM = envFloat("ARRIVE_RADIUS_M", orF(c.ArriveRadiusM, 150))
	c.DepartExitRadiusM = envFloat("DEPART_EXIT_RADIUS_M", orF(c.DepartExitRadiusM, 200))
	c.ArriveMaxSpeedKph = envFloat("ARRIVE_MAX_SPEED_KPH", orF(c.ArriveMaxSpeedKph, 15))
	c.DepartMinSpeedKph = envFloat("DEPART_MIN_SPEED_KPH", orF(c.DepartMinSpeedKph, 8))
	c.ArriveDwellPings = envInt("ARRIVE_DWELL_PINGS", orI(c.ArriveDwellPings, 2))
	c.DepartDwellPings = envInt("DEPART_DWELL_PINGS", orI(c.DepartDwellPings, 2))

	c.IdempotencyTTL = envDuration("IDEMPOTENCY_TTL", orD(c.IdempotencyTTL, 24*time.Hour))
	c.VisibilityTimeout = envDuration("QUEUE_VISIBILITY_TIMEOUT", orD(c.VisibilityTimeout, 30*time.Second))
	c.MaxAttempts = envInt("QUEUE_MAX_ATTEMPTS", orI(c.MaxAttempts, 5))
	c.DependencyTimeout = envDuration("DEPENDENCY_TIMEOUT", orD(c.DependencyTimeout, 5*time.Second))

	c.IngressRateLimit = envFloat("INGRESS_RATE_LIMIT", c.IngressRateLimit)
	c.IngressBurst = envInt("INGRESS_BURST", orI(c.IngressBurst, 50))

	c.DatabaseURL = envOr("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = envOr("REDIS_URL", c.RedisURL)
	c.AMQPURL = envOr("AMQP_URL", c.AMQPURL)

	if c.GPSSecret == "" {
		return Config{}, fmt.Errorf("HMAC_SECRET_GPS is required")
	}
	return c, nil
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func envFloat(k string, d float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return d
}

func envDuration(k string, d time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			return dur
		}
	}
	return d
}

func or(v, d string) string {
	if v != "" {
		return v
	}
	return d
}

func orI(v, d int) int {
	if v != 0 {
		return v
	}
	return d
}

func orF(v, d float64) float64 {
	if v != 0 {
		return v
	}
	return d
}

func orD(v, d time.Duration) time.Duration {
	if v != 0 {
		return v
	}
	return d
}
