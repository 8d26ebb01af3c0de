package api

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"fleettrack/internal/auth"
	"fleettrack/internal/config"
	"fleettrack/internal/events"
	"fleettrack/internal/geofence"
	"fleettrack/internal/idempotency"
	"fleettrack/internal/queue"
	"fleettrack/internal/routes"
	"fleettrack/internal/state"
)

// Server wires the ingress handlers to their backends. Backend selection
// follows the connection strings: DATABASE_URL picks Postgres over the
// in-memory stores, REDIS_URL picks Redis for the queue, the dedupe set
// and the live-event broker, AMQP_URL adds a fanout sink to the bus.
type Server struct {
	Cfg     config.Config
	Routes  routes.Store
	States  state.Store
	Queue   queue.Queue
	Idem    idempotency.Store
	Bus     *events.Bus
	GPSAuth *auth.Verifier
	TMSAuth *auth.Verifier
	Broker  EventBroker

	limiter *rate.Limiter
}

func NewServer(cfg config.Config) (*Server, error) {
	qopts := queue.Options{
		VisibilityTimeout: cfg.VisibilityTimeout,
		MaxAttempts:       cfg.MaxAttempts,
		DedupTTL:          cfg.IdempotencyTTL,
	}

	var (
		rts routes.Store
		sts state.Store
	)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pg, err := routes.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.Migrate(context.Background()); err != nil {
			return nil, fmt.Errorf("migrate routes: %w", err)
		}
		spg := state.NewPostgresFromDB(pg.DB())
		if err := spg.Migrate(context.Background()); err != nil {
			return nil, fmt.Errorf("migrate driver states: %w", err)
		}
		rts, sts = pg, spg
	} else {
		rts, sts = routes.NewMemory(), state.NewMemory()
	}

	var (
		q      queue.Queue
		idem   idempotency.Store
		broker EventBroker
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rq, err := queue.NewRedisStreams(cfg.RedisURL, qopts)
		if err != nil {
			return nil, fmt.Errorf("connect redis queue: %w", err)
		}
		ri, err := idempotency.NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis dedupe: %w", err)
		}
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis broker: %w", err)
		}
		q, idem, broker = rq, ri, rb
	} else {
		q, idem, broker = queue.NewMemory(qopts), idempotency.NewMemory(), NewBroker()
	}

	sinks := []events.Publisher{BrokerSink{Broker: broker}}
	if strings.TrimSpace(cfg.AMQPURL) != "" {
		amqp, err := events.NewAMQP(cfg.AMQPURL)
		if err != nil {
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		sinks = append(sinks, amqp)
	}
	bus := events.NewBus(sinks...)

	var limiter *rate.Limiter
	if cfg.IngressRateLimit > 0 {
		burst := cfg.IngressBurst
		if burst <= 0 {
			burst = int(cfg.IngressRateLimit)
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.IngressRateLimit), burst)
	}

	return &Server{
		Cfg:     cfg,
		Routes:  rts,
		States:  sts,
		Queue:   q,
		Idem:    idem,
		Bus:     bus,
		GPSAuth: auth.NewVerifier(cfg.GPSSecret),
		TMSAuth: auth.NewVerifier(cfg.TMSSecret),
		Broker:  broker,
		limiter: limiter,
	}, nil
}

// NewConsumer builds the background worker draining the report queue.
func (s *Server) NewConsumer() *geofence.Consumer {
	p := geofence.NewProcessor(s.States, s.Routes, s.Bus, geofence.Params{
		ArriveRadiusM:     s.Cfg.ArriveRadiusM,
		DepartExitRadiusM: s.Cfg.DepartExitRadiusM,
		ArriveMaxSpeedKph: s.Cfg.ArriveMaxSpeedKph,
		DepartMinSpeedKph: s.Cfg.DepartMinSpeedKph,
		ArriveDwellPings:  s.Cfg.ArriveDwellPings,
		DepartDwellPings:  s.Cfg.DepartDwellPings,
	})
	if s.Cfg.DependencyTimeout > 0 {
		p.Timeout = s.Cfg.DependencyTimeout
	}
	return geofence.NewConsumer(s.Queue, p)
}
