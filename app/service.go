package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/cleandispatch/api"
	apievents "github.com/kilianp07/cleandispatch/api/events"
	"github.com/kilianp07/cleandispatch/config"
	"github.com/kilianp07/cleandispatch/core/dispatch"
	"github.com/kilianp07/cleandispatch/core/eventlog"
	"github.com/kilianp07/cleandispatch/core/events"
	coremetrics "github.com/kilianp07/cleandispatch/core/metrics"
	coremon "github.com/kilianp07/cleandispatch/core/monitoring"
	"github.com/kilianp07/cleandispatch/infra/logger"
	"github.com/kilianp07/cleandispatch/infra/memory"
	"github.com/kilianp07/cleandispatch/infra/metrics"
	"github.com/kilianp07/cleandispatch/infra/monitoring"
	"github.com/kilianp07/cleandispatch/infra/mqtt"
	"github.com/kilianp07/cleandispatch/infra/notify"
	"github.com/kilianp07/cleandispatch/infra/redisstore"
	"github.com/kilianp07/cleandispatch/internal/eventbus"
)

// Service wires the dispatcher to its stores, channels and outer surfaces.
type Service struct {
	Store        *memory.Store
	Bus          *eventbus.Bus
	Orchestrator *dispatch.Orchestrator

	cfg      *config.Config
	log      logger.Logger
	monitor  coremon.Monitor
	sink     coremetrics.MetricsSink
	eventLog eventlog.Store
	mqtt     *mqtt.Client
	redis    *redis.Client
}

// New builds a Service from the configuration.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}
	log := logger.New("service")
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg, log: log, monitor: mon, Store: memory.NewStore()}
	if err := s.build(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) build(ctx context.Context) error {
	cfg := s.cfg
	if cfg.Store.Seed != "" {
		seed, err := memory.LoadSeed(cfg.Store.Seed)
		if err != nil {
			return fmt.Errorf("store seed: %w", err)
		}
		if err := s.Store.Apply(seed); err != nil {
			return fmt.Errorf("store seed: %w", err)
		}
		s.log.Infof("seeded %d sites, %d workers, %d bookings", len(seed.Sites), len(seed.Workers), len(seed.Bookings))
	}

	store, err := eventlog.Open(cfg.EventLog)
	if err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	s.eventLog = store
	busOpts := []eventbus.Option{
		eventbus.WithMonitor(s.monitor),
		eventbus.WithHandlerTimeout(cfg.Bus.HandlerTimeout()),
	}
	if store != nil {
		busOpts = append(busOpts, eventbus.WithRecorder(store))
	}
	s.Bus = eventbus.New(logger.New("eventbus"), busOpts...)

	calendar, claims, err := s.reservations(ctx)
	if err != nil {
		return err
	}

	if cfg.MQTT.Broker != "" {
		client, err := mqtt.NewClient(cfg.MQTT, logger.New("mqtt"), s.monitor)
		if err != nil {
			return fmt.Errorf("mqtt client: %w", err)
		}
		s.mqtt = client
	}
	var notifier notify.Multi
	if cfg.Notifier.Uses("log") {
		notifier = append(notifier, notify.NewLogNotifier(logger.New("notify")))
	}
	if cfg.Notifier.Uses("mqtt") {
		notifier = append(notifier, mqtt.NewNotifier(s.mqtt))
	}

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return fmt.Errorf("metrics sink: %w", err)
	}
	s.sink = sink
	metrics.StartEventCollector(s.Bus, sink)

	orch, err := dispatch.NewOrchestrator(dispatch.Deps{
		Workers:      s.Store.Workers(),
		Sites:        s.Store.Sites(),
		Jobs:         s.Store.Jobs(),
		Availability: s.Store.Availability(),
		Bookings:     s.Store.Bookings(),
		Calendar:     calendar,
		Claims:       claims,
		Notifier:     notifier,
		Bus:          s.Bus,
	}, cfg.Dispatch, logger.New("dispatch"), dispatch.WithMetricsSink(sink), dispatch.WithMonitor(s.monitor))
	if err != nil {
		return err
	}
	orch.Register(s.Bus)
	s.Orchestrator = orch

	if s.mqtt != nil {
		s.Bus.Register(mqtt.NewForwarder(s.mqtt), events.WorkerAssigned, events.JobEscalated)
		bridge := mqtt.NewBridge(s.mqtt, s.Bus, logger.New("mqtt.bridge"), 0)
		if err := bridge.Start(); err != nil {
			return fmt.Errorf("mqtt bridge: %w", err)
		}
	}
	return nil
}

func (s *Service) reservations(ctx context.Context) (dispatch.Calendar, dispatch.ClaimStore, error) {
	if s.cfg.Store.Backend != "redis" {
		return memory.NewCalendar(), memory.NewClaims(time.Now), nil
	}
	rdb, err := redisstore.NewClient(ctx, s.cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	s.redis = rdb
	return redisstore.NewCalendar(rdb, s.cfg.Redis.Prefix), redisstore.NewClaims(rdb, s.cfg.Redis.Prefix), nil
}

// EventSource is where the API reads events from: the persistent log when
// configured, otherwise the bus history.
func (s *Service) EventSource() apievents.Source {
	if s.eventLog != nil {
		return s.eventLog
	}
	return apievents.BusSource{Bus: s.Bus}
}

// Run expires emergency offers and serves the API and /metrics until the
// context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	go s.Orchestrator.Run(ctx)
	if port := s.cfg.Metrics.PrometheusPort; port != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, port); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if s.cfg.API.Addr == "" {
		<-ctx.Done()
		return nil
	}
	h := api.NewRouter(api.Routes{
		Events:    s.EventSource(),
		Publisher: s.Bus,
		Jobs:      s.Orchestrator,
		Token:     s.cfg.API.Token,
	})
	s.log.Infof("api listening on %s", s.cfg.API.Addr)
	return api.Serve(ctx, s.cfg.API.Addr, h)
}

// Close flushes pending notifications and releases every connection.
func (s *Service) Close() error {
	if s.Orchestrator != nil {
		if err := s.Orchestrator.Close(); err != nil {
			s.log.Errorf("dispatch close: %v", err)
		}
	}
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Errorf("redis close: %v", err)
		}
	}
	s.monitor.Flush(2 * time.Second)
	if s.eventLog != nil {
		return s.eventLog.Close()
	}
	return nil
}
