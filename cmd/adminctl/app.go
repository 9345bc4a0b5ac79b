package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"jobs-admin/client/internal/access"
	"jobs-admin/client/internal/auth/refresh"
	"jobs-admin/client/internal/auth/scheduler"
	"jobs-admin/client/internal/auth/state"
	"jobs-admin/client/internal/config"
	"jobs-admin/client/internal/credential"
	"jobs-admin/client/internal/credential/store"
	"jobs-admin/client/internal/gateway"
	"jobs-admin/client/internal/pipeline"
	"jobs-admin/client/internal/session"
	"jobs-admin/client/internal/telemetry"
	"jobs-admin/client/internal/telemetry/loki"
	"jobs-admin/client/internal/telemetry/otel"
	"jobs-admin/client/internal/telemetry/producer"
)

// app is the wired client: one credential store shared by every component.
type app struct {
	cfg      *config.Config
	keeper   *credential.Keeper
	auth     *gateway.AuthClient
	account  *gateway.AccountClient
	pipeline *pipeline.Pipeline
	sched    *scheduler.Scheduler
	state    *state.AuthState
	registry *session.Registry

	closers []func() error
	otel    *otel.Providers
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	providers, err := otel.NewProviders(ctx, otel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "adminctl",
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return nil, err
	}
	providers.SetGlobal()
	a.otel = providers

	s, closeStore, err := store.Open(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	emitters := []telemetry.EventEmitter{otel.NewEventEmitter(providers.LoggerProvider)}
	if kafka := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.AuthEventsTopic); kafka != nil {
		var p producer.Producer = kafka
		emitters = append(emitters, p)
		a.closers = append(a.closers, p.Close)
	}
	if l := loki.NewEmitter(cfg.LokiURL, gateway.NewHTTPClient(cfg.Timeout())); l != nil {
		emitters = append(emitters, l)
	}
	events := telemetry.Multi(emitters...)

	policy, err := access.LoadEvaluator(ctx, cfg.AccessPolicyFile)
	if err != nil {
		a.close()
		return nil, err
	}

	a.keeper = credential.NewKeeper(s)
	httpClient := gateway.NewHTTPClient(cfg.Timeout())
	a.auth = gateway.NewAuthClient(cfg.GatewayBaseURL, httpClient)

	coord := refresh.New(a.keeper, a.auth,
		refresh.WithTimeout(cfg.Timeout()),
		refresh.WithFallbackTTL(cfg.FallbackAccessTTL()),
	)
	a.sched = scheduler.New(coord,
		scheduler.WithMargin(cfg.RefreshMargin),
		scheduler.WithMinLead(cfg.MinLead()),
	)
	a.pipeline = pipeline.New(httpClient, a.keeper, coord)
	a.account = gateway.NewAccountClient(cfg.GatewayBaseURL, a.pipeline)

	a.state = state.New(a.keeper, a.auth, a.account, a.sched,
		state.WithPolicy(policy),
		state.WithEmitter(events),
		state.WithFallbackTTL(cfg.FallbackAccessTTL()),
	)
	a.state.Watch(coord)
	a.registry = session.NewRegistry(a.account, a.state, events)
	return a, nil
}

// close stops the scheduler and releases the store, then flushes telemetry.
func (a *app) close() {
	if a.sched != nil {
		a.sched.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("adminctl: close")
		}
	}
	if a.otel == nil {
		return
	}
	if a.cfg.OTLPEndpoint != "" {
		// In-flight async emits finish before the exporters shut down.
		time.Sleep(telemetry.ShutdownDrainDuration)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.otel.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn().Err(err).Msg("adminctl: otel shutdown")
	}
}
