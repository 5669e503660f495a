package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-engine/internal/adjudication"
	"github.com/sells-group/benefit-engine/internal/config"
	"github.com/sells-group/benefit-engine/internal/eligibility"
	"github.com/sells-group/benefit-engine/internal/events"
	"github.com/sells-group/benefit-engine/internal/resilience"
	"github.com/sells-group/benefit-engine/internal/store"
)

// engineEnv holds the store, publisher and engine shared by the
// adjudicate, serve, reverse and accumulator commands.
type engineEnv struct {
	Store     store.Store
	Engine    *adjudication.Engine
	Publisher events.Publisher
	Webhook   *events.WebhookPublisher // nil when no webhook is configured
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEngine validates cfg for mode, opens and migrates the store and
// builds the engine. Callers should defer env.Close().
func initEngine(ctx context.Context, c *config.Config, mode string) (*engineEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	if c.Store.Driver == "memory" && (mode == "serve" || mode == "adjudicate") {
		if err := seedReference(ctx, st, c.Plan); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	pub, webhook := initPublisher(c.Events, st)
	eng := adjudication.New(st, pub, engineConfig(c.Adjudication))

	return &engineEnv{Store: st, Engine: eng, Publisher: pub, Webhook: webhook}, nil
}

// initStore opens the configured store backend.
func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "memory":
		zap.L().Warn("using in-memory store; accumulators are lost on exit")
		return store.NewMemory(), nil
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = "benefit.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

// seedReference loads the configured rules and coverage files. The
// in-memory store starts empty on every run, so it is seeded from files.
func seedReference(ctx context.Context, st store.Store, pc config.PlanConfig) error {
	rules, err := readRules(pc.RulesFile)
	if err != nil {
		return err
	}
	if _, err := st.PutRules(ctx, rules); err != nil {
		return eris.Wrap(err, "seed rules")
	}

	covs, err := eligibility.LoadCoverageFile(pc.CoverageFile)
	if err != nil {
		return err
	}
	if _, err := st.PutCoverages(ctx, covs); err != nil {
		return eris.Wrap(err, "seed coverages")
	}

	zap.L().Info("seeded in-memory store",
		zap.Int("rules", len(rules)),
		zap.Int("coverages", len(covs)),
	)
	return nil
}

// initPublisher always logs events; a configured webhook also receives
// them, with the store's dead letter queue as fallback.
func initPublisher(ec config.EventsConfig, dlq events.DLQStore) (events.Publisher, *events.WebhookPublisher) {
	logPub := events.NewLogPublisher(zap.L())
	if ec.WebhookURL == "" {
		return logPub, nil
	}

	webhook := events.NewWebhookPublisher(webhookOptions(ec), dlq)
	zap.L().Info("event webhook enabled",
		zap.Float64("rate_per_sec", ec.RatePerSec),
		zap.Int("circuit_threshold", ec.CircuitThreshold),
	)
	return events.Multi{logPub, webhook}, webhook
}

func webhookOptions(ec config.EventsConfig) events.WebhookOptions {
	return events.WebhookOptions{
		URL:        ec.WebhookURL,
		Timeout:    time.Duration(ec.TimeoutSecs) * time.Second,
		RatePerSec: ec.RatePerSec,
		Burst:      ec.Burst,
		Retry:      resilience.FromSettings(ec.RetryAttempts, 200, 5000),
		Circuit:    resilience.FromCircuitSettings(ec.CircuitThreshold, ec.CircuitResetSecs),
		MaxRetries: ec.DLQMaxRetries,
	}
}

func engineConfig(ac config.AdjudicationConfig) adjudication.Config {
	return adjudication.Config{
		CommitRetry: resilience.FromSettings(ac.MaxCommitAttempts, ac.CommitBackoffMs, ac.CommitMaxBackoffMs),
		LockTimeout: ac.LockTimeout(),
		Parallelism: ac.LineParallelism,
	}
}
