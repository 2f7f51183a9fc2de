package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jobgrid/pipeline-cli/internal/ai"
	"github.com/jobgrid/pipeline-cli/internal/discovery"
	"github.com/jobgrid/pipeline-cli/internal/model"
	"github.com/jobgrid/pipeline-cli/internal/notify"
	"github.com/jobgrid/pipeline-cli/internal/pipeline"
	"github.com/jobgrid/pipeline-cli/internal/progress"
	"github.com/jobgrid/pipeline-cli/internal/scoring"
	"github.com/jobgrid/pipeline-cli/internal/source"
	"github.com/jobgrid/pipeline-cli/internal/sponsor"
	"github.com/jobgrid/pipeline-cli/internal/store"
)

// pipelineEnv holds the initialized store, stages and orchestrator shared by
// the run and serve commands.
type pipelineEnv struct {
	Store        store.Store
	Tracker      *progress.Tracker
	Orchestrator *pipeline.Orchestrator
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "jobgrid.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initGateway() (*ai.Gateway, error) {
	return ai.New(model.ProviderConfig{
		Provider: cfg.Provider.Name,
		BaseURL:  cfg.Provider.BaseURL,
		APIKey:   cfg.Provider.Key,
		Model:    cfg.Provider.Model,
	}, ai.WithMaxAttempts(cfg.Provider.MaxRetries))
}

func initSponsors() sponsor.Matcher {
	if cfg.Sponsors.Path == "" {
		return sponsor.Noop{}
	}
	table, err := sponsor.LoadTable(cfg.Sponsors.Path)
	if err != nil {
		zap.L().Warn("sponsor register load failed, matching disabled",
			zap.String("path", cfg.Sponsors.Path),
			zap.Error(err),
		)
		return sponsor.Noop{}
	}
	return table
}

func initNotifier() notify.Notifier {
	if cfg.Notify.WebhookURL == "" {
		return notify.Noop{}
	}
	return notify.NewWebhook(cfg.Notify.WebhookURL, time.Duration(cfg.Notify.TimeoutSecs)*time.Second)
}

// initPipeline sets up the store, gateway and stages and wires the
// orchestrator. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	gw, err := initGateway()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	tracker := progress.NewTracker()
	disc := discovery.NewStage(source.DefaultRegistry(), tracker, cfg.Filters, cfg.Discovery.Concurrency)
	score := scoring.NewStage(st, gw, tracker, initSponsors(), cfg.Profile, cfg.Scoring)
	orch := pipeline.New(st, disc, score, tracker, nil, initNotifier(), cfg.Sources, cfg.Pipeline)

	return &pipelineEnv{
		Store:        st,
		Tracker:      tracker,
		Orchestrator: orch,
	}, nil
}
