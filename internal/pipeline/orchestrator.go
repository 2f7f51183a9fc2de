// Package pipeline runs the end-to-end discovery, import, scoring and
// processing flow. At most one run is active per orchestrator at any time.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jobgrid/pipeline-cli/internal/config"
	"github.com/jobgrid/pipeline-cli/internal/discovery"
	"github.com/jobgrid/pipeline-cli/internal/model"
	"github.com/jobgrid/pipeline-cli/internal/notify"
	"github.com/jobgrid/pipeline-cli/internal/progress"
	"github.com/jobgrid/pipeline-cli/internal/scoring"
	"github.com/jobgrid/pipeline-cli/internal/store"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is in flight.
	ErrAlreadyRunning = eris.New("pipeline: a run is already in progress")
	// ErrNotRunning is returned by Cancel when no run is in flight.
	ErrNotRunning = eris.New("pipeline: no run in progress")
)

// Orchestrator owns the run lifecycle. Stages are injected; the orchestrator
// contributes ordering, exclusivity, cancellation and persistence of the run
// record.
type Orchestrator struct {
	store     store.Store
	discovery *discovery.Stage
	scoring   *scoring.Stage
	tracker   *progress.Tracker
	processor ItemProcessor
	notifier  notify.Notifier
	sources   []config.SourceConfig
	topN      int

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
}

// New creates an orchestrator. A nil processor defaults to LogProcessor and
// a nil notifier to the no-op notifier.
func New(st store.Store, disc *discovery.Stage, score *scoring.Stage, tracker *progress.Tracker, processor ItemProcessor, notifier notify.Notifier, sources []config.SourceConfig, cfg config.PipelineConfig) *Orchestrator {
	if processor == nil {
		processor = LogProcessor{}
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	topN := cfg.TopN
	if topN <= 0 {
		topN = 10
	}
	return &Orchestrator{
		store:     st,
		discovery: disc,
		scoring:   score,
		tracker:   tracker,
		processor: processor,
		notifier:  notifier,
		sources:   sources,
		topN:      topN,
	}
}

// Start begins a run and returns its record immediately. The run itself
// proceeds in the background; observe it through Status or a tracker
// subscription. Start fails fast with ErrAlreadyRunning when a run is
// active, without disturbing it.
func (o *Orchestrator) Start(ctx context.Context) (*model.Run, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}

	run := &model.Run{
		ID:        uuid.NewString(),
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		o.running.Store(false)
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	o.tracker.Reset(run.ID)

	go o.run(runCtx, *run)

	return run, nil
}

// Cancel requests cancellation of the active run. The run drains to a
// cancelled terminal state asynchronously.
func (o *Orchestrator) Cancel() error {
	if !o.running.Load() {
		return ErrNotRunning
	}
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel == nil {
		return ErrNotRunning
	}
	cancel()
	return nil
}

// Running reports whether a run is in flight.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Status returns the latest progress snapshot. It remains answerable after
// the run reaches a terminal state.
func (o *Orchestrator) Status() model.RunProgress {
	return o.tracker.Snapshot()
}

func (o *Orchestrator) run(ctx context.Context, run model.Run) {
	defer o.running.Store(false)

	log := zap.L().With(zap.String("run_id", run.ID))
	log.Info("run started")

	err := o.execute(ctx, &run)

	now := time.Now().UTC()
	run.FinishedAt = &now
	var step model.Step
	switch {
	case ctx.Err() != nil:
		run.Status = model.RunStatusCancelled
		step = model.StepCancelled
		log.Info("run cancelled")
	case err != nil:
		run.Status = model.RunStatusFailed
		run.Error = err.Error()
		step = model.StepFailed
		log.Error("run failed", zap.Error(err))
	default:
		run.Status = model.RunStatusCompleted
		step = model.StepCompleted
		log.Info("run completed",
			zap.Int("discovered", run.Discovered),
			zap.Int("processed", run.Processed),
		)
	}

	// The run context may already be cancelled; finishing touches get their
	// own deadline.
	finishCtx, cancelFinish := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFinish()

	if err := o.store.FinishRun(finishCtx, &run); err != nil {
		log.Error("persist run outcome failed", zap.Error(err))
	}
	o.notifier.RunFinished(finishCtx, run)

	// Publish the terminal step only after the record is persisted, so an
	// observer reacting to a terminal snapshot reads the final record.
	o.tracker.Update(func(p *model.RunProgress) {
		p.Step = step
		p.Error = run.Error
	})
}

func (o *Orchestrator) execute(ctx context.Context, run *model.Run) error {
	// Discover
	o.tracker.SetStep(model.StepDiscovering)
	knownURLs, err := o.store.GetAllKnownURLs(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: load known urls")
	}
	result, err := o.discovery.Run(ctx, o.sources, knownURLs)
	if err != nil {
		return err
	}
	run.Discovered = len(result.Items)
	o.tracker.Update(func(p *model.RunProgress) {
		p.Discovered = len(result.Items)
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Import
	o.tracker.SetStep(model.StepImporting)
	created, err := o.store.CreateItems(ctx, result.Items)
	if err != nil {
		return eris.Wrap(err, "pipeline: import items")
	}
	o.tracker.Update(func(p *model.RunProgress) {
		p.Imported = created.Created
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Score. Candidates are all undecided items, so cached scores from
	// earlier runs are reused rather than recomputed.
	o.tracker.SetStep(model.StepScoring)
	candidates, err := o.store.ListItems(ctx, store.ItemFilter{Status: model.ItemStatusNew})
	if err != nil {
		return eris.Wrap(err, "pipeline: list scoring candidates")
	}
	if _, err := o.scoring.Run(ctx, candidates); err != nil {
		return err
	}

	// Process top N
	o.tracker.SetStep(model.StepProcessing)
	scored := true
	top, err := o.store.ListItems(ctx, store.ItemFilter{
		Status:       model.ItemStatusNew,
		Scored:       &scored,
		OrderByScore: true,
		Limit:        o.topN,
	})
	if err != nil {
		return eris.Wrap(err, "pipeline: select top items")
	}
	for _, item := range top {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.processor.Process(ctx, item); err != nil {
			zap.L().Warn("process item failed",
				zap.String("item", item.ID),
				zap.Error(err),
			)
			continue
		}
		run.Processed++
	}

	return ctx.Err()
}
