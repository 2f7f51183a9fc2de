package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobgrid/pipeline-cli/internal/ai"
	"github.com/jobgrid/pipeline-cli/internal/config"
	"github.com/jobgrid/pipeline-cli/internal/discovery"
	"github.com/jobgrid/pipeline-cli/internal/model"
	"github.com/jobgrid/pipeline-cli/internal/progress"
	"github.com/jobgrid/pipeline-cli/internal/scoring"
	"github.com/jobgrid/pipeline-cli/internal/source"
	"github.com/jobgrid/pipeline-cli/internal/store"
)

// stubAdapter serves canned items for every configured source. When block is
// set it waits for ctx cancellation instead of returning.
type stubAdapter struct {
	name  string
	items []model.DiscoveredItem
	err   error
	block bool
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Run(ctx context.Context, args source.RunArgs) ([]model.DiscoveredItem, error) {
	if a.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a.err != nil {
		return nil, a.err
	}
	return a.items, nil
}

// stubCaller answers every scoring request with the same verdict.
type stubCaller struct {
	score  float64
	reason string
}

func (c *stubCaller) CallStructured(ctx context.Context, req ai.Request) (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"score": %g, "reason": %q}`, c.score, c.reason)), nil
}

type recordingProcessor struct {
	mu    sync.Mutex
	seen  []string
	fails map[string]bool
}

func (p *recordingProcessor) Process(ctx context.Context, item model.ScoredItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fails[item.Title] {
		return eris.New("processor rejected item")
	}
	p.seen = append(p.seen, item.Title)
	return nil
}

func (p *recordingProcessor) titles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	runs []model.Run
}

func (n *recordingNotifier) RunFinished(ctx context.Context, run model.Run) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, run)
}

func (n *recordingNotifier) finished() []model.Run {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.Run(nil), n.runs...)
}

type testEnv struct {
	store     store.Store
	tracker   *progress.Tracker
	orch      *Orchestrator
	processor *recordingProcessor
	notifier  *recordingNotifier
}

func newTestEnv(t *testing.T, adapter source.Adapter, topN int) *testEnv {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	tracker := progress.NewTracker()
	disc := discovery.NewStage(source.NewRegistry(adapter), tracker, config.FilterConfig{}, 2)
	score := scoring.NewStage(st, &stubCaller{score: 80, reason: "strong match"}, tracker, nil,
		config.ProfileConfig{Summary: "backend engineer"}, config.ScoringConfig{})

	processor := &recordingProcessor{}
	notifier := &recordingNotifier{}
	sources := []config.SourceConfig{{Name: "acme", Adapter: adapter.Name(), Board: "acme"}}
	orch := New(st, disc, score, tracker, processor, notifier, sources, config.PipelineConfig{TopN: topN})

	return &testEnv{store: st, tracker: tracker, orch: orch, processor: processor, notifier: notifier}
}

func discoveredItems(n int) []model.DiscoveredItem {
	items := make([]model.DiscoveredItem, n)
	for i := range items {
		items[i] = model.DiscoveredItem{
			Source:     "acme",
			ExternalID: fmt.Sprintf("stub:%d", i),
			Title:      fmt.Sprintf("Engineer %d", i),
			Employer:   "Acme Corp",
			URL:        fmt.Sprintf("https://jobs.example.com/acme/%d", i),
		}
	}
	return items
}

func waitForIdle(t *testing.T, orch *Orchestrator) {
	t.Helper()
	require.Eventually(t, func() bool { return !orch.Running() }, 5*time.Second, 10*time.Millisecond)
}

func TestOrchestrator_CompletesFullRun(t *testing.T) {
	adapter := &stubAdapter{name: "stub", items: discoveredItems(3)}
	env := newTestEnv(t, adapter, 10)
	ctx := context.Background()

	run, err := env.orch.Start(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	waitForIdle(t, env.orch)

	persisted, err := env.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, persisted.Status)
	assert.Equal(t, 3, persisted.Discovered)
	assert.Equal(t, 3, persisted.Processed)
	require.NotNil(t, persisted.FinishedAt)

	assert.Len(t, env.processor.titles(), 3)

	finished := env.notifier.finished()
	require.Len(t, finished, 1)
	assert.Equal(t, run.ID, finished[0].ID)
	assert.Equal(t, model.RunStatusCompleted, finished[0].Status)

	snap := env.orch.Status()
	assert.Equal(t, model.StepCompleted, snap.Step)
	assert.Equal(t, 3, snap.Discovered)
}

func TestOrchestrator_TopNLimitsProcessing(t *testing.T) {
	adapter := &stubAdapter{name: "stub", items: discoveredItems(5)}
	env := newTestEnv(t, adapter, 2)

	run, err := env.orch.Start(context.Background())
	require.NoError(t, err)
	waitForIdle(t, env.orch)

	persisted, err := env.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, persisted.Discovered)
	assert.Equal(t, 2, persisted.Processed)
	assert.Len(t, env.processor.titles(), 2)
}

func TestOrchestrator_RejectsConcurrentStart(t *testing.T) {
	adapter := &stubAdapter{name: "stub", block: true}
	env := newTestEnv(t, adapter, 10)

	first, err := env.orch.Start(context.Background())
	require.NoError(t, err)

	_, err = env.orch.Start(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.True(t, env.orch.Running(), "rejected start must not disturb the active run")

	require.NoError(t, env.orch.Cancel())
	waitForIdle(t, env.orch)

	persisted, err := env.store.GetRun(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, persisted.Status)
}

func TestOrchestrator_CancelDrainsToCancelled(t *testing.T) {
	adapter := &stubAdapter{name: "stub", block: true}
	env := newTestEnv(t, adapter, 10)

	run, err := env.orch.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, env.orch.Cancel())
	waitForIdle(t, env.orch)

	persisted, err := env.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, persisted.Status)
	assert.Equal(t, model.StepCancelled, env.orch.Status().Step)

	finished := env.notifier.finished()
	require.Len(t, finished, 1)
	assert.Equal(t, model.RunStatusCancelled, finished[0].Status)
}

func TestOrchestrator_CancelWhenIdle(t *testing.T) {
	env := newTestEnv(t, &stubAdapter{name: "stub"}, 10)
	require.ErrorIs(t, env.orch.Cancel(), ErrNotRunning)
}

func TestOrchestrator_FailureReleasesLock(t *testing.T) {
	adapter := &stubAdapter{name: "stub", err: eris.New("feed unreachable")}
	env := newTestEnv(t, adapter, 10)

	run, err := env.orch.Start(context.Background())
	require.NoError(t, err)
	waitForIdle(t, env.orch)

	persisted, err := env.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, persisted.Status)
	assert.Contains(t, persisted.Error, "feed unreachable")
	assert.Equal(t, model.StepFailed, env.orch.Status().Step)

	// A failed run must not wedge the orchestrator.
	adapter.err = nil
	adapter.items = discoveredItems(1)
	second, err := env.orch.Start(context.Background())
	require.NoError(t, err)
	waitForIdle(t, env.orch)

	persisted, err = env.store.GetRun(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, persisted.Status)
}

// slowFinishStore delays run-record persistence, widening the window an
// observer could see a terminal snapshot before the record is final.
type slowFinishStore struct {
	store.Store
	delay time.Duration
}

func (s *slowFinishStore) FinishRun(ctx context.Context, run *model.Run) error {
	time.Sleep(s.delay)
	return s.Store.FinishRun(ctx, run)
}

func TestOrchestrator_TerminalSnapshotImpliesPersistedRun(t *testing.T) {
	base, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { base.Close() })
	require.NoError(t, base.Migrate(context.Background()))
	st := &slowFinishStore{Store: base, delay: 300 * time.Millisecond}

	adapter := &stubAdapter{name: "stub", items: discoveredItems(1)}
	tracker := progress.NewTracker()
	disc := discovery.NewStage(source.NewRegistry(adapter), tracker, config.FilterConfig{}, 2)
	score := scoring.NewStage(st, &stubCaller{score: 80, reason: "strong match"}, tracker, nil,
		config.ProfileConfig{Summary: "backend engineer"}, config.ScoringConfig{})
	sources := []config.SourceConfig{{Name: "acme", Adapter: "stub", Board: "acme"}}
	orch := New(st, disc, score, tracker, nil, nil, sources, config.PipelineConfig{})

	ch, unsubscribe := tracker.Subscribe()
	defer unsubscribe()

	run, err := orch.Start(context.Background())
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-ch:
			if !snap.Step.Terminal() {
				continue
			}
			// The record must already be final when the terminal snapshot
			// is observed.
			persisted, err := st.GetRun(context.Background(), run.ID)
			require.NoError(t, err)
			assert.Equal(t, model.RunStatusCompleted, persisted.Status)
			require.NotNil(t, persisted.FinishedAt)
			assert.Equal(t, 1, persisted.Discovered)
			return
		case <-deadline:
			t.Fatal("no terminal snapshot observed")
		}
	}
}

func TestOrchestrator_ProcessorFailureSkipsItem(t *testing.T) {
	adapter := &stubAdapter{name: "stub", items: discoveredItems(3)}
	env := newTestEnv(t, adapter, 10)
	env.processor.fails = map[string]bool{"Engineer 1": true}

	run, err := env.orch.Start(context.Background())
	require.NoError(t, err)
	waitForIdle(t, env.orch)

	persisted, err := env.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, persisted.Status)
	assert.Equal(t, 2, persisted.Processed)
	assert.NotContains(t, env.processor.titles(), "Engineer 1")
}
