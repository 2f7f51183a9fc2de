// Package discovery fans out to the configured job sources with bounded
// concurrency and post-processes their output into a deduplicated,
// filtered item list.
package discovery

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jobgrid/pipeline-cli/internal/config"
	"github.com/jobgrid/pipeline-cli/internal/model"
	"github.com/jobgrid/pipeline-cli/internal/progress"
	"github.com/jobgrid/pipeline-cli/internal/source"
)

// Result is the outcome of one discovery pass. SourceErrors are the labeled
// non-fatal task failures; they are fatal only when no task succeeded.
type Result struct {
	Items        []model.DiscoveredItem
	SourceErrors []string
}

// Stage executes discovery for a run.
type Stage struct {
	registry    *source.Registry
	tracker     *progress.Tracker
	filters     config.FilterConfig
	concurrency int
}

// NewStage creates a discovery stage. Concurrency bounds the number of
// source tasks in flight at once, independent of task count.
func NewStage(registry *source.Registry, tracker *progress.Tracker, filters config.FilterConfig, concurrency int) *Stage {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Stage{
		registry:    registry,
		tracker:     tracker,
		filters:     filters,
		concurrency: concurrency,
	}
}

// sourceTask is one unit of discovery work bound to a single adapter, which
// may serve several named sources in one call.
type sourceTask struct {
	adapter source.Adapter
	sources []config.SourceConfig
}

func (t *sourceTask) label() string {
	names := make([]string, 0, len(t.sources))
	for _, s := range t.sources {
		names = append(names, s.Name)
	}
	return strings.Join(names, ",")
}

// buildTasks groups the requested sources by adapter. Sources naming an
// unknown adapter become an immediate labeled failure instead of a task.
func (s *Stage) buildTasks(requested []config.SourceConfig) ([]*sourceTask, []string) {
	groups := make(map[string]*sourceTask)
	var failures []string

	for _, src := range requested {
		adapter, err := s.registry.Get(src.Adapter)
		if err != nil {
			failures = append(failures, src.Name+": "+err.Error())
			continue
		}
		task, ok := groups[adapter.Name()]
		if !ok {
			task = &sourceTask{adapter: adapter}
			groups[adapter.Name()] = task
		}
		task.sources = append(task.sources, src)
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	tasks := make([]*sourceTask, 0, len(names))
	for _, name := range names {
		tasks = append(tasks, groups[name])
	}
	return tasks, failures
}

// Run executes all source tasks and returns the filtered, deduplicated
// items.
func (s *Stage) Run(ctx context.Context, requested []config.SourceConfig, knownURLs []string) (*Result, error) {
	tasks, sourceErrors := s.buildTasks(requested)

	var (
		mu        sync.Mutex
		items     []model.DiscoveredItem
		succeeded int
	)

	onProgress := func(ev source.ProgressEvent) {
		s.tracker.MergeSource(ev.Source, ev.Counters)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, task := range tasks {
		g.Go(func() error {
			taskItems, err := task.adapter.Run(gCtx, source.RunArgs{
				Sources:    task.sources,
				OnProgress: onProgress,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Task failures never cross the pool boundary; they are
				// captured as labeled strings and aggregated.
				sourceErrors = append(sourceErrors, task.label()+": "+err.Error())
			} else {
				succeeded++
			}
			items = append(items, taskItems...)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if succeeded == 0 && len(sourceErrors) > 0 {
		return nil, eris.Errorf("discovery: all sources failed: %s", strings.Join(sourceErrors, "; "))
	}

	for _, serr := range sourceErrors {
		zap.L().Warn("discovery: source failed", zap.String("source", serr))
	}

	raw := len(items)
	items = filterByCities(items, s.filters.Cities)
	items = filterEmployers(items, s.filters.EmployerBlocklist)
	items = dedupe(items, knownURLs)

	zap.L().Info("discovery complete",
		zap.Int("raw", raw),
		zap.Int("kept", len(items)),
		zap.Int("source_errors", len(sourceErrors)),
	)

	return &Result{Items: items, SourceErrors: sourceErrors}, nil
}
