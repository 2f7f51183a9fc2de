// Package source defines the discovery-source boundary: adapters that fetch
// job postings from external feeds and report incremental progress.
package source

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/jobgrid/pipeline-cli/internal/config"
	"github.com/jobgrid/pipeline-cli/internal/model"
)

// Phase labels an adapter's current activity in a progress event.
type Phase string

const (
	PhaseListing  Phase = "listing"
	PhaseFetching Phase = "fetching"
	PhaseDone     Phase = "done"
)

// ProgressEvent is one incremental progress report from an adapter. Counter
// fields are deltas merged into the per-source totals.
type ProgressEvent struct {
	Source     string               `json:"source"`
	Counters   model.SourceCounters `json:"counters"`
	Phase      Phase                `json:"phase,omitempty"`
	CurrentURL string               `json:"current_url,omitempty"`
	Detail     string               `json:"detail,omitempty"`
}

// ProgressFunc receives progress events. Implementations must be safe for
// concurrent use; adapters may call from multiple goroutines.
type ProgressFunc func(ev ProgressEvent)

// RunArgs carries one adapter invocation. Sources lists every configured
// source served by this adapter, fetched in a single call.
type RunArgs struct {
	Sources    []config.SourceConfig
	OnProgress ProgressFunc
}

// Adapter fetches postings for all of its configured sources. A returned
// error is source-level: the caller aggregates it and continues with other
// adapters.
type Adapter interface {
	Name() string
	Run(ctx context.Context, args RunArgs) ([]model.DiscoveredItem, error)
}

// Registry resolves adapter names to implementations.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry over the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// DefaultRegistry returns a registry with the built-in board adapters.
func DefaultRegistry() *Registry {
	return NewRegistry(NewGreenhouse(), NewLever())
}

// Get resolves an adapter by name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, eris.Errorf("source: unknown adapter %q", name)
	}
	return a, nil
}

func report(fn ProgressFunc, ev ProgressEvent) {
	if fn != nil {
		fn(ev)
	}
}
