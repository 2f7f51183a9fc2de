// Package progress maintains the single live run-progress snapshot and fans
// updates out to subscribers.
package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jobgrid/pipeline-cli/internal/model"
)

// Tracker owns the process-wide RunProgress snapshot. Writers are pipeline
// stages; readers are any number of subscribers. A subscriber receives the
// current snapshot on subscription and every snapshot published after.
// Slow subscribers are dropped-from, never blocked on.
type Tracker struct {
	mu       sync.Mutex
	snapshot model.RunProgress
	subs     map[int]chan model.RunProgress
	nextID   int
}

// NewTracker creates a tracker in the idle state.
func NewTracker() *Tracker {
	return &Tracker{
		snapshot: model.RunProgress{Step: model.StepIdle},
		subs:     make(map[int]chan model.RunProgress),
	}
}

// Snapshot returns a copy of the current progress.
func (t *Tracker) Snapshot() model.RunProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot.Clone()
}

// Reset replaces the snapshot for a new run and publishes it.
func (t *Tracker) Reset(runID string) {
	t.Update(func(p *model.RunProgress) {
		*p = model.RunProgress{
			RunID:   runID,
			Step:    model.StepIdle,
			Sources: make(map[string]model.SourceCounters),
		}
	})
}

// Update mutates the snapshot under the tracker lock and publishes the
// result to every subscriber.
func (t *Tracker) Update(mutate func(p *model.RunProgress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mutate(&t.snapshot)
	t.snapshot.UpdatedAt = time.Now().UTC()
	published := t.snapshot.Clone()

	// Sends are non-blocking, so fanning out under the lock cannot stall the
	// publisher and cannot race an unsubscribe close.
	for _, ch := range t.subs {
		select {
		case ch <- published:
		default:
			// Subscriber is not keeping up; it still holds the channel and
			// will see the next update.
			zap.L().Debug("progress: dropped update for slow subscriber")
		}
	}
}

// SetStep publishes a step transition.
func (t *Tracker) SetStep(step model.Step) {
	t.Update(func(p *model.RunProgress) { p.Step = step })
}

// MergeSource folds a counter delta into the named source and recomputes
// the aggregate, so concurrent sources never overwrite each other.
func (t *Tracker) MergeSource(sourceName string, delta model.SourceCounters) {
	t.Update(func(p *model.RunProgress) {
		if p.Sources == nil {
			p.Sources = make(map[string]model.SourceCounters)
		}
		counters := p.Sources[sourceName]
		counters.Add(delta)
		p.Sources[sourceName] = counters

		var agg model.SourceCounters
		for _, c := range p.Sources {
			agg.Add(c)
		}
		p.Aggregate = agg
	})
}

// Subscribe registers a subscriber. The returned channel immediately
// carries the current snapshot; call the returned function to unsubscribe.
func (t *Tracker) Subscribe() (<-chan model.RunProgress, func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	ch := make(chan model.RunProgress, 16)
	t.subs[id] = ch
	ch <- t.snapshot.Clone()
	t.mu.Unlock()

	unsubscribe := func() {
		t.mu.Lock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
		t.mu.Unlock()
	}
	return ch, unsubscribe
}
