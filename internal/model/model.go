package model

import (
	"math"
	"time"
)

// RunStatus is the terminal (or in-flight) state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// Step names the stage the pipeline is currently in.
type Step string

const (
	StepIdle        Step = "idle"
	StepDiscovering Step = "discovering"
	StepImporting   Step = "importing"
	StepScoring     Step = "scoring"
	StepProcessing  Step = "processing"
	StepCompleted   Step = "completed"
	StepCancelled   Step = "cancelled"
	StepFailed      Step = "failed"
)

// Terminal reports whether the step is an end state.
func (s Step) Terminal() bool {
	return s == StepCompleted || s == StepCancelled || s == StepFailed
}

// Run records one end-to-end pipeline execution. It is created at start,
// mutated only by the orchestrator, and immutable once terminal.
type Run struct {
	ID         string     `json:"id"`
	Status     RunStatus  `json:"status"`
	Discovered int        `json:"discovered"`
	Processed  int        `json:"processed"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ItemStatus tracks disposition of a discovered job item.
type ItemStatus string

const (
	ItemStatusNew     ItemStatus = "new"
	ItemStatusSkipped ItemStatus = "skipped"
	ItemStatusApplied ItemStatus = "applied"
)

// DiscoveredItem is one job posting produced by a source task. The URL is
// required and serves as the dedup key. Items are never mutated after
// discovery.
type DiscoveredItem struct {
	Source      string     `json:"source"`
	ExternalID  string     `json:"external_id,omitempty"`
	Title       string     `json:"title"`
	Employer    string     `json:"employer"`
	URL         string     `json:"url"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	SalaryMin   float64    `json:"salary_min,omitempty"`
	SalaryMax   float64    `json:"salary_max,omitempty"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
}

// ScoredItem is a persisted item with an optional fit score. A non-nil,
// non-NaN score means the item was scored on a prior run.
type ScoredItem struct {
	ID string `json:"id"`
	DiscoveredItem
	Status         ItemStatus `json:"status"`
	Score          *float64   `json:"score,omitempty"`
	Rationale      string     `json:"rationale,omitempty"`
	SponsorMatch   string     `json:"sponsor_match,omitempty"`
}

// HasScore reports whether the item carries a usable cached score.
func (s *ScoredItem) HasScore() bool {
	return s.Score != nil && !math.IsNaN(*s.Score)
}

// ClampScore forces a raw model score into the [0,100] contract and rounds
// to the nearest integer.
func ClampScore(raw float64) float64 {
	if math.IsNaN(raw) {
		return 0
	}
	if raw < 0 {
		return 0
	}
	if raw > 100 {
		return 100
	}
	return math.Round(raw)
}

// SourceCounters are the per-source progress counters reported by adapters.
type SourceCounters struct {
	TermsProcessed     int `json:"terms_processed"`
	TermsTotal         int `json:"terms_total"`
	ListPagesProcessed int `json:"list_pages_processed"`
	ListPagesTotal     int `json:"list_pages_total"`
	CardsFound         int `json:"cards_found"`
	PagesEnqueued      int `json:"pages_enqueued"`
	PagesSkipped       int `json:"pages_skipped"`
	PagesProcessed     int `json:"pages_processed"`
}

// Add sums other into the receiver, field by field.
func (c *SourceCounters) Add(other SourceCounters) {
	c.TermsProcessed += other.TermsProcessed
	c.TermsTotal += other.TermsTotal
	c.ListPagesProcessed += other.ListPagesProcessed
	c.ListPagesTotal += other.ListPagesTotal
	c.CardsFound += other.CardsFound
	c.PagesEnqueued += other.PagesEnqueued
	c.PagesSkipped += other.PagesSkipped
	c.PagesProcessed += other.PagesProcessed
}

// RunProgress is the single mutable status snapshot for the active run.
// It is reset at the start of each run and published on every change.
type RunProgress struct {
	RunID        string                    `json:"run_id,omitempty"`
	Step         Step                      `json:"step"`
	Sources      map[string]SourceCounters `json:"sources,omitempty"`
	Aggregate    SourceCounters            `json:"aggregate"`
	Discovered   int                       `json:"discovered"`
	Imported     int                       `json:"imported"`
	ScoringIndex int                       `json:"scoring_index"`
	ScoringTotal int                       `json:"scoring_total"`
	CurrentItem  string                    `json:"current_item,omitempty"`
	Error        string                    `json:"error,omitempty"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to subscribers.
func (p RunProgress) Clone() RunProgress {
	out := p
	if p.Sources != nil {
		out.Sources = make(map[string]SourceCounters, len(p.Sources))
		for k, v := range p.Sources {
			out.Sources[k] = v
		}
	}
	return out
}

// ProviderConfig identifies the AI backend for a gateway instance. It is
// immutable for the gateway's lifetime and re-resolved per run.
type ProviderConfig struct {
	Provider string `json:"provider"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"-"`
	Model    string `json:"model"`
}
