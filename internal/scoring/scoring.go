// Package scoring assigns a fit score to discovered items, one AI call at a
// time, respecting cached scores and the auto-skip threshold.
package scoring

import (
	"context"
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jobgrid/pipeline-cli/internal/ai"
	"github.com/jobgrid/pipeline-cli/internal/config"
	"github.com/jobgrid/pipeline-cli/internal/model"
	"github.com/jobgrid/pipeline-cli/internal/progress"
	"github.com/jobgrid/pipeline-cli/internal/sponsor"
	"github.com/jobgrid/pipeline-cli/internal/store"
)

// Caller is the gateway surface the stage needs.
type Caller interface {
	CallStructured(ctx context.Context, req ai.Request) (json.RawMessage, error)
}

// scoreSchema is the JSON schema every evaluation reply must satisfy.
var scoreSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"score":  map[string]any{"type": "number"},
		"reason": map[string]any{"type": "string"},
	},
	"required": []string{"score"},
}

type scoreResult struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Stage scores items sequentially through the AI gateway.
type Stage struct {
	store         store.Store
	gateway       Caller
	tracker       *progress.Tracker
	sponsors      sponsor.Matcher
	profile       config.ProfileConfig
	autoSkipBelow *float64
	limiter       *rate.Limiter
}

// NewStage creates a scoring stage. ratePerSecond bounds AI call frequency;
// zero or negative disables the limiter.
func NewStage(st store.Store, gateway Caller, tracker *progress.Tracker, sponsors sponsor.Matcher, profile config.ProfileConfig, cfg config.ScoringConfig) *Stage {
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	if sponsors == nil {
		sponsors = sponsor.Noop{}
	}
	autoSkip := cfg.AutoSkipBelow
	if autoSkip != nil && math.IsNaN(*autoSkip) {
		autoSkip = nil
	}
	return &Stage{
		store:         st,
		gateway:       gateway,
		tracker:       tracker,
		sponsors:      sponsors,
		profile:       profile,
		autoSkipBelow: autoSkip,
		limiter:       limiter,
	}
}

// Run scores every item in the list. Items with a usable cached score skip
// the AI call but still receive sponsor enrichment. Per-item failures are
// logged and skipped; the stage only fails on cancellation.
func (s *Stage) Run(ctx context.Context, items []model.ScoredItem) (int, error) {
	log := zap.L().With(zap.String("stage", "scoring"))
	scored := 0

	for i := range items {
		item := &items[i]

		if ctx.Err() != nil {
			return scored, ctx.Err()
		}

		// Progress is reported before the AI call so observers see the
		// index advance even while a slow call is in flight.
		s.reportProgress(i, len(items), item.Title)

		update := store.ItemUpdate{}
		if match, ok := s.sponsors.Match(item.Employer); ok {
			update.SponsorMatch = &match
		}

		if item.HasScore() {
			if !update.IsZero() {
				if err := s.store.UpdateItem(ctx, item.ID, update); err != nil {
					log.Warn("cached item update failed", zap.String("item", item.ID), zap.Error(err))
				}
			}
			continue
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return scored, err
			}
		}

		result, err := s.evaluate(ctx, item)
		if err != nil {
			if eris.Is(err, ai.ErrMissingCredential) {
				// Degraded mode: no credential means no provider at all, so
				// fall back to the offline heuristic for the rest of the run.
				log.Warn("provider credential missing, using offline heuristic")
				result = s.offlineScore(item)
			} else {
				log.Warn("scoring item failed",
					zap.String("item", item.ID),
					zap.String("title", item.Title),
					zap.Error(err),
				)
				continue
			}
		}

		score := model.ClampScore(result.Score)
		update.Score = &score
		update.Rationale = &result.Reason

		if s.shouldAutoSkip(item, score) {
			skipped := model.ItemStatusSkipped
			update.Status = &skipped
		}

		if err := s.store.UpdateItem(ctx, item.ID, update); err != nil {
			log.Warn("persist score failed", zap.String("item", item.ID), zap.Error(err))
			continue
		}
		item.Score = &score
		item.Rationale = result.Reason
		scored++
	}

	s.reportProgress(len(items), len(items), "")
	return scored, nil
}

// shouldAutoSkip applies the auto-disposition rule: only when a threshold is
// configured, the item is not already in a terminal applied status, and the
// fresh score falls strictly below the threshold.
func (s *Stage) shouldAutoSkip(item *model.ScoredItem, score float64) bool {
	if s.autoSkipBelow == nil || math.IsNaN(*s.autoSkipBelow) {
		return false
	}
	if item.Status == model.ItemStatusApplied {
		return false
	}
	return score < *s.autoSkipBelow
}

func (s *Stage) reportProgress(index, total int, current string) {
	if s.tracker == nil {
		return
	}
	s.tracker.Update(func(p *model.RunProgress) {
		p.ScoringIndex = index
		p.ScoringTotal = total
		p.CurrentItem = current
	})
}

func (s *Stage) evaluate(ctx context.Context, item *model.ScoredItem) (*scoreResult, error) {
	raw, err := s.gateway.CallStructured(ctx, ai.Request{
		SchemaName: "job_fit",
		Schema:     scoreSchema,
		Messages: []ai.Message{
			{Role: "system", Content: evalSystemPrompt},
			{Role: "user", Content: buildEvalPrompt(s.profile, item)},
		},
	})
	if err != nil {
		return nil, err
	}

	result, err := ai.Decode[scoreResult](raw)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
