package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/jobgrid/pipeline-cli/internal/model"
)

// ItemProcessor handles the top-ranked items at the end of a run. What
// "handle" means is up to the implementation; the pipeline only promises
// to call it once per selected item, in rank order.
type ItemProcessor interface {
	Process(ctx context.Context, item model.ScoredItem) error
}

// LogProcessor is the default processor. It records each selected item and
// does nothing else.
type LogProcessor struct{}

func (LogProcessor) Process(_ context.Context, item model.ScoredItem) error {
	score := 0.0
	if item.Score != nil {
		score = *item.Score
	}
	zap.L().Info("selected item",
		zap.String("item", item.ID),
		zap.String("title", item.Title),
		zap.String("employer", item.Employer),
		zap.Float64("score", score),
		zap.String("url", item.URL),
	)
	return nil
}
