// Package notify delivers run-completion notifications. Delivery is best
// effort; failures are logged and never affect the run outcome.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jobgrid/pipeline-cli/internal/model"
)

// Notifier receives the terminal run record once per run.
type Notifier interface {
	RunFinished(ctx context.Context, run model.Run)
}

// Noop discards notifications.
type Noop struct{}

func (Noop) RunFinished(context.Context, model.Run) {}

// Webhook POSTs the run record as JSON to a configured URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier. A zero timeout defaults to 10s.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type payload struct {
	Event string    `json:"event"`
	Run   model.Run `json:"run"`
}

// RunFinished posts the run record. Errors are logged, never returned.
func (w *Webhook) RunFinished(ctx context.Context, run model.Run) {
	body, err := json.Marshal(payload{Event: "run.finished", Run: run})
	if err != nil {
		zap.L().Warn("notify: marshal payload", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		zap.L().Warn("notify: build request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		zap.L().Warn("notify: webhook delivery failed", zap.String("url", w.url), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		zap.L().Warn("notify: webhook rejected",
			zap.String("url", w.url),
			zap.Int("status", resp.StatusCode),
		)
		return
	}

	zap.L().Debug("notify: webhook delivered", zap.String("run_id", run.ID))
}
