// Package ai routes structured-output calls to a configured provider,
// negotiating the response mode the provider actually supports.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/jobgrid/pipeline-cli/internal/ai/sanitize"
	"github.com/jobgrid/pipeline-cli/internal/model"
	"github.com/jobgrid/pipeline-cli/internal/resilience"
)

// Gateway negotiates response modes and retries over a single provider
// strategy. The provider configuration is immutable for its lifetime.
type Gateway struct {
	cfg      model.ProviderConfig
	strategy Strategy
	http     *http.Client
	retry    resilience.RetryConfig
	modes    *ModeCache
}

// Option configures the gateway.
type Option func(*Gateway)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *Gateway) { g.http = hc }
}

// WithModeCache shares a mode cache across gateway instances, preserving
// negotiated modes when the provider config is re-resolved per run.
func WithModeCache(c *ModeCache) Option {
	return func(g *Gateway) { g.modes = c }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(g *Gateway) { g.retry = cfg }
}

// WithMaxAttempts caps per-mode attempts while keeping the default policy.
// Non-positive values are ignored.
func WithMaxAttempts(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.retry.MaxAttempts = n
		}
	}
}

// New creates a gateway for the configured provider.
func New(cfg model.ProviderConfig, opts ...Option) (*Gateway, error) {
	strategy, ok := StrategyFor(cfg.Provider)
	if !ok {
		return nil, eris.Errorf("ai: unknown provider %q", cfg.Provider)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = strategy.DefaultBaseURL()
	}

	g := &Gateway{
		cfg:      cfg,
		strategy: strategy,
		http: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			Linear:         true,
			ShouldRetry:    isRetryable,
			OnRetry:        resilience.RetryLogger(cfg.Provider, "call_structured"),
		},
		modes: NewModeCache(),
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Provider returns the provider id this gateway is bound to.
func (g *Gateway) Provider() string { return g.cfg.Provider }

// CallStructured sends the request and returns JSON satisfying req.Schema.
//
// The last mode that worked for this (provider, baseURL) is tried first,
// then the strategy's remaining modes in declared order. A capability error
// advances to the next mode without consuming a retry; any other failure
// aborts the call. When every mode is rejected as unsupported, the distinct
// ErrNoModeAvailable is returned.
func (g *Gateway) CallStructured(ctx context.Context, req Request) (json.RawMessage, error) {
	if g.strategy.RequiresKey() && g.cfg.APIKey == "" {
		return nil, eris.Wrapf(ErrMissingCredential, "ai: provider %s", g.cfg.Provider)
	}
	if req.Model == "" {
		req.Model = g.cfg.Model
	}
	if req.SchemaName == "" {
		req.SchemaName = "result"
	}

	log := zap.L().With(zap.String("provider", g.cfg.Provider), zap.String("model", req.Model))

	for _, mode := range g.orderedModes() {
		raw, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (json.RawMessage, error) {
			return g.attempt(ctx, req, mode)
		})
		if err == nil {
			g.modes.Put(g.cfg.Provider, g.cfg.BaseURL, mode)
			return raw, nil
		}
		if IsCapability(err) {
			log.Info("response mode unsupported, trying next",
				zap.String("mode", string(mode)),
			)
			continue
		}
		return nil, eris.Wrapf(err, "ai: %s call failed in mode %s", g.cfg.Provider, mode)
	}

	return nil, eris.Wrapf(ErrNoModeAvailable, "ai: provider %s", g.cfg.Provider)
}

// orderedModes returns the declared modes with any cached working mode
// promoted to the front.
func (g *Gateway) orderedModes() []Mode {
	declared := g.strategy.Modes()
	cached, ok := g.modes.Get(g.cfg.Provider, g.cfg.BaseURL)
	if !ok {
		return declared
	}
	ordered := make([]Mode, 0, len(declared))
	ordered = append(ordered, cached)
	for _, m := range declared {
		if m != cached {
			ordered = append(ordered, m)
		}
	}
	return ordered
}

// attempt performs one HTTP call in the given mode and recovers the typed
// result from the response.
func (g *Gateway) attempt(ctx context.Context, req Request, mode Mode) (json.RawMessage, error) {
	body, err := g.strategy.BuildBody(req, mode)
	if err != nil {
		return nil, eris.Wrap(err, "ai: build request body")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.strategy.Endpoint(g.cfg.BaseURL, req.Model), bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "ai: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	g.strategy.Authorize(httpReq, g.cfg.APIKey)

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "ai: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ai: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := string(respBody)
		if g.strategy.IsCapabilityError(resp.StatusCode, text) {
			return nil, &CapabilityError{Mode: mode, StatusCode: resp.StatusCode, Body: text}
		}
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: text}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(httpErr, resp.StatusCode)
		}
		return nil, httpErr
	}

	text, err := g.strategy.ExtractText(respBody)
	if err != nil {
		return nil, err
	}

	raw, err := sanitize.Recover(text)
	if err != nil {
		return nil, err
	}

	if req.Schema != nil {
		if err := validateSchema(req.Schema, raw); err != nil {
			return nil, err
		}
	}

	return raw, nil
}

// validateSchema checks the recovered JSON against the caller's schema.
// A mismatch is reported as a parse failure so it retries like one.
func validateSchema(schema map[string]any, raw json.RawMessage) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return eris.Wrap(err, "ai: validate schema")
	}
	if !result.Valid() {
		return eris.Wrapf(sanitize.ErrUnparseable, "ai: response violates schema: %v", result.Errors())
	}
	return nil
}

// isRetryable reports whether an attempt error warrants a retry: parse
// failures, rate limits, 5xx statuses, and transport-level failures.
// Capability errors are never retried; they advance the mode instead.
func isRetryable(err error) bool {
	if IsCapability(err) {
		return false
	}
	if eris.Is(err, sanitize.ErrUnparseable) {
		return true
	}
	return resilience.IsTransient(err)
}

// Decode unmarshals a structured call result into T.
func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, eris.Wrap(err, "ai: decode result")
	}
	return out, nil
}
