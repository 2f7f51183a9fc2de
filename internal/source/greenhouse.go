package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jobgrid/pipeline-cli/internal/model"
)

const greenhouseBaseURL = "https://boards-api.greenhouse.io/v1/boards"

// Greenhouse fetches postings from the public Greenhouse board API. One
// adapter invocation serves every configured greenhouse source.
type Greenhouse struct {
	baseURL string
	http    *http.Client
}

// GreenhouseOption configures the adapter.
type GreenhouseOption func(*Greenhouse)

// WithGreenhouseBaseURL overrides the board API base URL.
func WithGreenhouseBaseURL(url string) GreenhouseOption {
	return func(g *Greenhouse) { g.baseURL = url }
}

// WithGreenhouseHTTPClient overrides the default http.Client.
func WithGreenhouseHTTPClient(hc *http.Client) GreenhouseOption {
	return func(g *Greenhouse) { g.http = hc }
}

// NewGreenhouse creates the greenhouse board adapter.
func NewGreenhouse(opts ...GreenhouseOption) *Greenhouse {
	g := &Greenhouse{
		baseURL: greenhouseBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Greenhouse) Name() string { return "greenhouse" }

type greenhouseJob struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	AbsoluteURL string `json:"absolute_url"`
	Content     string `json:"content"`
	UpdatedAt   string `json:"updated_at"`
	CompanyName string `json:"company_name"`
	Location    struct {
		Name string `json:"name"`
	} `json:"location"`
}

// Run fetches every configured board sequentially, reporting one term per
// board. A board failure fails the whole task only if no board succeeded.
func (g *Greenhouse) Run(ctx context.Context, args RunArgs) ([]model.DiscoveredItem, error) {
	var items []model.DiscoveredItem
	var lastErr error
	succeeded := 0

	for _, src := range args.Sources {
		if ctx.Err() != nil {
			return items, ctx.Err()
		}

		report(args.OnProgress, ProgressEvent{
			Source:     src.Name,
			Phase:      PhaseListing,
			CurrentURL: g.boardURL(src.Board),
			Counters:   model.SourceCounters{TermsTotal: 1},
		})

		boardItems, err := g.fetchBoard(ctx, src.Name, src.Board)
		if err != nil {
			zap.L().Warn("greenhouse board failed",
				zap.String("source", src.Name),
				zap.String("board", src.Board),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		succeeded++
		items = append(items, boardItems...)

		report(args.OnProgress, ProgressEvent{
			Source: src.Name,
			Phase:  PhaseDone,
			Counters: model.SourceCounters{
				TermsProcessed: 1,
				CardsFound:     len(boardItems),
				PagesProcessed: 1,
			},
		})
	}

	if succeeded == 0 && lastErr != nil {
		return nil, eris.Wrap(lastErr, "greenhouse: all boards failed")
	}
	return items, nil
}

func (g *Greenhouse) boardURL(board string) string {
	return fmt.Sprintf("%s/%s/jobs?content=true", g.baseURL, board)
}

func (g *Greenhouse) fetchBoard(ctx context.Context, sourceName, board string) ([]model.DiscoveredItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.boardURL(board), nil)
	if err != nil {
		return nil, eris.Wrap(err, "greenhouse: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "greenhouse: fetch board")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "greenhouse: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("greenhouse: board %s status %d", board, resp.StatusCode)
	}

	var envelope struct {
		Jobs []greenhouseJob `json:"jobs"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, eris.Wrap(err, "greenhouse: decode board")
	}

	items := make([]model.DiscoveredItem, 0, len(envelope.Jobs))
	for _, job := range envelope.Jobs {
		if job.AbsoluteURL == "" {
			continue
		}
		employer := job.CompanyName
		if employer == "" {
			employer = board
		}
		item := model.DiscoveredItem{
			Source:      sourceName,
			ExternalID:  fmt.Sprintf("greenhouse:%s:%d", board, job.ID),
			Title:       job.Title,
			Employer:    employer,
			URL:         job.AbsoluteURL,
			Description: job.Content,
			Location:    job.Location.Name,
		}
		if t, err := time.Parse(time.RFC3339, job.UpdatedAt); err == nil {
			item.PostedAt = &t
		}
		items = append(items, item)
	}
	return items, nil
}
