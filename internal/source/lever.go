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

const leverBaseURL = "https://api.lever.co/v0/postings"

// Lever fetches postings from the public Lever postings API.
type Lever struct {
	baseURL string
	http    *http.Client
}

// LeverOption configures the adapter.
type LeverOption func(*Lever)

// WithLeverBaseURL overrides the postings API base URL.
func WithLeverBaseURL(url string) LeverOption {
	return func(l *Lever) { l.baseURL = url }
}

// WithLeverHTTPClient overrides the default http.Client.
func WithLeverHTTPClient(hc *http.Client) LeverOption {
	return func(l *Lever) { l.http = hc }
}

// NewLever creates the lever postings adapter.
func NewLever(opts ...LeverOption) *Lever {
	l := &Lever{
		baseURL: leverBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Lever) Name() string { return "lever" }

type leverPosting struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	HostedURL  string `json:"hostedUrl"`
	CreatedAt  int64  `json:"createdAt"` // ms epoch
	Categories struct {
		Location string `json:"location"`
		Team     string `json:"team"`
	} `json:"categories"`
	DescriptionPlain string `json:"descriptionPlain"`
}

// Run fetches every configured org sequentially, one term per org.
func (l *Lever) Run(ctx context.Context, args RunArgs) ([]model.DiscoveredItem, error) {
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
			CurrentURL: l.postingsURL(src.Board),
			Counters:   model.SourceCounters{TermsTotal: 1},
		})

		orgItems, err := l.fetchOrg(ctx, src.Name, src.Board)
		if err != nil {
			zap.L().Warn("lever org failed",
				zap.String("source", src.Name),
				zap.String("org", src.Board),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		succeeded++
		items = append(items, orgItems...)

		report(args.OnProgress, ProgressEvent{
			Source: src.Name,
			Phase:  PhaseDone,
			Counters: model.SourceCounters{
				TermsProcessed: 1,
				CardsFound:     len(orgItems),
				PagesProcessed: 1,
			},
		})
	}

	if succeeded == 0 && lastErr != nil {
		return nil, eris.Wrap(lastErr, "lever: all orgs failed")
	}
	return items, nil
}

func (l *Lever) postingsURL(org string) string {
	return fmt.Sprintf("%s/%s?mode=json", l.baseURL, org)
}

func (l *Lever) fetchOrg(ctx context.Context, sourceName, org string) ([]model.DiscoveredItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.postingsURL(org), nil)
	if err != nil {
		return nil, eris.Wrap(err, "lever: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "lever: fetch postings")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "lever: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("lever: org %s status %d", org, resp.StatusCode)
	}

	var postings []leverPosting
	if err := json.Unmarshal(body, &postings); err != nil {
		return nil, eris.Wrap(err, "lever: decode postings")
	}

	items := make([]model.DiscoveredItem, 0, len(postings))
	for _, p := range postings {
		if p.HostedURL == "" {
			continue
		}
		item := model.DiscoveredItem{
			Source:      sourceName,
			ExternalID:  "lever:" + org + ":" + p.ID,
			Title:       p.Text,
			Employer:    org,
			URL:         p.HostedURL,
			Description: p.DescriptionPlain,
			Location:    p.Categories.Location,
		}
		if p.CreatedAt > 0 {
			t := time.UnixMilli(p.CreatedAt).UTC()
			item.PostedAt = &t
		}
		items = append(items, item)
	}
	return items, nil
}
