package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobgrid/pipeline-cli/internal/config"
)

func greenhouseBoard(jobs ...string) string {
	return fmt.Sprintf(`{"jobs": [%s]}`, joinJSON(jobs))
}

func joinJSON(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

// collectProgress returns a concurrency-safe ProgressFunc and drain func.
func collectProgress() (ProgressFunc, func() []ProgressEvent) {
	var mu sync.Mutex
	var events []ProgressEvent
	fn := func(ev ProgressEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}
	return fn, func() []ProgressEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]ProgressEvent(nil), events...)
	}
}

func TestGreenhouse_FetchesConfiguredBoards(t *testing.T) {
	boards := map[string]string{
		"/acme/jobs": greenhouseBoard(
			`{"id": 1, "title": "Backend Engineer", "absolute_url": "https://boards.example.com/acme/1",
			  "content": "Go services", "updated_at": "2026-08-01T10:00:00Z", "company_name": "Acme Corp",
			  "location": {"name": "Zurich"}}`,
			`{"id": 2, "title": "SRE", "absolute_url": "https://boards.example.com/acme/2",
			  "location": {"name": "Remote"}}`,
		),
		"/globex/jobs": greenhouseBoard(
			`{"id": 9, "title": "Data Engineer", "absolute_url": "https://boards.example.com/globex/9",
			  "location": {"name": "Berlin"}}`,
		),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := boards[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "true", r.URL.Query().Get("content"))
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	onProgress, drain := collectProgress()
	adapter := NewGreenhouse(WithGreenhouseBaseURL(srv.URL))
	items, err := adapter.Run(context.Background(), RunArgs{
		Sources: []config.SourceConfig{
			{Name: "acme", Adapter: "greenhouse", Board: "acme"},
			{Name: "globex", Adapter: "greenhouse", Board: "globex"},
		},
		OnProgress: onProgress,
	})
	require.NoError(t, err)
	require.Len(t, items, 3)

	first := items[0]
	assert.Equal(t, "acme", first.Source)
	assert.Equal(t, "greenhouse:acme:1", first.ExternalID)
	assert.Equal(t, "Backend Engineer", first.Title)
	assert.Equal(t, "Acme Corp", first.Employer)
	assert.Equal(t, "Zurich", first.Location)
	require.NotNil(t, first.PostedAt)
	assert.Equal(t, 2026, first.PostedAt.Year())

	// Missing company_name falls back to the board slug; missing
	// updated_at leaves PostedAt nil.
	second := items[1]
	assert.Equal(t, "acme", second.Employer)
	assert.Nil(t, second.PostedAt)

	events := drain()
	require.Len(t, events, 4)
	assert.Equal(t, PhaseListing, events[0].Phase)
	assert.Equal(t, 1, events[0].Counters.TermsTotal)
	assert.Equal(t, PhaseDone, events[1].Phase)
	assert.Equal(t, 2, events[1].Counters.CardsFound)
	assert.Equal(t, "globex", events[2].Source)
}

func TestGreenhouse_SkipsJobsWithoutURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, greenhouseBoard(
			`{"id": 1, "title": "Ghost", "absolute_url": ""}`,
			`{"id": 2, "title": "Real", "absolute_url": "https://boards.example.com/x/2"}`,
		))
	}))
	defer srv.Close()

	adapter := NewGreenhouse(WithGreenhouseBaseURL(srv.URL))
	items, err := adapter.Run(context.Background(), RunArgs{
		Sources: []config.SourceConfig{{Name: "x", Board: "x"}},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Real", items[0].Title)
}

func TestGreenhouse_BoardFailureIsSkippedWhenOthersSucceed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken/jobs" {
			http.Error(w, "upstream error", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, greenhouseBoard(`{"id": 5, "title": "Engineer", "absolute_url": "https://boards.example.com/ok/5"}`))
	}))
	defer srv.Close()

	adapter := NewGreenhouse(WithGreenhouseBaseURL(srv.URL))
	items, err := adapter.Run(context.Background(), RunArgs{
		Sources: []config.SourceConfig{
			{Name: "broken", Board: "broken"},
			{Name: "ok", Board: "ok"},
		},
	})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestGreenhouse_AllBoardsFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	adapter := NewGreenhouse(WithGreenhouseBaseURL(srv.URL))
	_, err := adapter.Run(context.Background(), RunArgs{
		Sources: []config.SourceConfig{{Name: "a", Board: "a"}, {Name: "b", Board: "b"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all boards failed")
}

func TestGreenhouse_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	}))
	defer srv.Close()

	adapter := NewGreenhouse(WithGreenhouseBaseURL(srv.URL))
	_, err := adapter.Run(context.Background(), RunArgs{
		Sources: []config.SourceConfig{{Name: "a", Board: "a"}},
	})
	require.Error(t, err)
}

func TestGreenhouse_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adapter := NewGreenhouse()
	_, err := adapter.Run(ctx, RunArgs{
		Sources: []config.SourceConfig{{Name: "a", Board: "a"}},
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRegistry(t *testing.T) {
	reg := DefaultRegistry()

	gh, err := reg.Get("greenhouse")
	require.NoError(t, err)
	assert.Equal(t, "greenhouse", gh.Name())

	lv, err := reg.Get("lever")
	require.NoError(t, err)
	assert.Equal(t, "lever", lv.Name())

	_, err = reg.Get("monster")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown adapter")
}
