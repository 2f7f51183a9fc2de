package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobgrid/pipeline-cli/internal/config"
)

func TestLever_FetchesConfiguredOrgs(t *testing.T) {
	created := time.Date(2026, 7, 15, 9, 30, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/acme", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("mode"))
		fmt.Fprintf(w, `[
			{"id": "p-1", "text": "Platform Engineer", "hostedUrl": "https://jobs.example.com/acme/p-1",
			 "createdAt": %d, "categories": {"location": "Amsterdam", "team": "Infra"},
			 "descriptionPlain": "Kubernetes and Go"},
			{"id": "p-2", "text": "No URL posting", "hostedUrl": ""}
		]`, created.UnixMilli())
	}))
	defer srv.Close()

	onProgress, drain := collectProgress()
	adapter := NewLever(WithLeverBaseURL(srv.URL))
	items, err := adapter.Run(context.Background(), RunArgs{
		Sources:    []config.SourceConfig{{Name: "acme", Adapter: "lever", Board: "acme"}},
		OnProgress: onProgress,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, "acme", item.Source)
	assert.Equal(t, "lever:acme:p-1", item.ExternalID)
	assert.Equal(t, "Platform Engineer", item.Title)
	assert.Equal(t, "acme", item.Employer)
	assert.Equal(t, "Amsterdam", item.Location)
	assert.Equal(t, "Kubernetes and Go", item.Description)
	require.NotNil(t, item.PostedAt)
	assert.True(t, item.PostedAt.Equal(created))

	events := drain()
	require.Len(t, events, 2)
	assert.Equal(t, PhaseListing, events[0].Phase)
	assert.Equal(t, PhaseDone, events[1].Phase)
	assert.Equal(t, 1, events[1].Counters.CardsFound)
}

func TestLever_ZeroCreatedAtLeavesPostedAtNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id": "p-1", "text": "Engineer", "hostedUrl": "https://jobs.example.com/x/p-1"}]`)
	}))
	defer srv.Close()

	adapter := NewLever(WithLeverBaseURL(srv.URL))
	items, err := adapter.Run(context.Background(), RunArgs{
		Sources: []config.SourceConfig{{Name: "x", Board: "x"}},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].PostedAt)
}

func TestLever_AllOrgsFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	adapter := NewLever(WithLeverBaseURL(srv.URL))
	_, err := adapter.Run(context.Background(), RunArgs{
		Sources: []config.SourceConfig{{Name: "gone", Board: "gone"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all orgs failed")
}

func TestLever_PartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `[{"id": "p-9", "text": "Engineer", "hostedUrl": "https://jobs.example.com/good/p-9"}]`)
	}))
	defer srv.Close()

	adapter := NewLever(WithLeverBaseURL(srv.URL))
	items, err := adapter.Run(context.Background(), RunArgs{
		Sources: []config.SourceConfig{
			{Name: "bad", Board: "bad"},
			{Name: "good", Board: "good"},
		},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "good", items[0].Source)
}
