package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobgrid/pipeline-cli/internal/model"
)

func TestWebhook_DeliversRunPayload(t *testing.T) {
	var (
		gotPath        string
		gotContentType string
		gotBody        []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	run := model.Run{
		ID:         "run-1",
		Status:     model.RunStatusCompleted,
		Discovered: 12,
		Processed:  5,
		StartedAt:  time.Now().UTC(),
	}

	NewWebhook(srv.URL+"/hooks/runs", time.Second).RunFinished(context.Background(), run)

	assert.Equal(t, "/hooks/runs", gotPath)
	assert.Equal(t, "application/json", gotContentType)

	var p payload
	require.NoError(t, json.Unmarshal(gotBody, &p))
	assert.Equal(t, "run.finished", p.Event)
	assert.Equal(t, "run-1", p.Run.ID)
	assert.Equal(t, model.RunStatusCompleted, p.Run.Status)
	assert.Equal(t, 12, p.Run.Discovered)
}

func TestWebhook_ServerErrorIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	// Must not panic or block; failures are log-only.
	NewWebhook(srv.URL, time.Second).RunFinished(context.Background(), model.Run{ID: "run-2"})
}

func TestWebhook_UnreachableEndpointIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	NewWebhook(srv.URL, 100*time.Millisecond).RunFinished(context.Background(), model.Run{ID: "run-3"})
}

func TestNewWebhook_DefaultTimeout(t *testing.T) {
	w := NewWebhook("http://localhost:1", 0)
	assert.Equal(t, 10*time.Second, w.client.Timeout)
}
