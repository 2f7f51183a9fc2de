package scoring

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/jobgrid/pipeline-cli/internal/ai"
	"github.com/jobgrid/pipeline-cli/internal/model"
	"github.com/jobgrid/pipeline-cli/internal/store"
)

type mockCaller struct {
	mock.Mock
}

func (m *mockCaller) CallStructured(ctx context.Context, req ai.Request) (json.RawMessage, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

// fakeStore records item updates and stubs the rest of the store surface.
type fakeStore struct {
	mu      sync.Mutex
	updates map[string][]store.ItemUpdate
	failFor map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		updates: make(map[string][]store.ItemUpdate),
		failFor: make(map[string]error),
	}
}

func (f *fakeStore) UpdateItem(_ context.Context, itemID string, update store.ItemUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[itemID]; ok {
		return err
	}
	f.updates[itemID] = append(f.updates[itemID], update)
	return nil
}

func (f *fakeStore) updatesFor(itemID string) []store.ItemUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates[itemID]
}

func (f *fakeStore) lastUpdate(itemID string) (store.ItemUpdate, bool) {
	ups := f.updatesFor(itemID)
	if len(ups) == 0 {
		return store.ItemUpdate{}, false
	}
	return ups[len(ups)-1], true
}

func (f *fakeStore) CreateRun(context.Context, *model.Run) error  { return nil }
func (f *fakeStore) FinishRun(context.Context, *model.Run) error  { return nil }
func (f *fakeStore) GetRun(context.Context, string) (*model.Run, error) {
	return nil, nil
}
func (f *fakeStore) ListRuns(context.Context, int) ([]model.Run, error) { return nil, nil }
func (f *fakeStore) GetAllKnownURLs(context.Context) ([]string, error)  { return nil, nil }
func (f *fakeStore) CreateItems(context.Context, []model.DiscoveredItem) (store.CreateResult, error) {
	return store.CreateResult{}, nil
}
func (f *fakeStore) GetUnscoredItems(context.Context) ([]model.ScoredItem, error) {
	return nil, nil
}
func (f *fakeStore) ListItems(context.Context, store.ItemFilter) ([]model.ScoredItem, error) {
	return nil, nil
}
func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Close() error                  { return nil }

// fixedMatcher always reports the same sponsor.
type fixedMatcher struct {
	name string
}

func (m fixedMatcher) Match(string) (string, bool) {
	if m.name == "" {
		return "", false
	}
	return m.name, true
}
