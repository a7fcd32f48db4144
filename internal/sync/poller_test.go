package sync_test

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/source"
	"github.com/nhle/mailwatch/internal/store"
	"github.com/nhle/mailwatch/internal/store/storetest"
	mwsync "github.com/nhle/mailwatch/internal/sync"
)

// fakeFetcher serves a fixed id list and per-id summaries.
type fakeFetcher struct {
	mu         gosync.Mutex
	ids        []string
	searchErr  error
	fetchErr   map[string]error
	missing    map[string]bool
	panicOn    map[string]bool
	fetchCalls []string
}

func newFakeFetcher(ids ...string) *fakeFetcher {
	return &fakeFetcher{
		ids:      ids,
		fetchErr: map[string]error{},
		missing:  map[string]bool{},
		panicOn:  map[string]bool{},
	}
}

func (f *fakeFetcher) Search(_ context.Context, query string, limit int) ([]string, error) {
	if f.searchErr != nil {
		return nil, &source.SearchError{Query: query, Err: f.searchErr}
	}
	if len(f.ids) > limit {
		return f.ids[:limit], nil
	}
	return f.ids, nil
}

func (f *fakeFetcher) Fetch(_ context.Context, id string) (*model.MessageSummary, error) {
	f.mu.Lock()
	f.fetchCalls = append(f.fetchCalls, id)
	f.mu.Unlock()

	if f.panicOn[id] {
		panic("malformed payload for " + id)
	}
	if err := f.fetchErr[id]; err != nil {
		return nil, &source.FetchError{ID: id, Err: err}
	}
	if f.missing[id] {
		return nil, nil
	}
	return &model.MessageSummary{ID: id, Subject: "subject " + id}, nil
}

// fakeNotifier records deliveries and fails ids listed in fail.
type fakeNotifier struct {
	mu        gosync.Mutex
	fail      map[string]bool
	delivered []string
	attempts  []string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{fail: map[string]bool{}}
}

func (n *fakeNotifier) Notify(_ context.Context, msg *model.MessageSummary) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts = append(n.attempts, msg.ID)
	if n.fail[msg.ID] {
		return false
	}
	n.delivered = append(n.delivered, msg.ID)
	return true
}

// brokenStore fails every operation.
type brokenStore struct {
	marks int
}

func (b *brokenStore) IsProcessed(context.Context, string) (bool, error) {
	return false, &store.PersistenceError{Op: "check", Err: errors.New("disk I/O error")}
}

func (b *brokenStore) MarkProcessed(context.Context, string) error {
	b.marks++
	return &store.PersistenceError{Op: "mark", Err: errors.New("disk I/O error")}
}

func newLoop(t *testing.T, f source.Fetcher, s mwsync.Deduper, n mwsync.Notifier) *mwsync.PollLoop {
	return mwsync.New(f, s, n, "is:unread", time.Millisecond, zaptest.NewLogger(t).Sugar())
}

func processed(t *testing.T, s *store.SQLiteStore, id string) bool {
	t.Helper()
	ok, err := s.IsProcessed(context.Background(), id)
	require.NoError(t, err)
	return ok
}

func TestRunCycle_DeliversNewMessagesInOrder(t *testing.T) {
	s := storetest.NewTestStore(t)
	f := newFakeFetcher("A", "B")
	n := newFakeNotifier()

	result := newLoop(t, f, s, n).RunCycle(context.Background())

	assert.Equal(t, []string{"A", "B"}, n.delivered)
	assert.True(t, processed(t, s, "A"))
	assert.True(t, processed(t, s, "B"))
	assert.Equal(t, 2, result.Found)
	assert.Equal(t, 2, result.Delivered)
	assert.NotEmpty(t, result.CycleID)
}

func TestRunCycle_SecondCycleSendsNothing(t *testing.T) {
	s := storetest.NewTestStore(t)
	f := newFakeFetcher("A", "B")
	n := newFakeNotifier()
	loop := newLoop(t, f, s, n)

	loop.RunCycle(context.Background())
	result := loop.RunCycle(context.Background())

	assert.Equal(t, []string{"A", "B"}, n.delivered)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 0, result.Delivered)
	assert.Equal(t, []string{"A", "B"}, f.fetchCalls, "processed ids are not fetched again")
}

func TestRunCycle_AlreadyProcessedMessageIsNotResent(t *testing.T) {
	s := storetest.NewTestStore(t)
	require.NoError(t, s.MarkProcessed(context.Background(), "A"))

	f := newFakeFetcher("A", "B")
	n := newFakeNotifier()

	result := newLoop(t, f, s, n).RunCycle(context.Background())

	assert.Equal(t, 2, result.Found)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, []string{"B"}, n.delivered)
	assert.Equal(t, []string{"B"}, f.fetchCalls)
	assert.True(t, processed(t, s, "A"))
	assert.True(t, processed(t, s, "B"))
}

func TestRunCycle_FailedDeliveryRetriedNextCycle(t *testing.T) {
	s := storetest.NewTestStore(t)
	f := newFakeFetcher("D")
	n := newFakeNotifier()
	n.fail["D"] = true
	loop := newLoop(t, f, s, n)

	result := loop.RunCycle(context.Background())
	assert.Equal(t, 1, result.Failed)
	assert.False(t, processed(t, s, "D"), "undelivered message must stay unmarked")

	n.fail["D"] = false
	result = loop.RunCycle(context.Background())
	assert.Equal(t, 1, result.Delivered)
	assert.True(t, processed(t, s, "D"))
	assert.Equal(t, []string{"D", "D"}, n.attempts)
}

func TestRunCycle_MarkOnlyAfterDelivery(t *testing.T) {
	s := storetest.NewTestStore(t)
	f := newFakeFetcher("A", "B")
	n := newFakeNotifier()
	n.fail["A"] = true

	newLoop(t, f, s, n).RunCycle(context.Background())

	assert.False(t, processed(t, s, "A"))
	assert.True(t, processed(t, s, "B"))
}

func TestRunCycle_SearchErrorAbortsCycle(t *testing.T) {
	s := storetest.NewTestStore(t)
	f := newFakeFetcher("A")
	f.searchErr = errors.New("backend unavailable")
	n := newFakeNotifier()

	result := newLoop(t, f, s, n).RunCycle(context.Background())

	assert.Equal(t, 0, result.Found)
	assert.Empty(t, f.fetchCalls)
	assert.Empty(t, n.attempts)
}

func TestRunCycle_UnavailableAndFailedFetchesAreSkipped(t *testing.T) {
	s := storetest.NewTestStore(t)
	f := newFakeFetcher("gone", "broken", "ok")
	f.missing["gone"] = true
	f.fetchErr["broken"] = errors.New("timeout")
	n := newFakeNotifier()

	result := newLoop(t, f, s, n).RunCycle(context.Background())

	assert.Equal(t, []string{"ok"}, n.delivered)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Failed)
	assert.False(t, processed(t, s, "gone"))
	assert.False(t, processed(t, s, "broken"))
}

func TestRunCycle_StoreErrorTreatedAsUnprocessed(t *testing.T) {
	s := &brokenStore{}
	f := newFakeFetcher("A")
	n := newFakeNotifier()

	result := newLoop(t, f, s, n).RunCycle(context.Background())

	assert.Equal(t, []string{"A"}, n.delivered)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 1, s.marks)
}

func TestRunCycle_PanicInOneMessageIsContained(t *testing.T) {
	s := storetest.NewTestStore(t)
	f := newFakeFetcher("A", "bad", "B")
	f.panicOn["bad"] = true
	n := newFakeNotifier()

	var result model.PollCycleResult
	require.NotPanics(t, func() {
		result = newLoop(t, f, s, n).RunCycle(context.Background())
	})

	assert.Equal(t, []string{"A", "B"}, n.delivered)
	assert.Equal(t, 1, result.Failed)
	assert.False(t, processed(t, s, "bad"))
}

type panickingFetcher struct{}

func (panickingFetcher) Search(context.Context, string, int) ([]string, error) {
	panic("search exploded")
}

func (panickingFetcher) Fetch(context.Context, string) (*model.MessageSummary, error) {
	return nil, nil
}

func TestRunCycle_PanicInSearchIsContained(t *testing.T) {
	loop := newLoop(t, panickingFetcher{}, storetest.NewTestStore(t), newFakeNotifier())

	require.NotPanics(t, func() { loop.RunCycle(context.Background()) })
	assert.Equal(t, mwsync.LoopIdle, loop.Status().State)
}

func TestRunCycle_SearchLimitBoundsWork(t *testing.T) {
	ids := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		ids = append(ids, fmt.Sprintf("m%02d", i))
	}
	s := storetest.NewTestStore(t)
	n := newFakeNotifier()

	result := newLoop(t, newFakeFetcher(ids...), s, n).RunCycle(context.Background())

	assert.Equal(t, source.SearchLimit, result.Found)
	assert.Len(t, n.delivered, source.SearchLimit)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := storetest.NewTestStore(t)
	f := newFakeFetcher("A")
	n := newFakeNotifier()
	loop := newLoop(t, f, s, n)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		return len(n.delivered) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}

	assert.Equal(t, []string{"A"}, n.delivered)
	assert.False(t, loop.Status().LastRun.IsZero())
}
