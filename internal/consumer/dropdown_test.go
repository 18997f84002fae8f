package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitalerts/internal/notification"
)

var base = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func note(i int, read bool) *notification.Notification {
	return &notification.Notification{
		ID:        fmt.Sprintf("n-%02d", i),
		Scope:     notification.ScopeAdmins,
		Type:      notification.TypeApplicationSubmitted,
		Title:     "New trainer application",
		Payload:   notification.ApplicationPayload{ApplicationID: fmt.Sprintf("a-%d", i)},
		IsRead:    read,
		CreatedAt: base.Add(time.Duration(i) * time.Minute),
	}
}

type fakeAPI struct {
	mu          sync.Mutex
	backlog     []*notification.Notification
	fetchErr    error
	markErr     error
	fetchGate   chan struct{}
	markGate    chan struct{}
	fetchCalls  int
	markCalls   [][]string
	markAllCall int
}

func (f *fakeAPI) Fetch(ctx context.Context) (*notification.Backlog, error) {
	f.mu.Lock()
	f.fetchCalls++
	gate := f.fetchGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	list := make([]*notification.Notification, len(f.backlog))
	for i, n := range f.backlog {
		list[i] = n.Clone()
	}
	notification.SortNewestFirst(list)
	return &notification.Backlog{Notifications: list, UnreadCount: notification.CountUnread(list)}, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, ids []string) error {
	f.mu.Lock()
	f.markCalls = append(f.markCalls, ids)
	gate := f.markGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markErr
}

func (f *fakeAPI) MarkAllRead(ctx context.Context) error {
	f.mu.Lock()
	f.markAllCall++
	gate := f.markGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markErr
}

func ids(v View) []string {
	out := make([]string, len(v.Rows))
	for i, r := range v.Rows {
		out[i] = r.Notification.ID
	}
	return out
}

func assertDerivedUnread(t *testing.T, v View) {
	t.Helper()
	unread := 0
	for _, r := range v.Rows {
		if !r.Notification.IsRead {
			unread++
		}
	}
	assert.Equal(t, unread, v.UnreadCount)
}

func TestOpenLoadsBacklogNewestFirst(t *testing.T) {
	api := &fakeAPI{backlog: []*notification.Notification{note(1, false), note(3, true), note(2, false)}}
	d := NewDropdown(api)
	assert.Equal(t, StateClosed, d.State())

	require.NoError(t, d.Open(context.Background()))

	v := d.View()
	assert.Equal(t, StateOpen, v.State)
	assert.Equal(t, []string{"n-03", "n-02", "n-01"}, ids(v))
	assert.Equal(t, 2, v.UnreadCount)
	assert.NoError(t, v.Err)

	// already open
	require.NoError(t, d.Open(context.Background()))
	assert.Equal(t, 1, api.fetchCalls)
}

func TestPushesWhileLoadingAreMergedWithoutDuplicates(t *testing.T) {
	api := &fakeAPI{
		backlog:   []*notification.Notification{note(1, false), note(2, true)},
		fetchGate: make(chan struct{}),
	}
	d := NewDropdown(api)

	done := make(chan error)
	go func() { done <- d.Open(context.Background()) }()
	require.Eventually(t, func() bool { return d.State() == StateLoading }, time.Second, time.Millisecond)

	// one push the fetch will also return, one it will not
	d.Push(note(2, false))
	d.Push(note(3, false))
	d.Push(note(3, false))
	assert.Empty(t, d.View().Rows)

	close(api.fetchGate)
	require.NoError(t, <-done)

	v := d.View()
	assert.Equal(t, []string{"n-03", "n-02", "n-01"}, ids(v))
	// the fetched copy of n-02 carries the server's read state
	assert.True(t, v.Rows[1].Notification.IsRead)
	assert.Equal(t, 2, v.UnreadCount)
	assertDerivedUnread(t, v)
}

func TestPushWhileOpenPrepends(t *testing.T) {
	api := &fakeAPI{backlog: []*notification.Notification{note(1, false)}}
	d := NewDropdown(api)
	require.NoError(t, d.Open(context.Background()))

	d.Push(note(2, false))
	v := d.View()
	assert.Equal(t, []string{"n-02", "n-01"}, ids(v))
	assert.Equal(t, 2, v.UnreadCount)

	d.Push(note(2, false))
	d.Push(nil)
	assert.Len(t, d.View().Rows, 2)
	assert.Equal(t, 1, api.fetchCalls)
}

func TestPushWhileClosedKeepsBadgeCurrent(t *testing.T) {
	api := &fakeAPI{backlog: []*notification.Notification{note(1, false)}}
	d := NewDropdown(api)
	require.NoError(t, d.Open(context.Background()))
	d.Close()

	d.Push(note(2, false))
	assert.Equal(t, 2, d.UnreadCount())
	assert.Equal(t, StateClosed, d.State())
}

func TestMarkReadIsOptimistic(t *testing.T) {
	api := &fakeAPI{backlog: []*notification.Notification{note(1, false), note(2, false)}, markGate: make(chan struct{})}
	d := NewDropdown(api)
	require.NoError(t, d.Open(context.Background()))

	done := make(chan error)
	go func() { done <- d.MarkRead(context.Background(), "n-01") }()

	require.Eventually(t, func() bool { return d.UnreadCount() == 1 }, time.Second, time.Millisecond)
	v := d.View()
	assert.Equal(t, MutationPending, v.Rows[1].Mutation)
	assert.True(t, v.Rows[1].Notification.IsRead)

	close(api.markGate)
	require.NoError(t, <-done)

	v = d.View()
	assert.Equal(t, MutationIdle, v.Rows[1].Mutation)
	assert.Equal(t, 1, v.UnreadCount)
	assert.Equal(t, [][]string{{"n-01"}}, api.markCalls)
}

func TestMarkReadRevertsOnFailure(t *testing.T) {
	boom := errors.New("server unavailable")
	api := &fakeAPI{backlog: []*notification.Notification{note(1, false)}, markErr: boom}
	d := NewDropdown(api)
	require.NoError(t, d.Open(context.Background()))

	err := d.MarkRead(context.Background(), "n-01")
	assert.ErrorIs(t, err, boom)

	v := d.View()
	assert.False(t, v.Rows[0].Notification.IsRead)
	assert.Equal(t, MutationFailed, v.Rows[0].Mutation)
	assert.Equal(t, 1, v.UnreadCount)
	assert.ErrorIs(t, v.Err, boom)

	d.ClearError()
	assert.NoError(t, d.View().Err)

	// a failed row can be retried
	api.markErr = nil
	require.NoError(t, d.MarkRead(context.Background(), "n-01"))
	assert.Zero(t, d.UnreadCount())
}

func TestMarkReadIsANoOpForReadOrUnknownRows(t *testing.T) {
	api := &fakeAPI{backlog: []*notification.Notification{note(1, true)}}
	d := NewDropdown(api)
	require.NoError(t, d.Open(context.Background()))

	require.NoError(t, d.MarkRead(context.Background(), "n-01"))
	require.NoError(t, d.MarkRead(context.Background(), "missing"))
	assert.Empty(t, api.markCalls)
}

func TestMarkAllReadFlipsAndRevertsInOneStep(t *testing.T) {
	api := &fakeAPI{backlog: []*notification.Notification{note(1, false), note(2, false), note(3, true)}}

	var mu sync.Mutex
	var seen []int
	d := NewDropdown(api, WithOnChange(func(v View) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, v.UnreadCount)
	}))
	require.NoError(t, d.Open(context.Background()))

	api.markErr = errors.New("timeout")
	err := d.MarkAllRead(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, d.UnreadCount())

	api.markErr = nil
	require.NoError(t, d.MarkAllRead(context.Background()))
	assert.Zero(t, d.UnreadCount())

	// nothing left to flip
	require.NoError(t, d.MarkAllRead(context.Background()))
	assert.Equal(t, 2, api.markAllCall)

	mu.Lock()
	defer mu.Unlock()
	for _, unread := range seen[1:] {
		assert.Contains(t, []int{0, 2}, unread, "no partial state is ever observed")
	}
}

func TestFetchFailureDegradesToEmptyList(t *testing.T) {
	boom := errors.New("connection refused")
	api := &fakeAPI{backlog: []*notification.Notification{note(1, false)}, fetchErr: boom}
	d := NewDropdown(api)

	err := d.Open(context.Background())
	assert.ErrorIs(t, err, boom)

	v := d.View()
	assert.Equal(t, StateOpen, v.State)
	assert.Empty(t, v.Rows)
	assert.Zero(t, v.UnreadCount)
	assert.ErrorIs(t, v.Err, boom)

	// pushes still show up
	d.Push(note(2, false))
	assert.Equal(t, 1, d.UnreadCount())

	api.fetchErr = nil
	require.NoError(t, d.Refresh(context.Background()))
	v = d.View()
	assert.Equal(t, []string{"n-01"}, ids(v))
	assert.NoError(t, v.Err)
}

func TestCloseWhileLoadingStillUpdatesBadge(t *testing.T) {
	api := &fakeAPI{backlog: []*notification.Notification{note(1, false)}, fetchGate: make(chan struct{})}
	d := NewDropdown(api)

	done := make(chan error)
	go func() { done <- d.Open(context.Background()) }()
	require.Eventually(t, func() bool { return d.State() == StateLoading }, time.Second, time.Millisecond)

	d.Close()
	d.Push(note(2, false))
	close(api.fetchGate)
	require.NoError(t, <-done)

	v := d.View()
	assert.Equal(t, StateClosed, v.State)
	assert.Equal(t, []string{"n-02", "n-01"}, ids(v))
	assert.Equal(t, 2, v.UnreadCount)
}

func TestRefreshWhileClosedStaysClosed(t *testing.T) {
	api := &fakeAPI{backlog: []*notification.Notification{note(1, false), note(2, true)}}

	var mu sync.Mutex
	var states []State
	d := NewDropdown(api, WithOnChange(func(v View) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, v.State)
	}))

	require.NoError(t, d.Refresh(context.Background()))

	v := d.View()
	assert.Equal(t, StateClosed, v.State)
	assert.Equal(t, []string{"n-02", "n-01"}, ids(v))
	assert.Equal(t, 1, v.UnreadCount)

	mu.Lock()
	for _, s := range states {
		assert.Equal(t, StateClosed, s)
	}
	mu.Unlock()

	// opening later replaces the rows with a fresh backlog
	api.mu.Lock()
	api.backlog = append(api.backlog, note(3, false))
	api.mu.Unlock()
	require.NoError(t, d.Open(context.Background()))
	assert.Equal(t, 2, d.UnreadCount())
	assert.Equal(t, StateOpen, d.State())
}

func TestRefreshWhileClosedKeepsRowsOnFailure(t *testing.T) {
	api := &fakeAPI{backlog: []*notification.Notification{note(1, false)}}
	d := NewDropdown(api)
	require.NoError(t, d.Refresh(context.Background()))

	boom := errors.New("connection refused")
	api.mu.Lock()
	api.fetchErr = boom
	api.fetchGate = make(chan struct{})
	gate := api.fetchGate
	api.mu.Unlock()

	done := make(chan error)
	go func() { done <- d.Refresh(context.Background()) }()
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.fetchCalls == 2
	}, time.Second, time.Millisecond)

	d.Push(note(2, false))
	close(gate)
	assert.ErrorIs(t, <-done, boom)

	v := d.View()
	assert.Equal(t, StateClosed, v.State)
	assert.Equal(t, []string{"n-02", "n-01"}, ids(v))
	assert.ErrorIs(t, v.Err, boom)
}

func TestRefreshKeepsPendingReads(t *testing.T) {
	api := &fakeAPI{backlog: []*notification.Notification{note(1, false)}}
	d := NewDropdown(api)
	require.NoError(t, d.Open(context.Background()))

	gate := make(chan struct{})
	api.mu.Lock()
	api.markGate = gate
	api.mu.Unlock()

	done := make(chan error)
	go func() { done <- d.MarkRead(context.Background(), "n-01") }()
	require.Eventually(t, func() bool { return d.UnreadCount() == 0 }, time.Second, time.Millisecond)

	// the server has not applied the read yet
	require.NoError(t, d.Refresh(context.Background()))
	assert.Zero(t, d.UnreadCount())

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, MutationIdle, d.View().Rows[0].Mutation)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "open", StateOpen.String())
}

func TestMarkAllReadSettlesRowsPushedDuringRequest(t *testing.T) {
	api := &fakeAPI{backlog: []*notification.Notification{note(1, false)}}
	d := NewDropdown(api)
	d.now = func() time.Time { return base.Add(time.Hour) }
	require.NoError(t, d.Open(context.Background()))

	gate := make(chan struct{})
	api.mu.Lock()
	api.markGate = gate
	api.mu.Unlock()

	done := make(chan error)
	go func() { done <- d.MarkAllRead(context.Background()) }()
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.markAllCall == 1
	}, time.Second, time.Millisecond)

	// created before the request, so the server flips it too
	d.Push(note(2, false))
	// created after the request, so it stays unread
	late := note(3, false)
	late.CreatedAt = base.Add(2 * time.Hour)
	d.Push(late)
	assert.Equal(t, 2, d.UnreadCount())

	close(gate)
	require.NoError(t, <-done)

	v := d.View()
	assert.Equal(t, 1, v.UnreadCount)
	for _, r := range v.Rows {
		assert.Equal(t, r.Notification.ID == late.ID, !r.Notification.IsRead, r.Notification.ID)
		assert.Equal(t, MutationIdle, r.Mutation)
	}
}
