// Package consumer models the notification dropdown a signed-in user sees:
// the badge count, the list, and read mutations applied optimistically.
package consumer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fitalerts/internal/notification"
)

type State int

const (
	StateClosed State = iota
	StateLoading
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateLoading:
		return "loading"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Mutation tracks a row's read mutation that has not been confirmed yet.
type Mutation int

const (
	MutationIdle Mutation = iota
	MutationPending
	MutationFailed
)

// API is the server surface the dropdown needs. Client implements it over
// HTTP.
type API interface {
	Fetch(ctx context.Context) (*notification.Backlog, error)
	MarkRead(ctx context.Context, ids []string) error
	MarkAllRead(ctx context.Context) error
}

type Row struct {
	Notification *notification.Notification
	Mutation     Mutation
}

// View is a snapshot safe to render from another goroutine.
type View struct {
	State       State
	Rows        []Row
	UnreadCount int
	Err         error
}

type row struct {
	n        *notification.Notification
	mutation Mutation
}

// Dropdown is safe for concurrent use. API calls are never made while its
// lock is held.
type Dropdown struct {
	api API

	mu       sync.Mutex
	state    State
	rows     []*row
	byID     map[string]*row
	buffered []*notification.Notification
	loading  bool
	loadSeq  uint64
	err      error
	onChange func(View)
	now      func() time.Time
}

type DropdownOption func(*Dropdown)

// WithOnChange registers a callback run after every state change. It runs
// outside the lock.
func WithOnChange(fn func(View)) DropdownOption {
	return func(d *Dropdown) {
		d.onChange = fn
	}
}

func NewDropdown(api API, opts ...DropdownOption) *Dropdown {
	d := &Dropdown{
		api:  api,
		byID: make(map[string]*row),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open moves a closed dropdown to loading, fetches the backlog and opens it.
// A fetch error leaves the dropdown open with whatever was pushed meanwhile
// and is exposed through View().Err; it is also returned.
func (d *Dropdown) Open(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateClosed {
		d.mu.Unlock()
		return nil
	}
	d.state = StateLoading
	seq := d.startLoadLocked()
	d.mu.Unlock()
	d.changed()

	return d.load(ctx, seq)
}

// Refresh re-pulls the backlog, typically after the realtime connection
// came back. An open dropdown shows loading while it runs. A closed one
// stays closed and only its rows, and so the badge, are updated.
func (d *Dropdown) Refresh(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case StateLoading:
		d.mu.Unlock()
		return nil
	case StateOpen:
		d.state = StateLoading
	}
	seq := d.startLoadLocked()
	d.mu.Unlock()
	d.changed()

	return d.load(ctx, seq)
}

// startLoadLocked supersedes any fetch in flight. Pushes already buffered
// are kept for the next merge.
func (d *Dropdown) startLoadLocked() uint64 {
	d.loading = true
	d.loadSeq++
	return d.loadSeq
}

func (d *Dropdown) load(ctx context.Context, seq uint64) error {
	backlog, err := d.api.Fetch(ctx)

	d.mu.Lock()
	if d.loadSeq != seq || !d.loading {
		// superseded while the fetch was in flight
		d.mu.Unlock()
		return nil
	}

	visible := d.state == StateLoading
	switch {
	case err == nil:
		d.err = nil
		d.mergeLocked(backlog.Notifications, true)
	case visible:
		slog.Warn("failed to fetch notifications", "error", err)
		d.err = err
		d.mergeLocked(nil, false)
	default:
		// a closed dropdown keeps the rows it already has
		slog.Warn("failed to refresh notifications", "error", err)
		d.err = err
		for _, n := range d.buffered {
			d.addLocked(n)
		}
		d.buffered = nil
	}
	d.loading = false
	if visible {
		d.state = StateOpen
	}
	d.mu.Unlock()
	d.changed()

	return err
}

// mergeLocked replaces the list with fetched plus anything pushed while
// loading. The fetched copy wins for ids present in both. Rows with an
// unconfirmed read keep showing as read. On a failed fetch the list is
// rebuilt from buffered pushes only.
func (d *Dropdown) mergeLocked(fetched []*notification.Notification, ok bool) {
	previous := d.byID

	d.rows = make([]*row, 0, len(fetched)+len(d.buffered))
	d.byID = make(map[string]*row, len(fetched)+len(d.buffered))

	add := func(n *notification.Notification) {
		if _, dup := d.byID[n.ID]; dup {
			return
		}
		r := &row{n: n.Clone()}
		if old, ok := previous[n.ID]; ok && old.mutation == MutationPending {
			r.n.IsRead = true
			r.mutation = MutationPending
		}
		d.rows = append(d.rows, r)
		d.byID[n.ID] = r
	}

	if ok {
		for _, n := range fetched {
			add(n)
		}
	}
	for _, n := range d.buffered {
		add(n)
	}
	d.buffered = nil
	d.sortLocked()
}

func (d *Dropdown) sortLocked() {
	list := make([]*notification.Notification, len(d.rows))
	for i, r := range d.rows {
		list[i] = r.n
	}
	notification.SortNewestFirst(list)
	for i, n := range list {
		d.rows[i] = d.byID[n.ID]
	}
}

// Close hides the list. Rows are kept so the badge stays accurate, and a
// fetch in flight still lands in them; the next Open replaces them with a
// fresh backlog.
func (d *Dropdown) Close() {
	d.mu.Lock()
	d.state = StateClosed
	d.mu.Unlock()
	d.changed()
}

// Push applies a realtime notification. While a fetch is in flight it is
// buffered for the merge; otherwise it is added unless the id is already
// listed.
func (d *Dropdown) Push(n *notification.Notification) {
	if n == nil || n.ID == "" {
		return
	}

	d.mu.Lock()
	if d.loading {
		d.buffered = append(d.buffered, n.Clone())
		d.mu.Unlock()
		return
	}
	added := d.addLocked(n)
	d.mu.Unlock()
	if added {
		d.changed()
	}
}

func (d *Dropdown) addLocked(n *notification.Notification) bool {
	if _, dup := d.byID[n.ID]; dup {
		return false
	}
	r := &row{n: n.Clone()}
	d.rows = append([]*row{r}, d.rows...)
	d.byID[n.ID] = r
	d.sortLocked()
	return true
}

// MarkRead flips id to read at once and confirms it with the server. On
// failure the row goes back to unread and the error is kept for display.
// Unknown, already read or in-flight ids are a no-op.
func (d *Dropdown) MarkRead(ctx context.Context, id string) error {
	d.mu.Lock()
	r, ok := d.byID[id]
	if !ok || r.n.IsRead || r.mutation == MutationPending {
		d.mu.Unlock()
		return nil
	}
	r.n.IsRead = true
	r.mutation = MutationPending
	d.mu.Unlock()
	d.changed()

	err := d.api.MarkRead(ctx, []string{id})

	d.mu.Lock()
	d.settleLocked([]string{id}, err)
	d.mu.Unlock()
	d.changed()
	return err
}

// MarkAllRead flips every unread row in one step and reverts them in one
// step if the server rejects it. Once confirmed, rows created before the
// request that arrived meanwhile are read too, since the server flipped them.
func (d *Dropdown) MarkAllRead(ctx context.Context) error {
	d.mu.Lock()
	var ids []string
	for _, r := range d.rows {
		if r.n.IsRead || r.mutation == MutationPending {
			continue
		}
		r.n.IsRead = true
		r.mutation = MutationPending
		ids = append(ids, r.n.ID)
	}
	d.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}
	d.changed()

	requested := d.now()
	err := d.api.MarkAllRead(ctx)

	d.mu.Lock()
	d.settleLocked(ids, err)
	if err == nil {
		for _, r := range d.rows {
			if r.n.IsRead || r.mutation == MutationPending || r.n.CreatedAt.After(requested) {
				continue
			}
			at := requested
			r.n.IsRead = true
			r.n.ReadAt = &at
			r.mutation = MutationIdle
		}
	}
	d.mu.Unlock()
	d.changed()
	return err
}

// settleLocked resolves pending rows by id; rows may have been replaced by a
// refresh in the meantime.
func (d *Dropdown) settleLocked(ids []string, err error) {
	if err != nil {
		d.err = err
	}
	for _, id := range ids {
		r, ok := d.byID[id]
		if !ok || r.mutation != MutationPending {
			continue
		}
		if err != nil {
			r.n.IsRead = false
			r.n.ReadAt = nil
			r.mutation = MutationFailed
			continue
		}
		r.mutation = MutationIdle
	}
}

// ClearError dismisses the last error.
func (d *Dropdown) ClearError() {
	d.mu.Lock()
	d.err = nil
	d.mu.Unlock()
	d.changed()
}

func (d *Dropdown) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// UnreadCount is derived from the listed rows, never tracked separately.
func (d *Dropdown) UnreadCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unreadLocked()
}

func (d *Dropdown) unreadLocked() int {
	unread := 0
	for _, r := range d.rows {
		if !r.n.IsRead {
			unread++
		}
	}
	return unread
}

func (d *Dropdown) View() View {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.viewLocked()
}

func (d *Dropdown) viewLocked() View {
	rows := make([]Row, len(d.rows))
	for i, r := range d.rows {
		rows[i] = Row{Notification: r.n.Clone(), Mutation: r.mutation}
	}
	return View{
		State:       d.state,
		Rows:        rows,
		UnreadCount: d.unreadLocked(),
		Err:         d.err,
	}
}

func (d *Dropdown) changed() {
	if d.onChange == nil {
		return
	}
	d.onChange(d.View())
}
