package relay

import (
	"errors"
	"net"
	"sync"
)

// ErrTableFull is returned by Reserve when every slot is active.
var ErrTableFull = errors.New("connection table full")

// Slot is one reservation in the connection table. Between Reserve and
// Release it is owned by exactly one relay worker; the table itself only
// ever touches the active flag, under its mutex.
type Slot struct {
	index  int
	active bool

	id         string
	clientConn net.Conn
	remoteConn net.Conn

	// Byte counters per direction. Each is written only by its own
	// direction worker and read after both workers have been joined.
	sentClientToRemote int64
	sentRemoteToClient int64

	// done is closed once the relay worker has finished teardown. The
	// shutdown path waits on it with a bounded timeout.
	done chan struct{}
}

// ID returns the relay identifier assigned at reservation time.
func (s *Slot) ID() string { return s.id }

// Counters returns the per-direction byte totals. Only meaningful after the
// relay worker has exited (done is closed).
func (s *Slot) Counters() (clientToRemote, remoteToClient int64) {
	return s.sentClientToRemote, s.sentRemoteToClient
}

// Done returns a channel closed when the relay worker has finished teardown.
func (s *Slot) Done() <-chan struct{} { return s.done }

// Table is a fixed-capacity registry of relay slots. Slots are keyed by
// index and recycled; a slot is never handed to two workers at once.
type Table struct {
	mu    sync.Mutex
	slots []*Slot
}

func NewTable(capacity int) *Table {
	t := &Table{slots: make([]*Slot, capacity)}
	for i := range t.slots {
		t.slots[i] = &Slot{index: i}
	}
	return t
}

// Reserve claims the lowest-index inactive slot and returns it, or
// ErrTableFull when every slot is active. It never blocks waiting for a
// slot to free up.
func (t *Table) Reserve() (*Slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.slots {
		if !s.active {
			s.active = true
			s.id = ""
			s.clientConn = nil
			s.remoteConn = nil
			s.sentClientToRemote = 0
			s.sentRemoteToClient = 0
			s.done = make(chan struct{})
			return s, nil
		}
	}
	return nil, ErrTableFull
}

// Release marks the slot inactive. Releasing an already-inactive slot is a
// no-op.
func (t *Table) Release(s *Slot) {
	t.mu.Lock()
	s.active = false
	t.mu.Unlock()
}

// ForEachActive snapshots the active slots under the lock and invokes fn on
// each outside it, so a worker that needs the lock to release itself cannot
// deadlock against the caller.
func (t *Table) ForEachActive(fn func(*Slot)) {
	t.mu.Lock()
	active := make([]*Slot, 0, len(t.slots))
	for _, s := range t.slots {
		if s.active {
			active = append(active, s)
		}
	}
	t.mu.Unlock()
	for _, s := range active {
		fn(s)
	}
}

// ActiveCount returns the number of currently reserved slots.
func (t *Table) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.slots {
		if s.active {
			n++
		}
	}
	return n
}

// Capacity returns the fixed slot count.
func (t *Table) Capacity() int { return len(t.slots) }
