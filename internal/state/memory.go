package state

import (
	"context"
	"sort"
	"sync"
)

type memoryStore struct {
	mu      sync.Mutex
	relays  map[string]RelayInfo
	total   int64
	reject  int64
	sent    int64
	recv    int64
	ready   bool
	closing bool
}

func NewMemoryStore() Store {
	return &memoryStore{relays: make(map[string]RelayInfo)}
}

func (m *memoryStore) RelayOpened(info RelayInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relays[info.ID] = info
	m.total++
}

func (m *memoryStore) RelayClosed(id string, bytesSent, bytesRecv int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.relays, id)
	m.sent += bytesSent
	m.recv += bytesRecv
}

func (m *memoryStore) ConnRejected(reason string) {
	m.mu.Lock()
	m.reject++
	m.mu.Unlock()
}

func (m *memoryStore) ActiveRelays() []RelayInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RelayInfo, 0, len(m.relays))
	for _, r := range m.relays {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

func (m *memoryStore) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		ActiveRelays: len(m.relays),
		TotalRelays:  m.total,
		Rejected:     m.reject,
		BytesSent:    m.sent,
		BytesRecv:    m.recv,
	}
}

func (m *memoryStore) SetReady(ready bool)     { m.mu.Lock(); m.ready = ready; m.mu.Unlock() }
func (m *memoryStore) SetClosing(closing bool) { m.mu.Lock(); m.closing = closing; m.mu.Unlock() }
func (m *memoryStore) IsReady() bool           { m.mu.Lock(); defer m.mu.Unlock(); return m.ready }
func (m *memoryStore) IsClosing() bool         { m.mu.Lock(); defer m.mu.Unlock(); return m.closing }

func (m *memoryStore) StartMaintenance(ctx context.Context) {}
