package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkarls/portfwd/internal/obs"
	"github.com/pkarls/portfwd/internal/state"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("forwarder closed")

const (
	// dialTimeout bounds the outbound connect so a black-holed remote
	// cannot wedge an acceptor goroutine.
	dialTimeout = 10 * time.Second
	// slotDrainTimeout is how long shutdown waits for any single relay
	// worker before abandoning it.
	slotDrainTimeout = 5 * time.Second

	defaultMaxConns = 100
)

// Config describes one forwarder: where to listen, the fixed remote target
// every connection is relayed to, and the optional source-IP allow entry.
type Config struct {
	ListenAddr string
	RemoteAddr string // host:port, resolved on each dial, either address family
	AllowedIP  string
	MaxConns   int
}

// Server accepts local connections, admits them by source IP and relays
// each one to the fixed remote target through a table-bounded pump worker.
type Server struct {
	cfg    Config
	filter *Filter
	table  *Table
	store  state.Store

	// drainTimeout is how long Shutdown waits per active slot; it is
	// slotDrainTimeout outside tests.
	drainTimeout time.Duration

	mu     sync.Mutex
	ln     net.Listener
	cancel context.CancelFunc

	inShutdown   atomic.Bool
	shutdownOnce sync.Once
}

func NewServer(cfg Config, store state.Store) *Server {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = defaultMaxConns
	}
	if store == nil {
		store = state.NewMemoryStore()
	}
	return &Server{
		cfg:          cfg,
		filter:       NewFilter(cfg.AllowedIP),
		table:        NewTable(cfg.MaxConns),
		store:        store,
		drainTimeout: slotDrainTimeout,
	}
}

// Listen binds the local listener. Split from Serve so callers can fail
// fast on bind errors (and tests can learn the bound address of port 0).
func (s *Server) Listen() error {
	if s.shuttingDown() {
		return ErrServerClosed
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve runs the accept loop until Shutdown or a non-recoverable accept
// error. It returns ErrServerClosed on clean shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()
	if ln == nil {
		return errors.New("serve before listen")
	}

	obs.Info("forwarder.listening", obs.Fields{"addr": ln.Addr().String(), "remote": s.cfg.RemoteAddr, "max_conns": s.table.Capacity()})
	for {
		c, err := ln.Accept()
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}
			if isRecoverableAccept(err) {
				obs.Warn("accept.recoverable", obs.Fields{"err": err.Error()})
				continue
			}
			return err
		}
		go s.handleConn(ctx, c)
	}
}

// ListenAndServe is Listen followed by Serve.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// handleConn admits the client, dials the remote target and hands the pair
// to a relay worker. Every failure path closes whatever is open and leaves
// the accept loop untouched.
func (s *Server) handleConn(ctx context.Context, client net.Conn) {
	clientAddr := client.RemoteAddr().String()
	host, _, err := net.SplitHostPort(clientAddr)
	if err != nil {
		host = clientAddr
	}
	if !s.filter.Allowed(host) {
		// Rejections are debug-level: visible only in verbose mode.
		obs.Debug("conn.rejected", obs.Fields{"client": clientAddr, "reason": "ip_not_allowed"})
		obs.RelayRejectedTotal.WithLabelValues("ip_not_allowed").Inc()
		s.store.ConnRejected("ip_not_allowed")
		_ = client.Close()
		return
	}
	obs.Info("conn.accepted", obs.Fields{"client": clientAddr})

	d := net.Dialer{Timeout: dialTimeout}
	remote, err := d.DialContext(ctx, "tcp", s.cfg.RemoteAddr)
	if err != nil {
		obs.Error("remote.dial", obs.Fields{"remote": s.cfg.RemoteAddr, "client": clientAddr, "err": err.Error()})
		obs.RelayRejectedTotal.WithLabelValues("dial_failed").Inc()
		obs.ErrorsTotal.WithLabelValues("dial").Inc()
		s.store.ConnRejected("dial_failed")
		_ = client.Close()
		return
	}

	slot, err := s.table.Reserve()
	if err != nil {
		obs.Error("table.full", obs.Fields{"client": clientAddr, "capacity": s.table.Capacity()})
		obs.RelayRejectedTotal.WithLabelValues("table_full").Inc()
		s.store.ConnRejected("table_full")
		_ = remote.Close()
		_ = client.Close()
		return
	}
	slot.id = relayID()
	slot.clientConn = client
	slot.remoteConn = remote
	obs.Info("relay.established", obs.Fields{"id": slot.id, "client": clientAddr, "remote": remote.RemoteAddr().String(), "slot": slot.index})
	s.store.RelayOpened(state.RelayInfo{ID: slot.id, Client: clientAddr, Remote: remote.RemoteAddr().String(), Started: time.Now()})

	p := &pump{slot: slot, table: s.table, onClosed: s.store.RelayClosed}
	go p.run(ctx)
}

// Shutdown stops admission, closes the listener, cancels every relay
// worker and waits a bounded time per slot for teardown. It is idempotent
// and safe to call from the signal-handling goroutine while the accept
// loop is running.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	s.inShutdown.Store(true)
	s.store.SetClosing(true)
	obs.Info("forwarder.shutdown", obs.Fields{"active": s.table.ActiveCount()})

	s.mu.Lock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	abandoned := 0
	s.table.ForEachActive(func(slot *Slot) {
		t := time.NewTimer(s.drainTimeout)
		defer t.Stop()
		select {
		case <-slot.done:
		case <-t.C:
			// The process is about to exit; leaking this worker beats
			// blocking shutdown on it.
			abandoned++
			obs.Error("shutdown.slot_abandoned", obs.Fields{"slot": slot.index, "id": slot.id})
		}
	})
	if abandoned > 0 {
		obs.Warn("forwarder.shutdown.incomplete", obs.Fields{"abandoned": abandoned})
		return
	}
	obs.Info("forwarder.shutdown.complete", obs.Fields{})
}

func (s *Server) shuttingDown() bool {
	return s.inShutdown.Load()
}

// relayID returns a short random hex identifier for log and state
// correlation.
func relayID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}
