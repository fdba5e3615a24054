package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkarls/portfwd/internal/obs"
)

const (
	// chunkSize is the per-read buffer for each direction.
	chunkSize = 8192
	// ioTimeout bounds a single write so a half-dead peer cannot stall a
	// worker forever.
	ioTimeout = 30 * time.Second
	// pollInterval bounds how long a direction worker can go without
	// re-checking the shutdown context. It is a liveness knob, not a
	// data-availability heuristic.
	pollInterval = time.Second
	// Keepalive probing: start after 10s idle, probe every second, to
	// detect silently dead peers faster than OS defaults.
	keepaliveIdle     = 10 * time.Second
	keepaliveInterval = time.Second
)

// pump forwards bytes in both directions between the slot's endpoints until
// either peer closes, an I/O error occurs, or ctx is cancelled. It owns the
// full teardown: half-closing and closing both endpoints, reporting the
// final counters and, last of all, releasing the slot.
type pump struct {
	slot      *Slot
	table     *Table
	closeOnce sync.Once

	// onClosed, if set, receives the relay id and final per-direction
	// byte counts during teardown, before the slot is released.
	onClosed func(id string, bytesSent, bytesRecv int64)
}

func (p *pump) run(ctx context.Context) {
	slot := p.slot

	tuneConn(slot.clientConn)
	tuneConn(slot.remoteConn)

	start := time.Now()
	obs.ActiveRelays.Inc()
	obs.RelayEstablishedTotal.Inc()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.copyDirection(ctx, slot.remoteConn, slot.clientConn, &slot.sentClientToRemote, "client_to_remote")
	}()
	go func() {
		defer wg.Done()
		p.copyDirection(ctx, slot.clientConn, slot.remoteConn, &slot.sentRemoteToClient, "remote_to_client")
	}()
	wg.Wait()

	p.closeOnce.Do(p.closeBoth)

	// Record counters and report before releasing: once the slot is back
	// in the table the acceptor may reserve and zero it.
	id := slot.id
	sent, recv := slot.sentClientToRemote, slot.sentRemoteToClient
	obs.ActiveRelays.Dec()
	obs.RelayDurationSeconds.Observe(time.Since(start).Seconds())
	obs.Info("relay.closed", obs.Fields{
		"id":    id,
		"sent":  sent,
		"recv":  recv,
		"total": sent + recv,
	})
	if p.onClosed != nil {
		p.onClosed(id, sent, recv)
	}
	close(slot.done)
	p.table.Release(slot)
}

// copyDirection moves bytes src to dst until EOF, error or cancellation.
// Reads use a short deadline so the loop re-checks ctx at least once per
// pollInterval; writes get the full I/O timeout. net.Conn.Write does not
// return until every byte is written or the write fails, so a successful
// write always accounts for the whole chunk.
//
// When either direction ends, both endpoints are closed; the opposite
// worker then unblocks with net.ErrClosed and exits too.
func (p *pump) copyDirection(ctx context.Context, dst, src net.Conn, counter *int64, direction string) {
	buf := make([]byte, chunkSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = src.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := src.Read(buf)
		if n > 0 {
			_ = dst.SetWriteDeadline(time.Now().Add(ioTimeout))
			if _, werr := dst.Write(buf[:n]); werr != nil {
				if isBenign(werr) {
					obs.Debug("relay.write.peer_gone", obs.Fields{"id": p.slot.id, "direction": direction, "err": werr.Error()})
				} else {
					obs.Error("relay.write", obs.Fields{"id": p.slot.id, "direction": direction, "err": werr.Error()})
					obs.ErrorsTotal.WithLabelValues("relay_write").Inc()
				}
				p.closeOnce.Do(p.closeBoth)
				return
			}
			*counter += int64(n)
			obs.BytesForwardedTotal.WithLabelValues(direction).Add(float64(n))
		}
		if err != nil {
			if isPollTimeout(err) {
				continue
			}
			switch {
			case errors.Is(err, io.EOF):
				obs.Debug("relay.read.closed", obs.Fields{"id": p.slot.id, "direction": direction})
			case isBenign(err):
				obs.Debug("relay.read.peer_gone", obs.Fields{"id": p.slot.id, "direction": direction, "err": err.Error()})
			default:
				obs.Error("relay.read", obs.Fields{"id": p.slot.id, "direction": direction, "err": err.Error()})
				obs.ErrorsTotal.WithLabelValues("relay_read").Inc()
			}
			p.closeOnce.Do(p.closeBoth)
			return
		}
	}
}

// closeBoth half-closes then fully closes both endpoints. Double closes
// surface as net.ErrClosed and are ignored.
func (p *pump) closeBoth() {
	for _, c := range []net.Conn{p.slot.clientConn, p.slot.remoteConn} {
		if tc, ok := c.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
		_ = c.Close()
	}
}

// isPollTimeout distinguishes the expected short read-deadline expiry from
// real failures.
func isPollTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// tuneConn applies the relay's liveness settings: no-delay for interactive
// latency and aggressive keepalive probing. Non-TCP endpoints (in-memory
// pipes in tests) are left as-is.
func tuneConn(c net.Conn) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(true)
	_ = tc.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepaliveIdle,
		Interval: keepaliveInterval,
	})
}
