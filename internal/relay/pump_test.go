package relay

import (
	"context"
	"io"
	"net"
	"testing"
	"time"
)

// waitInactive polls until every slot is released; teardown closes the done
// channel just before handing the slot back to the table.
func waitInactive(t *testing.T, tbl *Table) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for tbl.ActiveCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("slot not released, ActiveCount = %d", tbl.ActiveCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// pipeSlot reserves a slot wired to in-memory pipes and returns the far
// ends: what the client and the remote peer would see.
func pipeSlot(t *testing.T, tbl *Table) (slot *Slot, clientPeer, remotePeer net.Conn) {
	t.Helper()
	slot, err := tbl.Reserve()
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	var clientSide, remoteSide net.Conn
	clientSide, clientPeer = net.Pipe()
	remoteSide, remotePeer = net.Pipe()
	slot.id = "test"
	slot.clientConn = clientSide
	slot.remoteConn = remoteSide
	return slot, clientPeer, remotePeer
}

func TestPumpForwardsAndCounts(t *testing.T) {
	tbl := NewTable(1)
	slot, clientPeer, remotePeer := pipeSlot(t, tbl)

	p := &pump{slot: slot, table: tbl}
	go p.run(context.Background())

	// Remote side: consume the 100-byte payload, echo 50 bytes back.
	echoDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		total := 0
		for total < 100 {
			n, err := remotePeer.Read(buf[total:])
			if err != nil {
				echoDone <- err
				return
			}
			total += n
		}
		_, err := remotePeer.Write(buf[:50])
		echoDone <- err
	}()

	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := clientPeer.Write(payload); err != nil {
		t.Fatalf("client write failed: %v", err)
	}
	if err := <-echoDone; err != nil {
		t.Fatalf("remote echo failed: %v", err)
	}
	reply := make([]byte, 50)
	if _, err := io.ReadFull(clientPeer, reply); err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	_ = clientPeer.Close()

	select {
	case <-slot.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not finish after client close")
	}
	sent, recv := slot.Counters()
	if sent != 100 || recv != 50 {
		t.Errorf("counters = (%d, %d), want (100, 50)", sent, recv)
	}
	waitInactive(t, tbl)
	// Both endpoints must be closed by teardown.
	if _, err := remotePeer.Read(make([]byte, 1)); err == nil {
		t.Error("remote endpoint still open after teardown")
	}
}

func TestPumpStopsOnCancel(t *testing.T) {
	tbl := NewTable(1)
	slot, clientPeer, remotePeer := pipeSlot(t, tbl)
	defer clientPeer.Close()
	defer remotePeer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := &pump{slot: slot, table: tbl}
	go p.run(ctx)

	cancel()
	// Workers poll the context at least once per second.
	select {
	case <-slot.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("pump did not stop after context cancel")
	}
	waitInactive(t, tbl)
}

// A finished relay must report its own id and counters even when the freed
// slot is immediately reserved and zeroed for the next connection.
func TestPumpReportsBeforeSlotReuse(t *testing.T) {
	tbl := NewTable(1)
	slot, clientPeer, remotePeer := pipeSlot(t, tbl)
	defer remotePeer.Close()

	type report struct {
		id         string
		sent, recv int64
	}
	reports := make(chan report, 1)
	p := &pump{slot: slot, table: tbl, onClosed: func(id string, sent, recv int64) {
		reports <- report{id: id, sent: sent, recv: recv}
	}}
	go p.run(context.Background())

	// Hammer Reserve so the slot is reclaimed and zeroed the moment the
	// worker releases it.
	reserved := make(chan *Slot, 1)
	go func() {
		for {
			if s, err := tbl.Reserve(); err == nil {
				s.id = "replacement"
				reserved <- s
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 256)
		total := 0
		for total < 100 {
			n, err := remotePeer.Read(buf)
			if err != nil {
				return
			}
			total += n
		}
	}()
	if _, err := clientPeer.Write(make([]byte, 100)); err != nil {
		t.Fatalf("client write failed: %v", err)
	}
	_ = clientPeer.Close()

	select {
	case r := <-reports:
		if r.id != "test" || r.sent != 100 || r.recv != 0 {
			t.Errorf("reported (%q, %d, %d), want (\"test\", 100, 0)", r.id, r.sent, r.recv)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("relay never reported its close")
	}
	select {
	case s := <-reserved:
		if s.id != "replacement" {
			t.Errorf("reused slot id = %q, want \"replacement\"", s.id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("freed slot was never re-reserved")
	}
}

func TestPumpRemoteCloseTearsDown(t *testing.T) {
	tbl := NewTable(1)
	slot, clientPeer, remotePeer := pipeSlot(t, tbl)
	defer clientPeer.Close()

	p := &pump{slot: slot, table: tbl}
	go p.run(context.Background())

	_ = remotePeer.Close()
	select {
	case <-slot.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not finish after remote close")
	}
	sent, recv := slot.Counters()
	if sent != 0 || recv != 0 {
		t.Errorf("counters = (%d, %d), want (0, 0)", sent, recv)
	}
}
