package forwarder

import (
	"io"
	"net"
	"testing"
	"time"
)

func newTestEngine() (*Engine, *Index) {
	idx := NewIndex()
	return NewEngine(idx, Options{ReadBufSize: 4096, SoftCapBytes: 1 << 16}), idx
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestTieForwardsBothDirections(t *testing.T) {
	engine, _ := newTestEngine()

	clientExt, clientProxy := net.Pipe()
	upstreamExt, upstreamProxy := net.Pipe()
	defer clientExt.Close()
	defer upstreamExt.Close()

	engine.Tie(clientProxy, upstreamProxy, []byte("fk"))

	go clientExt.Write([]byte("hello upstream"))
	buf := make([]byte, 32)
	n, err := upstreamExt.Read(buf)
	if err != nil {
		t.Fatalf("upstream read: %v", err)
	}
	if string(buf[:n]) != "hello upstream" {
		t.Fatalf("upstream got %q", buf[:n])
	}

	go upstreamExt.Write([]byte("hello client"))
	n, err = clientExt.Read(buf)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(buf[:n]) != "hello client" {
		t.Fatalf("client got %q", buf[:n])
	}
}

func TestLeaderCloseTearsDownPeerAndIndex(t *testing.T) {
	engine, idx := newTestEngine()

	clientExt, clientProxy := net.Pipe()
	upstreamExt, upstreamProxy := net.Pipe()
	defer upstreamExt.Close()

	key := []byte("teardown-key")
	engine.Tie(clientProxy, upstreamProxy, key)

	waitFor(t, time.Second, func() bool { return idx.Len() == 1 })

	clientExt.Close() // client hangs up -> leader's reader errors

	buf := make([]byte, 8)
	_, err := upstreamExt.Read(buf)
	if err != io.EOF && err == nil {
		t.Fatalf("expected upstream side to observe teardown, got err=%v", err)
	}

	waitFor(t, time.Second, func() bool { return idx.Len() == 0 })
}

func TestNonLeaderCloseTriggersFullTeardown(t *testing.T) {
	engine, idx := newTestEngine()

	clientExt, clientProxy := net.Pipe()
	upstreamExt, upstreamProxy := net.Pipe()
	defer clientExt.Close()

	key := []byte("follower-close")
	engine.Tie(clientProxy, upstreamProxy, key)

	waitFor(t, time.Second, func() bool { return idx.Len() == 1 })

	upstreamExt.Close() // upstream hangs up -> follower's reader errors

	buf := make([]byte, 8)
	_, err := clientExt.Read(buf)
	if err == nil {
		t.Fatal("expected client side to observe teardown")
	}

	waitFor(t, time.Second, func() bool { return idx.Len() == 0 })
}

func TestIndexScanAbsent(t *testing.T) {
	idx := NewIndex()
	leader := &EndPoint{leader: true, forwardKey: []byte("k1")}
	idx.Insert(leader.forwardKey, leader)

	stale := idx.ScanAbsent(map[string]struct{}{"k2": {}})
	if len(stale) != 1 || stale[0] != leader {
		t.Fatalf("ScanAbsent returned %v, want [leader]", stale)
	}

	stillValid := idx.ScanAbsent(map[string]struct{}{"k1": {}})
	if len(stillValid) != 0 {
		t.Fatalf("ScanAbsent returned %v, want none", stillValid)
	}
}
