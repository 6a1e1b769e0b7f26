package forwarder

import (
	"net"
	"sync"

	"github.com/santazhang/vncproxy/internal/ringbuf"
)

// pair ties two EndPoints together and guarantees their global teardown
// (the shutdown discipline) runs exactly once, regardless of which
// side's socket error triggers it first.
type pair struct {
	once   sync.Once
	index  *Index
	onTorn func()
}

// teardown runs the leader-rooted shutdown sequence: close leader's fd,
// remove leader from the live-session index, close the peer's fd, and
// notify onTorn. It is idempotent no matter how many goroutines call it
// concurrently, and onTorn fires exactly once per pair regardless of
// whether a socket error or the cleanup sweep triggered it.
func (p *pair) teardown(leader *EndPoint) {
	p.once.Do(func() {
		leader.closeSelf()
		p.index.Remove(leader.forwardKey, leader)
		leader.peer.closeSelf()
		if p.onTorn != nil {
			p.onTorn()
		}
	})
}

// EndPoint is one half of a forwarding pair. Exactly one
// endpoint in a pair has leader set; only the leader's forward_key is
// meaningful, and only teardown rooted at the leader removes the pair from
// the live-session index.
type EndPoint struct {
	conn       net.Conn
	queue      *ringbuf.Buffer
	peer       *EndPoint
	leader     bool
	forwardKey []byte

	pair *pair

	wake chan struct{}
	done chan struct{}

	closeOnce sync.Once
}

// Leader reports whether this endpoint owns global teardown for its pair.
func (ep *EndPoint) Leader() bool { return ep.leader }

// ForwardKey returns the mapping key this session was authenticated under.
// Only meaningful on the leader.
func (ep *EndPoint) ForwardKey() []byte { return ep.forwardKey }

// Shutdown tears down ep's pair. Safe to call from outside the forwarder
// goroutines (the cleanup task calls it on leaders returned by
// Index.ScanAbsent).
func (ep *EndPoint) Shutdown() {
	if ep.leader {
		ep.pair.teardown(ep)
		return
	}
	ep.pair.teardown(ep.peer)
}

// onIOError is called by the reader/writer goroutines when a read or write
// on ep's own fd fails. A leader's error drives full teardown directly; a
// non-leader closes itself and then asks its peer (the leader) to run
// teardown immediately, rather than waiting for the leader to notice on its
// own next error the way the original readiness-poll loop did — the
// goroutine model can propagate the signal right away without losing the
// ordering or exactly-once teardown guarantee.
func (ep *EndPoint) onIOError() {
	if ep.leader {
		ep.pair.teardown(ep)
		return
	}
	ep.closeSelf()
	ep.pair.teardown(ep.peer)
}

func (ep *EndPoint) closeSelf() {
	ep.closeOnce.Do(func() {
		close(ep.done)
		ep.conn.Close()
	})
}

func (ep *EndPoint) signalWritable() {
	select {
	case ep.wake <- struct{}{}:
	default:
	}
}
