package host

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/muxable/bthost/pkg/hci"
	"go.uber.org/zap"
)

const defaultRingCapacity = 100

// packetBuffer holds received ACL data for one connection handle. It starts
// limited: a fixed-capacity ring that evicts oldest-first, protecting
// against data arriving before any reader has claimed the handle. Once a
// reader shows up it is upgraded to an unbounded queue. The upgrade is the
// only allowed transition.
type packetBuffer struct {
	ring  []*hci.ACLData
	start int
	cap   int
	q     *queue.Queue
}

func newLimitedBuffer(capacity int) *packetBuffer {
	return &packetBuffer{ring: make([]*hci.ACLData, 0, capacity), cap: capacity}
}

func newUnlimitedBuffer() *packetBuffer {
	return &packetBuffer{q: queue.New()}
}

func (b *packetBuffer) unlimited() bool {
	return b.q != nil
}

func (b *packetBuffer) upgrade() {
	if b.q != nil {
		return
	}
	q := queue.New()
	for i := 0; i < len(b.ring); i++ {
		q.Add(b.ring[(b.start+i)%len(b.ring)])
	}
	b.ring, b.start = nil, 0
	b.q = q
}

func (b *packetBuffer) add(d *hci.ACLData) {
	if b.q != nil {
		b.q.Add(d)
		return
	}
	if len(b.ring) < b.cap {
		b.ring = append(b.ring, d)
		return
	}
	// Full ring: overwrite the oldest entry.
	b.ring[b.start] = d
	b.start = (b.start + 1) % len(b.ring)
}

func (b *packetBuffer) empty() bool {
	if b.q != nil {
		return b.q.Length() == 0
	}
	return len(b.ring) == 0
}

func (b *packetBuffer) drain() []*hci.ACLData {
	if b.q != nil {
		out := make([]*hci.ACLData, 0, b.q.Length())
		for b.q.Length() > 0 {
			out = append(out, b.q.Remove().(*hci.ACLData))
		}
		return out
	}
	out := make([]*hci.ACLData, 0, len(b.ring))
	for i := 0; i < len(b.ring); i++ {
		out = append(out, b.ring[(b.start+i)%len(b.ring)])
	}
	b.ring, b.start = b.ring[:0], 0
	return out
}

type connRecv struct {
	packets *packetBuffer
	wake    *wakeToken
	claimed bool
}

// aclReceiver routes received ACL packets into per-connection-handle
// buffers and parks readers on wake tokens while their buffer is empty.
type aclReceiver struct {
	mu       sync.Mutex
	conns    map[hci.ConnectionHandle]*connRecv
	capacity int
	log      *zap.Logger
}

func newACLReceiver(capacity int, log *zap.Logger) *aclReceiver {
	return &aclReceiver{
		conns:    make(map[hci.ConnectionHandle]*connRecv),
		capacity: capacity,
		log:      log,
	}
}

// addReceived files one packet from the reactor, creating a speculative
// limited buffer for handles nobody has claimed yet, and wakes any parked
// reader.
func (r *aclReceiver) addReceived(d *hci.ACLData) {
	r.mu.Lock()
	c, ok := r.conns[d.ConnectionHandle]
	if !ok {
		c = &connRecv{packets: newLimitedBuffer(r.capacity)}
		r.conns[d.ConnectionHandle] = c
	}
	c.packets.add(d)
	w := c.wake
	c.wake = nil
	r.mu.Unlock()

	if w != nil {
		w.trigger()
	}
}

// receive drains every queued packet for handle, upgrading its buffer to
// unlimited. With nothing queued it parks the caller instead: the returned
// channel closes when data arrives and the caller re-checks. A buffer that
// receive itself created, and that was never claimed with start, is deleted
// once drained so it cannot leak.
func (r *aclReceiver) receive(handle hci.ConnectionHandle) ([]*hci.ACLData, <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[handle]
	if !ok {
		c = &connRecv{packets: newUnlimitedBuffer(), wake: newWakeToken()}
		r.conns[handle] = c
		return nil, c.wake.wait()
	}
	if c.packets.empty() {
		c.wake = newWakeToken()
		return nil, c.wake.wait()
	}
	pkts := c.packets.drain()
	if c.claimed {
		c.packets.upgrade()
	} else {
		delete(r.conns, handle)
	}
	return pkts, nil
}

// start claims handle: its buffer becomes (or is created) unlimited and
// survives drains until stop.
func (r *aclReceiver) start(handle hci.ConnectionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[handle]
	if !ok {
		c = &connRecv{packets: newUnlimitedBuffer()}
		r.conns[handle] = c
	}
	c.packets.upgrade()
	c.claimed = true
}

// stop releases handle, discarding any unread data.
func (r *aclReceiver) stop(handle hci.ConnectionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, handle)
}
