package host

import (
	"context"
	"fmt"
	"time"

	"github.com/muxable/bthost/pkg/hci"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	defaultReadBufferSize = 1024
	eventBatchSize        = 256
)

type options struct {
	log          *zap.Logger
	ringCapacity int
	readBufSize  int
}

type Option func(*options)

// WithLogger replaces the global zap logger for this adapter.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithRingCapacity sets the speculative per-connection ACL ring size.
func WithRingCapacity(n int) Option {
	return func(o *options) { o.ringCapacity = n }
}

// WithReadBufferSize sets the bounded controller read buffer size.
func WithReadBufferSize(n int) Option {
	return func(o *options) { o.readBufSize = n }
}

// Adapter is the root owner of one HCI controller session: the device
// socket, the poller, the shutdown descriptor, the timer registry, the
// event engine and the ACL receiver, plus the single reactor goroutine
// driving them. All methods are safe for concurrent use; none of them
// block on controller I/O.
type Adapter struct {
	log    *zap.Logger
	dev    *deviceSocket
	exit   *FD
	poll   *poller
	timers *timerRegistry
	engine *eventEngine
	recv   *aclReceiver

	readBufSize int
	done        chan struct{}
	closed      atomic.Bool
}

// NewAdapter claims the HCI user channel of device id (any device if id is
// negative) and starts the reactor.
func NewAdapter(id int, opts ...Option) (*Adapter, error) {
	o := applyOptions(opts)
	dev, err := openDevice(id, o.log)
	if err != nil {
		return nil, err
	}
	a, err := newAdapter(dev, newSocketFilter(dev.fd), o)
	if err != nil {
		dev.close()
		return nil, err
	}
	return a, nil
}

func applyOptions(opts []Option) options {
	o := options{
		log:          zap.L(),
		ringCapacity: defaultRingCapacity,
		readBufSize:  defaultReadBufferSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// newAdapter wires an adapter over an already-bound device socket. Tests
// use it directly with a socketpair and a fake filter.
func newAdapter(dev *deviceSocket, filter eventFilter, o options) (*Adapter, error) {
	exitFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "eventfd")
	}
	exit := newFD(exitFD)

	poll, err := newPoller()
	if err != nil {
		exit.Close()
		return nil, err
	}
	if err := poll.add(dev.fd.Raw(), tagController); err != nil {
		poll.close()
		exit.Close()
		return nil, err
	}
	if err := poll.add(exit.Raw(), tagShutdown); err != nil {
		poll.close()
		exit.Close()
		return nil, err
	}

	a := &Adapter{
		log:         o.log,
		dev:         dev,
		exit:        exit,
		poll:        poll,
		timers:      newTimerRegistry(),
		recv:        newACLReceiver(o.ringCapacity, o.log),
		readBufSize: o.readBufSize,
		done:        make(chan struct{}),
	}
	a.engine = newEventEngine(filter, a.NewTimer, o.log)

	go a.run()
	return a, nil
}

// run is the reactor: the sole reader of the controller descriptor and the
// only origin of wake signals. It exits cleanly on the shutdown tag, or
// fatally when the controller link or the poller fails; after a fatal exit
// pending waiters receive no further resolution.
func (a *Adapter) run() {
	defer close(a.done)

	buf := make([]byte, a.readBufSize)
	events := make([]unix.EpollEvent, eventBatchSize)
	wakes := make([]wakeup, eventBatchSize)

	for {
		n, err := a.poll.wait(events, wakes)
		if err != nil {
			a.log.Error("poller failed, stopping reactor", zap.Error(err))
			return
		}
		for _, w := range wakes[:n] {
			switch w.kind {
			case wakeController:
				if !a.readController(buf) {
					return
				}
			case wakeShutdown:
				var drain [8]byte
				unix.Read(a.exit.Raw(), drain[:])
				return
			case wakeTimer:
				a.fireTimer(w.timer)
			}
		}
	}
}

// readController consumes one framed message from the controller and
// dispatches it by its indicator byte. It reports whether the reactor may
// keep running.
func (a *Adapter) readController(buf []byte) bool {
	var n int
	for {
		var err error
		n, err = unix.Read(a.dev.fd.Raw(), buf)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			a.log.Error("controller read failed, stopping reactor", zap.Error(err))
			return false
		}
		break
	}
	if n == 0 {
		a.log.Error("controller closed the transport, stopping reactor")
		return false
	}

	a.log.Debug("bluetooth reading", zap.String("packet", fmt.Sprintf("%x", buf[:n])))

	switch hci.PacketType(buf[0]) {
	case hci.PacketTypeEvent:
		a.engine.process(buf[1:n])
	case hci.PacketTypeACLData:
		d, err := hci.UnmarshalACL(buf[1:n])
		if err != nil {
			a.log.Error("dropping malformed acl frame", zap.Error(err))
			return true
		}
		a.recv.addReceived(d)
	case hci.PacketTypeSynchronousData:
		a.log.Error("SCO data unimplemented")
	case hci.PacketTypeCommand:
		// Only the host sends commands. One arriving here means the
		// transport framing is broken beyond recovery.
		a.log.Error("received a command packet from the controller, stopping reactor")
		return false
	default:
		a.log.Warn("unknown packet indicator", zap.Uint8("indicator", buf[0]))
	}
	return true
}

// fireTimer resolves one timer tag: the registry removal is what guarantees
// the callback runs at most once, and losing it to a concurrent stop is not
// an error.
func (a *Adapter) fireTimer(id uint64) {
	t, err := a.timers.remove(id)
	if err != nil {
		a.log.Debug("timer already stopped", zap.Uint64("id", id))
		return
	}
	if err := a.poll.remove(t.fd.Raw()); err != nil {
		a.log.Warn("deregistering fired timer", zap.Uint64("id", id), zap.Error(err))
	}
	t.fd.Close()
	t.fire()
}

// Done closes when the reactor has exited, cleanly or not.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// Close signals the reactor, waits for it to exit, and releases every
// descriptor. It is idempotent.
func (a *Adapter) Close() error {
	if !a.closed.CAS(false, true) {
		return nil
	}
	var err error
	if _, werr := unix.Write(a.exit.Raw(), []byte{1, 0, 0, 0, 0, 0, 0, 0}); werr != nil {
		err = multierr.Append(err, errors.Wrap(werr, "signal reactor exit"))
	}
	<-a.done

	for _, t := range a.timers.drain() {
		if perr := a.poll.remove(t.fd.Raw()); perr != nil {
			err = multierr.Append(err, perr)
		}
		t.fd.Close()
	}
	err = multierr.Append(err, a.poll.close())
	err = multierr.Append(err, a.exit.Close())
	err = multierr.Append(err, a.dev.close())
	return err
}

// NewTimer allocates a one-shot timer on the adapter's poller. The caller
// must attach a callback with OnFire and then Arm it.
func (a *Adapter) NewTimer(d time.Duration) (*TimerBuilder, error) {
	return newTimerBuilder(a.poll, a.timers, d)
}

// Expect registers interest in the next event of code accepted by matcher.
// The returned channel resolves exactly once with the event, or with
// ErrTimeout if timeout is positive and expires first. A second Expect with
// the same (code, matcher) pair returns the same channel.
func (a *Adapter) Expect(code hci.EventCode, matcher Matcher, timeout time.Duration) (<-chan EventResult, error) {
	return a.engine.expect(code, matcher, timeout)
}

// SendCommand writes one command packet to the controller.
func (a *Adapter) SendCommand(cmd hci.Command) error {
	buf, err := cmd.Marshal()
	if err != nil {
		return err
	}
	return a.dev.write(buf)
}

// SendACL writes one ACL data packet to the controller.
func (a *Adapter) SendACL(d *hci.ACLData) error {
	buf, err := d.Marshal()
	if err != nil {
		return err
	}
	return a.dev.write(buf)
}

// StartReceiver claims handle: received ACL data is buffered without bound
// until StopReceiver.
func (a *Adapter) StartReceiver(handle hci.ConnectionHandle) {
	a.recv.start(handle)
}

// StopReceiver releases handle and discards unread data.
func (a *Adapter) StopReceiver(handle hci.ConnectionHandle) {
	a.recv.stop(handle)
}

// Receive drains the queued ACL packets for handle. With nothing queued it
// returns a non-nil wait channel instead; the caller re-invokes Receive
// after the channel closes.
func (a *Adapter) Receive(handle hci.ConnectionHandle) ([]*hci.ACLData, <-chan struct{}) {
	return a.recv.receive(handle)
}

// ReadACL blocks until ACL data is available for handle, the context is
// canceled, or the reactor exits.
func (a *Adapter) ReadACL(ctx context.Context, handle hci.ConnectionHandle) ([]*hci.ACLData, error) {
	for {
		pkts, wait := a.recv.receive(handle)
		if pkts != nil {
			return pkts, nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-a.done:
			return nil, ErrClosed
		}
	}
}

// Command sends cmd and waits for its Command Complete event.
func (a *Adapter) Command(cmd hci.Command, timeout time.Duration) (*hci.CommandComplete, error) {
	opcode := cmd.Opcode()
	ch, err := a.Expect(hci.EventCodeCommandComplete, MatchFunc(func(e *hci.EventData) bool {
		cc, err := e.CommandComplete()
		return err == nil && cc.CommandOpcode == opcode
	}), timeout)
	if err != nil {
		return nil, err
	}
	if err := a.SendCommand(cmd); err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Event.CommandComplete()
	case <-a.done:
		return nil, ErrClosed
	}
}
