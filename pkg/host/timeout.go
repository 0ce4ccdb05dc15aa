package host

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// timer is an armed one-shot timer: the timerfd it was built on and the
// callback invoked when it fires. Whichever of the fire path and the stop
// path removes it from the registry owns the descriptor teardown.
type timer struct {
	fd   *FD
	id   uint64
	fire func()
}

type timerRegistry struct {
	mu     sync.Mutex
	timers map[uint64]*timer
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{timers: make(map[uint64]*timer)}
}

func (r *timerRegistry) add(t *timer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.timers[t.id]; ok {
		return errors.WithMessagef(ErrTimerExists, "id %d", t.id)
	}
	r.timers[t.id] = t
	return nil
}

func (r *timerRegistry) remove(id uint64) (*timer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timers[id]
	if !ok {
		return nil, errors.WithMessagef(ErrTimerGone, "id %d", id)
	}
	delete(r.timers, id)
	return t, nil
}

// drain empties the registry, returning whatever timers were still armed.
func (r *timerRegistry) drain() []*timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := make([]*timer, 0, len(r.timers))
	for _, t := range r.timers {
		ts = append(ts, t)
	}
	r.timers = make(map[uint64]*timer)
	return ts
}

// TimerBuilder is phase one of starting a timeout: the kernel timer exists
// and is registered on the poller, but the countdown has not started. A
// callback must be attached with OnFire before Arm.
type TimerBuilder struct {
	poll *poller
	reg  *timerRegistry
	fd   *FD
	id   uint64
	d    time.Duration
	fire func()
}

func newTimerBuilder(poll *poller, reg *timerRegistry, d time.Duration) (*TimerBuilder, error) {
	tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "timerfd create")
	}
	fd := newFD(tfd)
	id := timerTag(tfd)
	if err := poll.add(tfd, id); err != nil {
		fd.Close()
		return nil, err
	}
	return &TimerBuilder{poll: poll, reg: reg, fd: fd, id: id, d: d}, nil
}

// OnFire attaches the callback invoked when the timer expires. The callback
// runs on the reactor goroutine.
func (b *TimerBuilder) OnFire(fire func()) {
	b.fire = fire
}

// StopHandle derives the cancellation capability for this timer. It is
// valid before and after Arm; stopping a timer that already fired returns
// ErrTimerGone.
func (b *TimerBuilder) StopHandle() *TimerStop {
	return &TimerStop{poll: b.poll, reg: b.reg, id: b.id}
}

// Arm inserts the timer into the registry and starts the kernel countdown.
func (b *TimerBuilder) Arm() error {
	if b.fire == nil {
		return ErrTimerNoCallback
	}
	t := &timer{fd: b.fd, id: b.id, fire: b.fire}
	if err := b.reg.add(t); err != nil {
		return err
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(b.d.Nanoseconds())}
	if err := unix.TimerfdSettime(b.fd.Raw(), 0, &spec, nil); err != nil {
		b.reg.remove(b.id)
		b.poll.remove(b.fd.Raw())
		b.fd.Close()
		return errors.Wrap(err, "timerfd settime")
	}
	return nil
}

// TimerStop stops an armed timer early, discarding its callback.
type TimerStop struct {
	poll *poller
	reg  *timerRegistry
	id   uint64
}

func (s *TimerStop) Stop() error {
	t, err := s.reg.remove(s.id)
	if err != nil {
		return err
	}
	err = s.poll.remove(t.fd.Raw())
	if cerr := t.fd.Close(); err == nil {
		err = cerr
	}
	return err
}
