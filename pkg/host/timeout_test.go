package host

import (
	"testing"
	"time"

	"github.com/pkg/errors"
)

func newTestPoller(t *testing.T) *poller {
	t.Helper()
	p, err := newPoller()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.close() })
	return p
}

func TestTimerArmWithoutCallback(t *testing.T) {
	p := newTestPoller(t)
	reg := newTimerRegistry()

	b, err := newTimerBuilder(p, reg, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		p.remove(b.fd.Raw())
		b.fd.Close()
	}()

	if err := b.Arm(); !errors.Is(err, ErrTimerNoCallback) {
		t.Errorf("Arm without callback: got %v, want ErrTimerNoCallback", err)
	}
	if _, ok := reg.timers[b.id]; ok {
		t.Error("failed arm left a registry entry behind")
	}
}

func TestTimerStop(t *testing.T) {
	p := newTestPoller(t)
	reg := newTimerRegistry()

	b, err := newTimerBuilder(p, reg, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	b.OnFire(func() { t.Error("stopped timer fired") })
	stop := b.StopHandle()
	if err := b.Arm(); err != nil {
		t.Fatal(err)
	}
	if err := stop.Stop(); err != nil {
		t.Fatal(err)
	}
	if len(reg.timers) != 0 {
		t.Error("stop left a registry entry behind")
	}
	if err := stop.Stop(); !errors.Is(err, ErrTimerGone) {
		t.Errorf("second stop: got %v, want ErrTimerGone", err)
	}
}

func TestTimerStopAfterFire(t *testing.T) {
	p := newTestPoller(t)
	reg := newTimerRegistry()

	fired := false
	b, err := newTimerBuilder(p, reg, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	b.OnFire(func() { fired = true })
	stop := b.StopHandle()
	if err := b.Arm(); err != nil {
		t.Fatal(err)
	}

	// Resolve the timer the way the reactor does.
	tm, err := reg.remove(b.id)
	if err != nil {
		t.Fatal(err)
	}
	p.remove(tm.fd.Raw())
	tm.fd.Close()
	tm.fire()

	if !fired {
		t.Error("callback not invoked on fire")
	}
	if err := stop.Stop(); !errors.Is(err, ErrTimerGone) {
		t.Errorf("stop after fire: got %v, want ErrTimerGone", err)
	}
}

func TestTimerRegistryDuplicateID(t *testing.T) {
	reg := newTimerRegistry()
	if err := reg.add(&timer{id: 7, fire: func() {}}); err != nil {
		t.Fatal(err)
	}
	if err := reg.add(&timer{id: 7, fire: func() {}}); !errors.Is(err, ErrTimerExists) {
		t.Errorf("duplicate add: got %v, want ErrTimerExists", err)
	}
	// The original entry must survive the rejected insert.
	if _, err := reg.remove(7); err != nil {
		t.Errorf("original entry lost after duplicate add: %v", err)
	}
	if _, err := reg.remove(7); !errors.Is(err, ErrTimerGone) {
		t.Errorf("remove of absent id: got %v, want ErrTimerGone", err)
	}
}

func TestTimerTagAvoidsReservedRange(t *testing.T) {
	for _, fd := range []int{0, 1, 2, 100} {
		if tag := timerTag(fd); tag < timerTagStart {
			t.Errorf("timerTag(%d) = %d collides with a reserved tag", fd, tag)
		}
	}
	if w := decodeTag(timerTag(0)); w.kind != wakeTimer {
		t.Error("timer tag decoded as a reserved wakeup")
	}
	if w := decodeTag(tagController); w.kind != wakeController {
		t.Error("controller tag misdecoded")
	}
	if w := decodeTag(tagShutdown); w.kind != wakeShutdown {
		t.Error("shutdown tag misdecoded")
	}
}
