package host

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/muxable/bthost/pkg/hci"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Matcher disambiguates multiple pending waits for the same event code. A
// Matcher value is also the registration key: two Expect calls with the
// same (code, matcher) pair fold into one entry.
type Matcher interface {
	Match(*hci.EventData) bool
}

type matchFn struct {
	fn func(*hci.EventData) bool
}

func (m *matchFn) Match(e *hci.EventData) bool {
	return m.fn(e)
}

// MatchFunc adapts a plain predicate to a Matcher. Every call produces a
// distinct registration key.
func MatchFunc(fn func(*hci.EventData) bool) Matcher {
	return &matchFn{fn: fn}
}

// MatchAny matches every event of the expected code.
func MatchAny() Matcher {
	return &matchFn{fn: func(*hci.EventData) bool { return true }}
}

// EventResult resolves one expectation: either the matching event or an
// error (ErrTimeout when the timer won).
type EventResult struct {
	Event *hci.EventData
	Err   error
}

// eventFilter installs and removes one kernel-level filter bit per event
// code. The real implementation drives the HCI_FILTER socket option; tests
// inject a fake.
type eventFilter interface {
	Install(hci.EventCode) error
	Remove(hci.EventCode) error
}

type expectKey struct {
	code    hci.EventCode
	matcher Matcher
}

type expectation struct {
	id     string
	result chan EventResult
	stop   *TimerStop
}

// eventEngine maps pending (event code, matcher) expectations to one-shot
// result channels and keeps the kernel event filter refcounted: a filter
// bit is installed exactly while at least one expectation of that code is
// live.
type eventEngine struct {
	mu       sync.Mutex
	pending  map[expectKey]*expectation
	refs     map[hci.EventCode]int
	filter   eventFilter
	newTimer func(time.Duration) (*TimerBuilder, error)
	log      *zap.Logger
}

func newEventEngine(filter eventFilter, newTimer func(time.Duration) (*TimerBuilder, error), log *zap.Logger) *eventEngine {
	return &eventEngine{
		pending:  make(map[expectKey]*expectation),
		refs:     make(map[hci.EventCode]int),
		filter:   filter,
		newTimer: newTimer,
		log:      log,
	}
}

// expect registers interest in the next event of code accepted by matcher.
// The returned channel resolves exactly once, with the event or ErrTimeout.
// Registering an already-pending (code, matcher) pair returns the existing
// channel.
func (g *eventEngine) expect(code hci.EventCode, matcher Matcher, timeout time.Duration) (<-chan EventResult, error) {
	key := expectKey{code: code, matcher: matcher}

	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.pending[key]; ok {
		g.log.Debug("folding duplicate expectation", zap.String("id", e.id), zap.Uint8("event", uint8(code)))
		return e.result, nil
	}

	e := &expectation{id: uuid.NewString(), result: make(chan EventResult, 1)}

	if err := g.installLocked(code); err != nil {
		return nil, err
	}

	if timeout > 0 {
		b, err := g.newTimer(timeout)
		if err != nil {
			g.removeLocked(code)
			return nil, err
		}
		b.OnFire(func() { g.expire(key) })
		e.stop = b.StopHandle()
		if err := b.Arm(); err != nil {
			g.removeLocked(code)
			return nil, err
		}
	}

	g.pending[key] = e
	g.log.Debug("expectation registered",
		zap.String("id", e.id), zap.Uint8("event", uint8(code)), zap.Duration("timeout", timeout))
	return e.result, nil
}

// expire is the timeout callback: it runs on the reactor goroutine after
// the timer removed itself from the registry.
func (g *eventEngine) expire(key expectKey) {
	g.mu.Lock()
	e, ok := g.pending[key]
	if ok {
		delete(g.pending, key)
		g.removeLocked(key.code)
	}
	g.mu.Unlock()
	if !ok {
		// Lost the race to a matching event.
		return
	}
	g.log.Debug("expectation timed out", zap.String("id", e.id), zap.Uint8("event", uint8(key.code)))
	e.result <- EventResult{Err: ErrTimeout}
}

// process decodes one event frame and resolves every pending expectation it
// matches. Frames matching nothing are dropped; malformed frames are logged
// and dropped, never fatal.
func (g *eventEngine) process(raw []byte) {
	ev, err := hci.UnmarshalEvent(raw)
	if err != nil {
		g.log.Error("dropping malformed event frame", zap.Error(err), zap.Binary("frame", raw))
		return
	}

	g.mu.Lock()
	var resolved []*expectation
	for key, e := range g.pending {
		if key.code != ev.Code || !key.matcher.Match(ev) {
			continue
		}
		delete(g.pending, key)
		g.removeLocked(key.code)
		resolved = append(resolved, e)
	}
	g.mu.Unlock()

	if len(resolved) == 0 {
		g.log.Debug("no expectation for event", zap.Uint8("event", uint8(ev.Code)))
		return
	}
	for _, e := range resolved {
		if e.stop != nil {
			if err := e.stop.Stop(); err != nil && !errors.Is(err, ErrTimerGone) {
				g.log.Warn("stopping expectation timer", zap.String("id", e.id), zap.Error(err))
			}
		}
		g.log.Debug("expectation resolved", zap.String("id", e.id), zap.Uint8("event", uint8(ev.Code)))
		e.result <- EventResult{Event: ev}
	}
}

func (g *eventEngine) installLocked(code hci.EventCode) error {
	g.refs[code]++
	if g.refs[code] > 1 {
		return nil
	}
	if err := g.filter.Install(code); err != nil {
		delete(g.refs, code)
		return err
	}
	return nil
}

func (g *eventEngine) removeLocked(code hci.EventCode) {
	n, ok := g.refs[code]
	if !ok {
		g.log.Warn("filter refcount underflow", zap.Uint8("event", uint8(code)))
		return
	}
	if n > 1 {
		g.refs[code] = n - 1
		return
	}
	delete(g.refs, code)
	if err := g.filter.Remove(code); err != nil {
		g.log.Warn("removing event filter", zap.Uint8("event", uint8(code)), zap.Error(err))
	}
}
