package host

import "sync"

// wakeToken is the cross-thread wake primitive for a suspended logical
// wait: the reactor triggers it, the suspended caller re-checks. Trigger is
// idempotent, and a trigger that happens before anyone waits must still be
// observed by the first wait.
type wakeToken struct {
	mu        sync.Mutex
	ch        chan struct{}
	triggered bool
}

func newWakeToken() *wakeToken {
	return &wakeToken{ch: make(chan struct{})}
}

func (w *wakeToken) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.triggered {
		return
	}
	w.triggered = true
	close(w.ch)
}

// wait returns a channel closed at (or before) the first trigger.
func (w *wakeToken) wait() <-chan struct{} {
	return w.ch
}
