// Package host is the host-side runtime for the HCI transport: it owns the
// single reactor goroutine multiplexing the controller socket, one-shot
// timers and the shutdown descriptor over epoll, and exposes the
// asynchronous event-expectation and ACL-receive surfaces on top of it.
package host

import "github.com/pkg/errors"

var (
	// ErrTimeout resolves an event expectation whose timer expired before a
	// matching event arrived.
	ErrTimeout = errors.New("expectation timed out")

	// ErrTimerGone is returned by a stop of a timer that already fired (and
	// removed itself) or was already stopped. Callers racing a natural
	// firing treat this as acceptable.
	ErrTimerGone = errors.New("timer no longer exists")

	// ErrTimerExists rejects arming a timer under an id that is already
	// registered.
	ErrTimerExists = errors.New("timer id already registered")

	// ErrTimerNoCallback rejects arming a timer with no callback attached.
	ErrTimerNoCallback = errors.New("timer armed without a callback")

	// ErrClosed is returned by operations on an adapter or descriptor that
	// has been torn down.
	ErrClosed = errors.New("adapter closed")
)
