package host

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

type fdState struct {
	raw  int
	refs atomic.Int32
}

// FD owns one kernel descriptor. The descriptor is shared by Clone and
// closed exactly once, when the last holder calls Close. A failed close
// panics: descriptor accounting is unrecoverable at that point.
type FD struct {
	state    *fdState
	released atomic.Bool
}

// newFD takes ownership of raw.
func newFD(raw int) *FD {
	s := &fdState{raw: raw}
	s.refs.Store(1)
	return &FD{state: s}
}

// Clone adds a holder. The returned FD must be closed independently.
func (f *FD) Clone() *FD {
	f.state.refs.Inc()
	return &FD{state: f.state}
}

// Raw returns the descriptor value. Only valid while this holder is open.
func (f *FD) Raw() int {
	return f.state.raw
}

// Close releases this holder, closing the descriptor on the last release.
func (f *FD) Close() error {
	if !f.released.CAS(false, true) {
		return errors.WithMessagef(ErrClosed, "fd %d", f.state.raw)
	}
	if f.state.refs.Dec() > 0 {
		return nil
	}
	if err := unix.Close(f.state.raw); err != nil {
		panic(fmt.Sprintf("closing fd %d: %v", f.state.raw, err))
	}
	return nil
}
