package host

import (
	"context"
	"testing"
	"time"

	"github.com/muxable/bthost/pkg/hci"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// testAdapter wires an adapter over one end of a seqpacket socketpair so
// each write from the far end arrives as exactly one framed message, the
// way the controller socket behaves.
func testAdapter(t *testing.T, opts ...Option) (*Adapter, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatal(err)
	}
	dev := &deviceSocket{fd: newFD(fds[0]), log: zap.NewNop()}
	a, err := newAdapter(dev, newFakeFilter(), applyOptions(append([]Option{WithLogger(zap.NewNop())}, opts...)))
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		t.Fatal(err)
	}
	t.Cleanup(func() {
		a.Close()
		unix.Close(fds[1])
	})
	return a, fds[1]
}

func writeFrame(t *testing.T, fd int, frame []byte) {
	t.Helper()
	if _, err := unix.Write(fd, frame); err != nil {
		t.Fatal(err)
	}
}

func TestAdapterExpectEvent(t *testing.T) {
	a, ctrl := testAdapter(t)

	ch, err := a.Expect(hci.EventCodeCommandComplete, MatchAny(), 0)
	if err != nil {
		t.Fatal(err)
	}
	writeFrame(t, ctrl, []byte{byte(hci.PacketTypeEvent), 0x0E, 0x04, 0x01, 0x03, 0x0C, 0x00})

	select {
	case r := <-ch:
		if r.Err != nil {
			t.Fatal(r.Err)
		}
		cc, err := r.Event.CommandComplete()
		if err != nil {
			t.Fatal(err)
		}
		if cc.CommandOpcode != hci.OpcodeReset {
			t.Errorf("got opcode %#x", cc.CommandOpcode)
		}
	case <-time.After(time.Second):
		t.Fatal("expectation never resolved")
	}
}

func TestAdapterExpectTimeout(t *testing.T) {
	a, _ := testAdapter(t)

	ch, err := a.Expect(hci.EventCodeHardwareError, MatchAny(), 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case r := <-ch:
		if !errors.Is(r.Err, ErrTimeout) {
			t.Fatalf("got %+v, want ErrTimeout", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}
}

func TestAdapterEventBeatsTimeout(t *testing.T) {
	a, ctrl := testAdapter(t)

	ch, err := a.Expect(hci.EventCodeHardwareError, MatchAny(), 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)
	writeFrame(t, ctrl, []byte{byte(hci.PacketTypeEvent), byte(hci.EventCodeHardwareError), 0x01, 0x42})

	r := <-ch
	if r.Err != nil {
		t.Fatalf("timeout won over an earlier event: %v", r.Err)
	}
	if r.Event.Payload[0] != 0x42 {
		t.Errorf("got payload %x", r.Event.Payload)
	}

	// Let the original deadline pass: the stopped timeout must not produce
	// a second resolution.
	time.Sleep(60 * time.Millisecond)
	select {
	case r := <-ch:
		t.Fatalf("second resolution observed: %+v", r)
	default:
	}
}

func TestAdapterCommand(t *testing.T) {
	a, ctrl := testAdapter(t)

	// Emulate the controller: read the command, answer with its Command
	// Complete carrying a success status.
	go func() {
		buf := make([]byte, 32)
		n, err := unix.Read(ctrl, buf)
		if err != nil || n < 3 || buf[0] != byte(hci.PacketTypeCommand) {
			return
		}
		unix.Write(ctrl, []byte{byte(hci.PacketTypeEvent), 0x0E, 0x04, 0x01, buf[1], buf[2], 0x00})
	}()

	if err := a.Reset(); err != nil {
		t.Fatal(err)
	}
}

func TestAdapterACLReceive(t *testing.T) {
	a, ctrl := testAdapter(t)

	a.StartReceiver(0x40)
	writeFrame(t, ctrl, []byte{byte(hci.PacketTypeACLData), 0x40, 0x20, 0x02, 0x00, 0xAA, 0xBB})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pkts, err := a.ReadACL(ctx, 0x40)
	if err != nil {
		t.Fatal(err)
	}
	if len(pkts) != 1 || pkts[0].ConnectionHandle != 0x40 || pkts[0].PacketBoundaryFlag != 0x02 {
		t.Fatalf("got %+v", pkts)
	}
	a.StopReceiver(0x40)
}

func TestAdapterDropsUnparseableFrames(t *testing.T) {
	a, ctrl := testAdapter(t)

	// A truncated ACL frame and an unknown indicator are logged and
	// dropped; the reactor keeps running and later frames still dispatch.
	writeFrame(t, ctrl, []byte{byte(hci.PacketTypeACLData), 0x40})
	writeFrame(t, ctrl, []byte{0xEE, 0x01, 0x02})
	writeFrame(t, ctrl, []byte{byte(hci.PacketTypeSynchronousData), 0x00})

	ch, err := a.Expect(hci.EventCodeHardwareError, MatchAny(), 0)
	if err != nil {
		t.Fatal(err)
	}
	writeFrame(t, ctrl, []byte{byte(hci.PacketTypeEvent), byte(hci.EventCodeHardwareError), 0x01, 0x01})
	select {
	case r := <-ch:
		if r.Err != nil {
			t.Fatal(r.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("reactor stopped dispatching after a bad frame")
	}
}

func TestAdapterCommandFrameIsFatal(t *testing.T) {
	a, ctrl := testAdapter(t)

	writeFrame(t, ctrl, []byte{byte(hci.PacketTypeCommand), 0x03, 0x0C, 0x00})

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("reactor survived a protocol violation")
	}
}

func TestAdapterCloseIdempotent(t *testing.T) {
	a, _ := testAdapter(t)

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestAdapterClosePendingTimer(t *testing.T) {
	a, _ := testAdapter(t)

	// An expectation with a long timeout leaves an armed timer; Close must
	// release it with the rest of the adapter.
	if _, err := a.Expect(hci.EventCodeHardwareError, MatchAny(), time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if len(a.timers.timers) != 0 {
		t.Error("armed timer survived Close")
	}
}
