package host

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/muxable/bthost/pkg/hci"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func ioR(t, nr, size uintptr) uintptr {
	return (2 << 30) | (t << 8) | nr | (size << 16)
}

func ioW(t, nr, size uintptr) uintptr {
	return (1 << 30) | (t << 8) | nr | (size << 16)
}

func ioctl(fd, op, arg uintptr) error {
	if _, _, ep := unix.Syscall(unix.SYS_IOCTL, fd, op, arg); ep != 0 {
		return ep
	}
	return nil
}

const (
	ioctlSize     = 4
	hciMaxDevices = 16
	typHCI        = 72 // 'H'

	solHCI       = 0
	hciFilterOpt = 2
)

var (
	hciUpDevice      = ioW(typHCI, 201, ioctlSize) // HCIDEVUP
	hciDownDevice    = ioW(typHCI, 202, ioctlSize) // HCIDEVDOWN
	hciGetDeviceList = ioR(typHCI, 210, ioctlSize) // HCIGETDEVLIST
)

type devListRequest struct {
	devNum     uint16
	devRequest [hciMaxDevices]struct {
		id  uint16
		opt uint32
	}
}

// deviceSocket is the raw HCI user-channel socket bound to one controller.
// The reactor goroutine is its only reader; writes are serialized here.
type deviceSocket struct {
	fd  *FD
	wmu sync.Mutex
	log *zap.Logger
}

// openDevice binds a raw HCI socket to the user channel of device id. If id
// is negative, every device the kernel lists is tried in order.
func openDevice(id int, log *zap.Logger) (*deviceSocket, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return nil, errors.Wrap(err, "hci socket")
	}

	if id >= 0 {
		if err := bindDevice(fd, id); err != nil {
			unix.Close(fd)
			return nil, err
		}
		return &deviceSocket{fd: newFD(fd), log: log}, nil
	}

	req := devListRequest{devNum: hciMaxDevices}
	if err := ioctl(uintptr(fd), hciGetDeviceList, uintptr(unsafe.Pointer(&req))); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "hci device list")
	}
	var msg string
	for i := 0; i < int(req.devNum); i++ {
		candidate := int(req.devRequest[i].id)
		err := bindDevice(fd, candidate)
		if err == nil {
			return &deviceSocket{fd: newFD(fd), log: log}, nil
		}
		msg = msg + fmt.Sprintf("(hci%d: %s)", candidate, err)
	}
	unix.Close(fd)
	return nil, errors.Errorf("no devices available: %s", msg)
}

func bindDevice(fd, id int) error {
	// Reset the device in case a previous session didn't clean up properly.
	if err := ioctl(uintptr(fd), hciDownDevice, uintptr(id)); err != nil {
		return errors.Wrapf(err, "hci%d down", id)
	}
	if err := ioctl(uintptr(fd), hciUpDevice, uintptr(id)); err != nil {
		return errors.Wrapf(err, "hci%d up", id)
	}

	// The user channel requires exclusive access and the device must be
	// down at the time of binding.
	if err := ioctl(uintptr(fd), hciDownDevice, uintptr(id)); err != nil {
		return errors.Wrapf(err, "hci%d down", id)
	}

	sa := unix.SockaddrHCI{Dev: uint16(id), Channel: unix.HCI_CHANNEL_USER}
	if err := unix.Bind(fd, &sa); err != nil {
		return errors.Wrapf(err, "bind hci%d", id)
	}

	// Poll for 20ms to see if any stale data is pending, then clear it.
	pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	unix.Poll(pfds, 20)
	if pfds[0].Revents&unix.POLLIN > 0 {
		b := make([]byte, 100)
		unix.Read(fd, b)
	}
	return nil
}

func (s *deviceSocket) write(buf []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.log.Debug("bluetooth writing", zap.String("packet", fmt.Sprintf("%x", buf)))
	if _, err := unix.Write(s.fd.Raw(), buf); err != nil {
		return errors.Wrap(err, "hci write")
	}
	return nil
}

func (s *deviceSocket) close() error {
	return s.fd.Close()
}

// socketFilter drives the kernel-resident HCI event filter through the
// HCI_FILTER socket option, mirroring the bitmap in user space so install
// and remove never need a read-back.
type socketFilter struct {
	fd     *FD
	filter hci.Filter
}

func newSocketFilter(fd *FD) *socketFilter {
	f := &socketFilter{fd: fd}
	f.filter.SetPacketType(hci.PacketTypeEvent)
	return f
}

func (f *socketFilter) Install(code hci.EventCode) error {
	f.filter.SetEvent(code)
	return f.apply()
}

func (f *socketFilter) Remove(code hci.EventCode) error {
	f.filter.ClearEvent(code)
	return f.apply()
}

func (f *socketFilter) apply() error {
	buf := f.filter.Marshal()
	if err := unix.SetsockoptString(f.fd.Raw(), solHCI, hciFilterOpt, string(buf)); err != nil {
		return errors.Wrap(err, "set hci filter")
	}
	return nil
}
