package host

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// The epoll user data is a flattened tag: 0 is the controller socket, 1 is
// the shutdown descriptor, and anything at or past timerTagStart is a timer
// id derived from that timer's own descriptor. Timer ids therefore cannot
// collide while the timer descriptor stays open.
const (
	tagController uint64 = 0
	tagShutdown   uint64 = 1
	timerTagStart uint64 = 2
)

func timerTag(fd int) uint64 {
	return uint64(fd) + timerTagStart
}

type wakeKind int

const (
	wakeController wakeKind = iota
	wakeShutdown
	wakeTimer
)

// wakeup is the typed form of one epoll tag. The raw integer never leaves
// the poller.
type wakeup struct {
	kind  wakeKind
	timer uint64
}

func decodeTag(tag uint64) wakeup {
	switch tag {
	case tagController:
		return wakeup{kind: wakeController}
	case tagShutdown:
		return wakeup{kind: wakeShutdown}
	default:
		return wakeup{kind: wakeTimer, timer: tag}
	}
}

// poller owns the epoll descriptor shared by the reactor, the shutdown
// signal and every live timer.
type poller struct {
	fd *FD
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll create")
	}
	return &poller{fd: newFD(epfd)}, nil
}

func (p *poller) add(fd int, tag uint64) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(tag)}
	if err := unix.EpollCtl(p.fd.Raw(), unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return errors.Wrapf(err, "epoll add fd %d", fd)
	}
	return nil
}

func (p *poller) remove(fd int) error {
	if err := unix.EpollCtl(p.fd.Raw(), unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return errors.Wrapf(err, "epoll del fd %d", fd)
	}
	return nil
}

// wait blocks until at least one descriptor is ready and fills out with the
// decoded tags in kernel-reported order. EINTR is retried here; any other
// failure is fatal to the caller.
func (p *poller) wait(events []unix.EpollEvent, out []wakeup) (int, error) {
	for {
		n, err := unix.EpollWait(p.fd.Raw(), events, -1)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return 0, errors.Wrap(err, "epoll wait")
		}
		for i := 0; i < n; i++ {
			out[i] = decodeTag(uint64(uint32(events[i].Fd)))
		}
		return n, nil
	}
}

func (p *poller) close() error {
	return p.fd.Close()
}
