//go:build linux

// Package netlink opens the kernel uevent broadcast socket the daemon's
// main loop polls alongside the helper socket and its self-pipe (spec
// §4.J, §5 "Netlink uevent socket"). Adapted from the teacher's pure-Go,
// cgo-free AF_NETLINK reader in its pkg/linuxav/hotplug: that package ran its
// own goroutine and channel; the daemon is single-threaded and cooperative,
// so this version exposes the raw fd for the daemon's own readiness wait
// instead of driving a Run loop.
package netlink

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const netlinkKobjectUEvent = 15

// Socket is the kernel uevent netlink socket, bound to all broadcast groups
// per spec §5.
type Socket struct {
	fd int
}

// Open creates and binds the netlink socket.
func Open() (*Socket, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, netlinkKobjectUEvent)
	if err != nil {
		return nil, fmt.Errorf("netlink: socket: %w", err)
	}

	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: 0xffffffff, // all groups, per spec §5
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netlink: bind: %w", err)
	}

	recvBuf := 1 << 20
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, recvBuf)

	return &Socket{fd: fd}, nil
}

// Fd returns the raw file descriptor for the daemon's readiness wait.
func (s *Socket) Fd() int { return s.fd }

// Close releases the socket.
func (s *Socket) Close() error { return unix.Close(s.fd) }

// ReadPayload performs one non-blocking receive and returns the raw
// datagram for uevent.ParseNetlinkPayload. Returns (nil, nil) on EAGAIN so
// callers can simply loop until drained.
func (s *Socket) ReadPayload() ([]byte, error) {
	buf := make([]byte, 8192)
	n, _, err := unix.Recvfrom(s.fd, buf, unix.MSG_DONTWAIT)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, nil
		}
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("netlink: recvfrom: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return buf[:n], nil
}
