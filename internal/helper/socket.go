//go:build linux

// Package helper implements the connection-less, abstract-namespace
// datagram socket that receives helper-submitted events and in-band
// control messages (spec §4.J, §5 "Helper socket", §4.K). Every sender is
// authenticated by SO_PASSCRED/SCM_CREDENTIALS (must be uid 0) and a magic cookie in the
// message header; mismatches are rejected without being parsed further.
package helper

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// MessageType identifies the helper datagram's payload per spec §5.
type MessageType uint32

const (
	TypeUeventHelper MessageType = iota + 1
	TypeUeventInitSend
	TypeStopExecQueue
	TypeStartExecQueue
	TypeSetLogLevel
	TypeSetMaxChilds
)

// magic is this daemon's 8-byte handshake cookie. It is not wire-compatible
// with any other udev implementation; peers are expected to link this
// package's client helper, which stamps the same constant.
var magic = [8]byte{'d', 'e', 'v', 'n', 'o', 'd', 'e', 'd'}

const headerSize = 8 + 4 // magic + type

// Message is a parsed helper datagram.
type Message struct {
	Type   MessageType
	EnvBuf []byte
}

// Encode serializes a Message to the wire layout {magic[8], type u32, envbuf}.
func Encode(msgType MessageType, envbuf []byte) []byte {
	buf := make([]byte, headerSize+len(envbuf))
	copy(buf, magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], uint32(msgType))
	copy(buf[headerSize:], envbuf)
	return buf
}

// ParseMessage validates the magic cookie and decodes the header.
func ParseMessage(data []byte) (Message, error) {
	if len(data) < headerSize {
		return Message{}, fmt.Errorf("helper: datagram too short (%d bytes)", len(data))
	}
	if [8]byte(data[:8]) != magic {
		return Message{}, fmt.Errorf("helper: magic cookie mismatch")
	}
	return Message{
		Type:   MessageType(binary.LittleEndian.Uint32(data[8:12])),
		EnvBuf: data[headerSize:],
	}, nil
}

// Send connects to the daemon's abstract-namespace socket named name and
// sends one encoded message, for the `devnoded ctl` CLI client. The
// send-side socket is unbound (the kernel assigns an ephemeral abstract
// address), matching how udevadm's control client talks to udevd.
func Send(name string, msgType MessageType, envbuf []byte) error {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("helper: socket: %w", err)
	}
	defer unix.Close(fd)

	addr := &unix.SockaddrUnix{Name: "\x00" + name}
	if err := unix.Sendto(fd, Encode(msgType, envbuf), 0, addr); err != nil {
		return fmt.Errorf("helper: sendto %s: %w", name, err)
	}
	return nil
}

// Socket is the abstract-namespace datagram socket.
type Socket struct {
	fd int
}

// Open binds an abstract-namespace unix datagram socket named name (no
// leading NUL needed; Open adds it) and enables SO_PASSCRED so Receive can
// read the sender's credentials.
func Open(name string) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("helper: socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: "\x00" + name}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("helper: bind: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("helper: enable SO_PASSCRED: %w", err)
	}
	return &Socket{fd: fd}, nil
}

// Fd returns the raw file descriptor for the daemon's readiness wait.
func (s *Socket) Fd() int { return s.fd }

// Close releases the socket.
func (s *Socket) Close() error { return unix.Close(s.fd) }

// Received pairs a parsed Message with the sender's credentials.
type Received struct {
	Message Message
	UID     uint32
}

// Receive performs one non-blocking recvmsg, returning (nil, nil) on EAGAIN
// so callers can loop until drained. Senders that are not uid 0, or whose
// magic cookie is wrong, are rejected here (spec §4.J: "All control
// messages require the uid-0 credentials check").
func (s *Socket) Receive() (*Received, error) {
	buf := make([]byte, 16384)
	oob := make([]byte, unix.CmsgSpace(unix.SizeofUcred))

	n, oobn, _, _, err := unix.Recvmsg(s.fd, buf, oob, unix.MSG_DONTWAIT)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("helper: recvmsg: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil || len(scms) == 0 {
		return nil, fmt.Errorf("helper: missing peer credentials")
	}
	cred, err := unix.ParseUnixCredentials(&scms[0])
	if err != nil {
		return nil, fmt.Errorf("helper: parse peer credentials: %w", err)
	}
	if cred.Uid != 0 {
		return nil, fmt.Errorf("helper: rejected message from uid %d (not root)", cred.Uid)
	}

	msg, err := ParseMessage(buf[:n])
	if err != nil {
		return nil, err
	}
	return &Received{Message: msg, UID: cred.Uid}, nil
}
