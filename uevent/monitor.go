// Package uevent implements the C10 kernel uevent monitor: it reads raw
// NETLINK_KOBJECT_UEVENT datagrams and turns each into a device number
// plus its udev environment, the input a SCAN request is synthesized
// from (spec section 2, component C10).
package uevent

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/nestybox/sid/domain"
)

// Event is one parsed uevent datagram.
type Event struct {
	Action string // "add", "remove", "change", ...
	DevPath string
	DevNo   domain.DevNo
	Seqnum  uint64
	Env     map[string]string
}

// Monitor owns the raw netlink socket the kernel broadcasts uevents on.
type Monitor struct {
	fd int
}

// Open binds a NETLINK_KOBJECT_UEVENT socket to the kernel multicast
// group. Must run as root (or with CAP_NET_ADMIN).
func Open() (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("uevent: socket: %w", err)
	}

	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: 1, // kernel's single kobject-uevent multicast group
		Pid:    0, // let the kernel assign our port id
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("uevent: bind: %w", err)
	}

	return &Monitor{fd: fd}, nil
}

func (m *Monitor) Close() error {
	return unix.Close(m.fd)
}

// Fd exposes the raw file descriptor for integration into an external
// event loop (select/epoll), matching the teacher's one-event-loop-per-
// process convention (spec section 5).
func (m *Monitor) Fd() int { return m.fd }

const maxDatagram = 64 * 1024

// Read blocks for the next uevent datagram and parses it.
func (m *Monitor) Read() (Event, error) {
	buf := make([]byte, maxDatagram)
	n, _, err := unix.Recvfrom(m.fd, buf, 0)
	if err != nil {
		return Event{}, fmt.Errorf("uevent: recvfrom: %w", err)
	}
	return Parse(buf[:n])
}

// Parse decodes one raw kobject-uevent datagram. The kernel's libudev
// wire format is a NUL-delimited sequence: the first token is
// "ACTION@DEVPATH", every subsequent token up to the final empty one is
// a "KEY=VALUE" environment entry.
func Parse(raw []byte) (Event, error) {
	tokens := bytes.Split(raw, []byte{0})
	if len(tokens) == 0 || len(tokens[0]) == 0 {
		return Event{}, fmt.Errorf("uevent: empty datagram")
	}

	head := string(tokens[0])
	at := strings.IndexByte(head, '@')
	if at < 0 {
		return Event{}, fmt.Errorf("uevent: malformed header %q", head)
	}

	ev := Event{
		Action:  head[:at],
		DevPath: head[at+1:],
		Env:     make(map[string]string),
	}

	for _, tok := range tokens[1:] {
		if len(tok) == 0 {
			continue
		}
		kv := string(tok)
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		ev.Env[kv[:eq]] = kv[eq+1:]
	}

	if major, minor, ok := parseDevNo(ev.Env); ok {
		ev.DevNo = domain.DevNo{Major: major, Minor: minor}
	}
	if sn, ok := ev.Env["SEQNUM"]; ok {
		if v, err := strconv.ParseUint(sn, 10, 64); err == nil {
			ev.Seqnum = v
		}
	}

	return ev, nil
}

func parseDevNo(env map[string]string) (major, minor uint32, ok bool) {
	majStr, majOK := env["MAJOR"]
	minStr, minOK := env["MINOR"]
	if !majOK || !minOK {
		return 0, 0, false
	}
	m1, err1 := strconv.ParseUint(majStr, 10, 32)
	m2, err2 := strconv.ParseUint(minStr, 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return uint32(m1), uint32(m2), true
}

// IsBlockEvent reports whether ev concerns a block subsystem device --
// the only uevents the scan pipeline cares about.
func IsBlockEvent(ev Event) bool {
	return ev.Env["SUBSYSTEM"] == "block"
}
