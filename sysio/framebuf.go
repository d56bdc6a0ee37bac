package sysio

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// maxFrameSize bounds a single size-prefixed frame to guard against a
// corrupt or hostile length prefix causing an unbounded allocation.
const maxFrameSize = 64 << 20

// WriteFrame writes buf to w preceded by a 4-byte big-endian length
// prefix -- the size-prefix framing every internal worker<->proxy channel
// buffer uses (spec section 4.6).
func WriteFrame(w io.Writer, buf []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(buf)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one size-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("sysio: frame size %d exceeds limit", size)
	}
	if size == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// NewMemfd creates an anonymous memfd; no sealing flags are set. Nothing in
// this module calls it: export buffers are sent inline in TagDataExt
// frames.
func NewMemfd(name string) (int, error) {
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return -1, fmt.Errorf("sysio: memfd_create %s: %w", name, err)
	}
	return fd, nil
}
