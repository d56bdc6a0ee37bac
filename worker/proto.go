// Package worker implements the C8 worker-process pool: each worker is a
// re-exec'd child process that carries out one command's scan pipeline
// away from the main daemon, communicating over a pair of framed
// channels established at fork time (spec section 4.6).
package worker

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"github.com/nestybox/sid/domain"
	"github.com/nestybox/sid/sysio"
)

// SendMessage writes one internally-tagged, size-prefixed frame to w:
// the 1-byte domain.InternalTag followed by the size-prefixed payload
// (spec section 4.6).
func SendMessage(w io.Writer, tag domain.InternalTag, payload []byte) error {
	if _, err := w.Write([]byte{byte(tag)}); err != nil {
		return fmt.Errorf("worker: writing tag: %w", err)
	}
	return sysio.WriteFrame(w, payload)
}

// ReadMessage reads one tagged frame written by SendMessage.
func ReadMessage(r io.Reader) (domain.InternalTag, []byte, error) {
	var tagBuf [1]byte
	if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
		return 0, nil, err
	}
	payload, err := sysio.ReadFrame(r)
	if err != nil {
		return 0, nil, fmt.Errorf("worker: reading frame: %w", err)
	}
	return domain.InternalTag(tagBuf[0]), payload, nil
}

// SendFD passes fd across sock's underlying unix socket via SCM_RIGHTS
// ancillary data. Nothing in this module calls it: a worker's export
// buffer travels inline as a TagDataExt frame payload (see RunLoop), and
// no client socket is handed to a worker.
func SendFD(sockFd int, fd int) error {
	rights := unix.UnixRights(fd)
	if err := unix.Sendmsg(sockFd, []byte{0}, rights, nil, 0); err != nil {
		return fmt.Errorf("worker: sendmsg SCM_RIGHTS: %w", err)
	}
	return nil
}

// RecvFD receives one file descriptor sent by SendFD.
func RecvFD(sockFd int) (int, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))

	_, oobn, _, _, err := unix.Recvmsg(sockFd, buf, oob, 0)
	if err != nil {
		return -1, fmt.Errorf("worker: recvmsg: %w", err)
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, fmt.Errorf("worker: parsing control message: %w", err)
	}
	if len(cmsgs) == 0 {
		return -1, fmt.Errorf("worker: no control message received")
	}

	fds, err := unix.ParseUnixRights(&cmsgs[0])
	if err != nil {
		return -1, fmt.Errorf("worker: parsing unix rights: %w", err)
	}
	if len(fds) == 0 {
		return -1, fmt.Errorf("worker: no fd received")
	}

	return fds[0], nil
}
