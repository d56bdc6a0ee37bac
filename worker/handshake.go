package worker

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/vishvananda/netlink/nl"

	"github.com/nestybox/sid/domain"
)

// handshakeProto tags the netlink request as sid's own worker-handshake
// message; it is never sent over a real netlink socket, so the value only
// has to avoid colliding with the other Data appended to the same request.
const handshakeProto = 0x5117

// Attribute types carried in the handshake payload -- one RtAttr per
// ChannelSpec field plus the initial InternalTag the worker should treat
// the channel as already having received.
const (
	attrChannelKind = iota + 1
	attrChannelDir
	attrChannelName
	attrInitialTag
)

// encodeHandshake builds the message Spawn writes down a freshly created
// channel before any framed worker traffic begins, so a re-exec'd worker
// learns the shape of the channel it inherited without a side-channel env
// var. This reuses `vishvananda/netlink/nl`'s generic attribute encoder the
// same way the teacher's nsenter/event.go Launch() builds an
// nl.NewNetlinkRequest and hands it to a freshly forked child over a plain
// pipe -- sid has no Bytemsg/libcontainer attribute to carry, so the
// ChannelSpec fields and initial tag are encoded as flat RtAttrs instead.
func encodeHandshake(spec domain.ChannelSpec, tag domain.InternalTag) []byte {
	req := nl.NewNetlinkRequest(handshakeProto, 0)
	req.AddData(nl.NewRtAttr(attrChannelKind, []byte{byte(spec.Kind)}))
	req.AddData(nl.NewRtAttr(attrChannelDir, []byte{byte(spec.Dir)}))
	req.AddData(nl.NewRtAttr(attrChannelName, []byte(spec.Name)))
	req.AddData(nl.NewRtAttr(attrInitialTag, []byte{byte(tag)}))
	return req.Serialize()
}

// decodeHandshake recovers the ChannelSpec and initial tag from a complete
// encodeHandshake message (header included).
func decodeHandshake(buf []byte) (domain.ChannelSpec, domain.InternalTag, error) {
	if len(buf) < syscall.NLMSG_HDRLEN {
		return domain.ChannelSpec{}, 0, fmt.Errorf("worker: handshake message too short (%d bytes)", len(buf))
	}

	attrs, err := nl.ParseRouteAttr(buf[syscall.NLMSG_HDRLEN:])
	if err != nil {
		return domain.ChannelSpec{}, 0, fmt.Errorf("worker: parsing handshake attributes: %w", err)
	}

	var spec domain.ChannelSpec
	var tag domain.InternalTag
	for _, a := range attrs {
		switch int(a.Attr.Type) {
		case attrChannelKind:
			if len(a.Value) > 0 {
				spec.Kind = domain.ChannelKind(a.Value[0])
			}
		case attrChannelDir:
			if len(a.Value) > 0 {
				spec.Dir = domain.ChannelDir(a.Value[0])
			}
		case attrChannelName:
			spec.Name = string(a.Value)
		case attrInitialTag:
			if len(a.Value) > 0 {
				tag = domain.InternalTag(a.Value[0])
			}
		}
	}
	return spec, tag, nil
}

// ReadHandshake reads and decodes the fixed-format handshake message Spawn
// writes immediately after forking. The worker side (cmd/sid's runWorker)
// calls this before entering RunLoop, so it learns the ChannelSpec its
// inherited fd actually represents instead of assuming one.
func ReadHandshake(conn *os.File) (domain.ChannelSpec, domain.InternalTag, error) {
	hdr := make([]byte, syscall.NLMSG_HDRLEN)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return domain.ChannelSpec{}, 0, fmt.Errorf("worker: reading handshake header: %w", err)
	}
	total := binary.LittleEndian.Uint32(hdr[0:4])
	if total < uint32(len(hdr)) {
		return domain.ChannelSpec{}, 0, fmt.Errorf("worker: invalid handshake length %d", total)
	}

	msg := make([]byte, total)
	copy(msg, hdr)
	if rest := msg[len(hdr):]; len(rest) > 0 {
		if _, err := io.ReadFull(conn, rest); err != nil {
			return domain.ChannelSpec{}, 0, fmt.Errorf("worker: reading handshake body: %w", err)
		}
	}
	return decodeHandshake(msg)
}
