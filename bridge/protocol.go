package bridge

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nestybox/sid/domain"
	"github.com/nestybox/sid/sysio"
)

// ProtoVersion is the compiled wire-protocol version every request's
// header must carry; a mismatch is rejected rather than processed
// against a protocol the daemon may not implement the same way (spec
// section 6).
const ProtoVersion uint32 = 1

// Format selects how a response payload is rendered (spec section 6).
type Format int

const (
	FormatTable Format = iota
	FormatJSON
	FormatEnv
)

// Header is the fixed-size preamble of a request/response frame.
type Header struct {
	Status uint32
	Proto  uint32
	Cmd    domain.Cmd
	Flags  uint32
}

const headerSize = 4 * 4

// Message is one size-prefixed {header, payload} frame exchanged over
// the client socket (spec section 6).
type Message struct {
	Header  Header
	Payload []byte
}

// ReadMessage reads one framed request/response from r.
func ReadMessage(r io.Reader) (Message, error) {
	raw, err := sysio.ReadFrame(r)
	if err != nil {
		return Message{}, fmt.Errorf("bridge: reading message frame: %w", err)
	}
	if len(raw) < headerSize {
		return Message{}, fmt.Errorf("bridge: frame too short for header (%d bytes)", len(raw))
	}

	h := Header{
		Status: binary.BigEndian.Uint32(raw[0:4]),
		Proto:  binary.BigEndian.Uint32(raw[4:8]),
		Cmd:    domain.Cmd(binary.BigEndian.Uint32(raw[8:12])),
		Flags:  binary.BigEndian.Uint32(raw[12:16]),
	}

	return Message{Header: h, Payload: raw[headerSize:]}, nil
}

// WriteMessage writes m to w as a single size-prefixed frame.
func WriteMessage(w io.Writer, m Message) error {
	var buf bytes.Buffer
	var u32 [4]byte

	binary.BigEndian.PutUint32(u32[:], m.Header.Status)
	buf.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], m.Header.Proto)
	buf.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], uint32(m.Header.Cmd))
	buf.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], m.Header.Flags)
	buf.Write(u32[:])
	buf.Write(m.Payload)

	return sysio.WriteFrame(w, buf.Bytes())
}

func cmdName(c domain.Cmd) string {
	switch c {
	case domain.CmdActive:
		return "ACTIVE"
	case domain.CmdCheckpoint:
		return "CHECKPOINT"
	case domain.CmdScan:
		return "SCAN"
	case domain.CmdVersion:
		return "VERSION"
	case domain.CmdDBDump:
		return "DBDUMP"
	case domain.CmdDBStats:
		return "DBSTATS"
	case domain.CmdResources:
		return "RESOURCES"
	case domain.CmdReply:
		return "REPLY"
	default:
		return "UNKNOWN"
	}
}
