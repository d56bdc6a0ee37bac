package sysio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nestybox/sid/domain"
)

// ExportEntry pairs a composite key with the record stored at it, the
// unit the worker-side SYNC export and proxy-side import walk (spec
// section 4.7).
type ExportEntry struct {
	Key    string
	Record domain.Record
}

// EncodeExportBuffer serializes entries into the worker's export-buffer
// wire format: a sequence of per-record
// {flags, gennum, seqnum, owner, key, is_vector, value|iov-list}
// records, prefixed by the total byte count (spec section 4.7). The
// result is suitable to write directly into a memfd via NewMemfd.
func EncodeExportBuffer(entries []ExportEntry) ([]byte, error) {
	var body bytes.Buffer
	for _, e := range entries {
		if err := encodeRecord(&body, e); err != nil {
			return nil, err
		}
	}

	var out bytes.Buffer
	if err := WriteFrame(&out, body.Bytes()); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func encodeRecord(w *bytes.Buffer, e ExportEntry) error {
	var u32 [4]byte
	var u64 [8]byte

	binary.BigEndian.PutUint32(u32[:], uint32(e.Record.Flags))
	w.Write(u32[:])

	binary.BigEndian.PutUint64(u64[:], e.Record.Gennum)
	w.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], e.Record.Seqnum)
	w.Write(u64[:])

	owner := []byte(e.Record.Owner)
	binary.BigEndian.PutUint32(u32[:], uint32(len(owner)))
	w.Write(u32[:])
	w.Write(owner)

	key := []byte(e.Key)
	binary.BigEndian.PutUint32(u32[:], uint32(len(key)))
	w.Write(u32[:])
	w.Write(key)

	if e.Record.IsVector {
		w.WriteByte(1)
		binary.BigEndian.PutUint32(u32[:], uint32(len(e.Record.Payload)))
		w.Write(u32[:])
		for _, elem := range e.Record.Payload {
			binary.BigEndian.PutUint32(u32[:], uint32(len(elem)))
			w.Write(u32[:])
			w.Write(elem)
		}
	} else {
		w.WriteByte(0)
		blob := e.Record.Blob()
		binary.BigEndian.PutUint32(u32[:], uint32(len(blob)))
		w.Write(u32[:])
		w.Write(blob)
	}
	return nil
}

// DecodeExportBuffer parses a buffer produced by EncodeExportBuffer back
// into its entries, in order.
func DecodeExportBuffer(buf []byte) ([]ExportEntry, error) {
	body, err := ReadFrame(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("sysio: reading export buffer frame: %w", err)
	}

	r := bytes.NewReader(body)
	var entries []ExportEntry
	for r.Len() > 0 {
		e, err := decodeRecord(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readBytes(r *bytes.Reader, n uint32) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func decodeRecord(r *bytes.Reader) (ExportEntry, error) {
	flags, err := readU32(r)
	if err != nil {
		return ExportEntry{}, err
	}
	gennum, err := readU64(r)
	if err != nil {
		return ExportEntry{}, err
	}
	seqnum, err := readU64(r)
	if err != nil {
		return ExportEntry{}, err
	}
	ownerLen, err := readU32(r)
	if err != nil {
		return ExportEntry{}, err
	}
	owner, err := readBytes(r, ownerLen)
	if err != nil {
		return ExportEntry{}, err
	}
	keyLen, err := readU32(r)
	if err != nil {
		return ExportEntry{}, err
	}
	key, err := readBytes(r, keyLen)
	if err != nil {
		return ExportEntry{}, err
	}
	isVectorByte, err := r.ReadByte()
	if err != nil {
		return ExportEntry{}, err
	}

	rec := domain.Record{
		Gennum: gennum,
		Seqnum: seqnum,
		Flags:  domain.Flags(flags),
		Owner:  string(owner),
	}

	if isVectorByte == 1 {
		rec.IsVector = true
		count, err := readU32(r)
		if err != nil {
			return ExportEntry{}, err
		}
		rec.Payload = make([][]byte, count)
		for i := uint32(0); i < count; i++ {
			elemLen, err := readU32(r)
			if err != nil {
				return ExportEntry{}, err
			}
			elem, err := readBytes(r, elemLen)
			if err != nil {
				return ExportEntry{}, err
			}
			rec.Payload[i] = elem
		}
	} else {
		valLen, err := readU32(r)
		if err != nil {
			return ExportEntry{}, err
		}
		val, err := readBytes(r, valLen)
		if err != nil {
			return ExportEntry{}, err
		}
		rec.Payload = [][]byte{val}
	}

	return ExportEntry{Key: string(key), Record: rec}, nil
}
