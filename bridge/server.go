package bridge

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/nestybox/sid/domain"
	"github.com/nestybox/sid/keycodec"
	"github.com/nestybox/sid/metrics"
	"github.com/nestybox/sid/worker"
)

// Server is the daemon's front-end: it accepts client connections on a
// listening socket, authorizes privileged commands by peer UID, and
// dispatches each request (spec section 6).
type Server struct {
	ln      net.Listener
	store   domain.Store
	pool    *worker.Pool
	version string

	// SnapshotPath is where CHECKPOINT dumps the KV store. Left unset,
	// CHECKPOINT fails rather than silently writing somewhere unexpected.
	SnapshotPath string

	// Metrics records scan/KV/worker-pool observability. A nil Metrics
	// (the zero value) is a valid no-op collector.
	Metrics *metrics.Metrics
}

// NewServer constructs a Server bound to an already-open listener (see
// Listen). Metrics defaults to metrics.NullMetrics(); set Server.Metrics
// directly to enable collection.
func NewServer(ln net.Listener, store domain.Store, pool *worker.Pool, version string) *Server {
	return &Server{ln: ln, store: store, pool: pool, version: version, Metrics: metrics.NullMetrics()}
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return fmt.Errorf("bridge: accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	msg, err := ReadMessage(conn)
	if err != nil {
		logrus.Warnf("bridge: reading request: %v", err)
		return
	}

	if msg.Header.Proto != ProtoVersion {
		err := fmt.Errorf("protocol version %d unsupported (daemon speaks %d)", msg.Header.Proto, ProtoVersion)
		logrus.Warnf("bridge: rejecting %s: %v", cmdName(msg.Header.Cmd), err)
		writeError(conn, err)
		return
	}

	if domain.PrivilegedCmds[msg.Header.Cmd] {
		if err := s.checkPrivileged(conn); err != nil {
			logrus.Warnf("bridge: rejecting %s: %v", cmdName(msg.Header.Cmd), err)
			writeError(conn, err)
			return
		}
	}

	status, payload, err := s.dispatch(msg)
	if err != nil {
		writeError(conn, err)
		return
	}

	resp := Message{
		Header:  Header{Status: status, Proto: msg.Header.Proto, Cmd: domain.CmdReply, Flags: 0},
		Payload: payload,
	}
	if err := WriteMessage(conn, resp); err != nil {
		logrus.Warnf("bridge: writing response: %v", err)
	}
}

// checkPrivileged enforces that privileged commands (spec section 6)
// originate from a peer with effective UID 0, via SO_PEERCRED.
func (s *Server) checkPrivileged(conn net.Conn) error {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return fmt.Errorf("privileged command requires a unix-domain peer")
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return fmt.Errorf("obtaining raw conn: %w", err)
	}

	var cred *unix.Ucred
	var ctrlErr error
	err = raw.Control(func(fd uintptr) {
		cred, ctrlErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return fmt.Errorf("control: %w", err)
	}
	if ctrlErr != nil {
		return fmt.Errorf("SO_PEERCRED: %w", ctrlErr)
	}
	if cred.Uid != 0 {
		return fmt.Errorf("peer uid %d is not privileged", cred.Uid)
	}
	return nil
}

func (s *Server) dispatch(msg Message) (status uint32, payload []byte, err error) {
	switch msg.Header.Cmd {
	case domain.CmdVersion:
		return 0, []byte(s.version), nil

	case domain.CmdDBStats:
		stats := s.store.Size()
		b, err := json.Marshal(stats)
		return 0, b, err

	case domain.CmdDBDump:
		return s.dumpStore()

	case domain.CmdResources:
		total, idle := s.pool.Size()
		s.Metrics.SetWorkerOccupancy(total, idle)
		b, err := json.Marshal(map[string]int{"workers": total, "idle": idle})
		return 0, b, err

	case domain.CmdScan:
		return s.dispatchScan(msg.Payload)

	case domain.CmdCheckpoint:
		return s.dispatchCheckpoint()

	case domain.CmdActive:
		return 0, nil, nil

	default:
		return 1, nil, fmt.Errorf("unsupported command %s", cmdName(msg.Header.Cmd))
	}
}

func (s *Server) dumpStore() (uint32, []byte, error) {
	type entry struct {
		Key   string `json:"key"`
		Owner string `json:"owner"`
	}
	var out []entry
	s.store.Iter("", "~", func(key string, rec domain.Record) bool {
		out = append(out, entry{Key: key, Owner: rec.Owner})
		return true
	})
	b, err := json.Marshal(out)
	return 0, b, err
}

// snapshotter is implemented by kv.Store; dispatchCheckpoint type-asserts
// against it rather than widening domain.Store, since persistence is a
// concern of the concrete store, not of every Store implementation (e.g.
// a worker-local store never needs to be checkpointed).
type snapshotter interface {
	Snapshot(fs afero.Fs, path string) error
}

// dispatchCheckpoint serves CmdCheckpoint by dumping the main store to
// SnapshotPath (spec section 1's C13 "explicit persistent-snapshot
// command").
func (s *Server) dispatchCheckpoint() (uint32, []byte, error) {
	if s.SnapshotPath == "" {
		return 1, nil, fmt.Errorf("bridge: no snapshot path configured")
	}
	snap, ok := s.store.(snapshotter)
	if !ok {
		return 1, nil, fmt.Errorf("bridge: store does not support snapshotting")
	}
	if err := snap.Snapshot(afero.NewOsFs(), s.SnapshotPath); err != nil {
		return 1, nil, fmt.Errorf("checkpointing to %s: %w", s.SnapshotPath, err)
	}
	return 0, []byte(s.SnapshotPath), nil
}

// dispatchScan decodes a client's SCAN payload (dev_t plus udev
// environment), hands it to a checked-out worker, merges the worker's
// export buffer into the main store, and re-exports the device's
// UDEV-namespace records as a `KEY=VALUE\0` response stream the client
// writes back to udev (spec sections 6, 8 scenario 1). The worker side
// of this exchange (request delivery, export-buffer return,
// MergeSyncBuffer, ack) runs over the channel established by
// worker.Spawn (spec sections 4.6, 4.7).
func (s *Server) dispatchScan(payload []byte) (uint32, []byte, error) {
	req, err := decodeClientScanPayload(payload)
	if err != nil {
		return 1, nil, err
	}
	resp, err := s.DispatchScanRequest(req)
	if err != nil {
		return 1, nil, err
	}
	return 0, resp, nil
}

// DispatchScanRequest runs req through a checked-out worker and returns
// the re-exported udev-property stream for the device. It is exported
// so a uevent-monitor loop (C10) can synthesize SCAN requests directly,
// without round-tripping through the client-facing wire payload format.
func (s *Server) DispatchScanRequest(req domain.ScanRequest) ([]byte, error) {
	start := time.Now()
	resp, err := s.dispatchScanRequest(req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.Metrics.RecordScan(outcome, time.Since(start))
	return resp, err
}

func (s *Server) dispatchScanRequest(req domain.ScanRequest) ([]byte, error) {
	w, err := s.pool.Checkout()
	if err != nil {
		return nil, fmt.Errorf("checking out worker: %w", err)
	}

	if err := worker.SendMessage(w.Conn(), domain.TagData, domain.EncodeScanRequest(req)); err != nil {
		s.pool.Checkin(w, false)
		return nil, fmt.Errorf("dispatching to worker: %w", err)
	}

	tag, buf, err := worker.ReadMessage(w.Conn())
	if err != nil {
		s.pool.Checkin(w, false)
		return nil, fmt.Errorf("awaiting worker export buffer: %w", err)
	}
	if tag != domain.TagDataExt {
		s.pool.Checkin(w, false)
		return nil, fmt.Errorf("unexpected worker reply tag %v", tag)
	}

	if err := MergeSyncBuffer(s.store, buf); err != nil {
		s.pool.Checkin(w, false)
		return nil, fmt.Errorf("merging sync buffer: %w", err)
	}

	if err := worker.SendMessage(w.Conn(), domain.TagNoop, nil); err != nil {
		logrus.Warnf("bridge: acking worker: %v", err)
	}

	// The worker yields right after the ack (spec section 4.6); drain that
	// frame before retiring it so the channel isn't left mid-message.
	if yieldTag, _, yerr := worker.ReadMessage(w.Conn()); yerr != nil || yieldTag != domain.TagYield {
		logrus.Warnf("bridge: worker %s did not yield cleanly: tag=%v err=%v", w.ID, yieldTag, yerr)
	}

	s.pool.Checkin(w, true)
	return exportUdevProperties(s.store, req.DevNo), nil
}

// decodeClientScanPayload parses a client SCAN payload: an 8-byte dev_t
// (4-byte big-endian major, 4-byte big-endian minor -- sid's own wire
// choice, since the spec leaves the exact packing of "dev_t" to the
// implementation) followed by NUL-delimited `KEY=VALUE` udev environment
// strings (spec section 6).
func decodeClientScanPayload(payload []byte) (domain.ScanRequest, error) {
	if len(payload) < 8 {
		return domain.ScanRequest{}, fmt.Errorf("bridge: SCAN payload too short (%d bytes)", len(payload))
	}
	major := binary.BigEndian.Uint32(payload[0:4])
	minor := binary.BigEndian.Uint32(payload[4:8])

	env := make(map[string]string)
	for _, tok := range strings.Split(string(payload[8:]), "\x00") {
		if tok == "" {
			continue
		}
		eq := strings.IndexByte(tok, '=')
		if eq < 0 {
			continue
		}
		env[tok[:eq]] = tok[eq+1:]
	}

	return domain.ScanRequest{
		DevNo: domain.DevNo{Major: major, Minor: minor},
		Env:   env,
	}, nil
}

// exportUdevProperties walks the main store's UDEV-namespace records for
// devNo and serializes them as a `KEY=VALUE\0` stream (spec section 6's
// "Udev re-export").
func exportUdevProperties(store domain.Store, devNo domain.DevNo) []byte {
	nsPart := fmt.Sprintf("%d_%d", devNo.Major, devNo.Minor)
	prefix := keycodec.Key{Ns: keycodec.NsUdev, NsPart: nsPart}.ComposePrefix()

	var b strings.Builder
	store.Iter(prefix, prefix+string(rune(0x7f)), func(key string, rec domain.Record) bool {
		parsed, err := keycodec.Parse(key)
		if err != nil || parsed.Ns != keycodec.NsUdev || parsed.NsPart != nsPart {
			return true
		}
		b.WriteString(parsed.Core)
		b.WriteByte('=')
		b.Write(rec.Blob())
		b.WriteByte(0)
		return true
	})
	return []byte(b.String())
}

func writeError(conn net.Conn, err error) {
	resp := Message{
		Header:  Header{Status: 1, Cmd: domain.CmdReply},
		Payload: []byte(err.Error()),
	}
	if werr := WriteMessage(conn, resp); werr != nil {
		logrus.Warnf("bridge: writing error response: %v", werr)
	}
}
