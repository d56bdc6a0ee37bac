package worker

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/sid/domain"
	"github.com/nestybox/sid/sysio"
)

// ScanFunc executes one scan request against a worker-local store and
// returns the resulting SYNC-alias export entries (spec sections 4.6,
// 4.7). cmd/sid supplies the concrete implementation (build a fresh
// store, run the scan pipeline, walk the alias range) so this package
// stays limited to the process/channel plumbing.
type ScanFunc func(req domain.ScanRequest) ([]sysio.ExportEntry, error)

// RunLoop is the worker-side counterpart to Pool/Checkout: it reads
// tagged frames off conn (a re-exec'd worker's inherited channel,
// typically fd 3), dispatching each TagData frame to fn and returning
// the resulting export buffer as a TagDataExt frame (spec sections 4.6,
// 4.7). Spec section 4.6's current policy is one scan per worker: once a
// TagData frame has been handled and acked, RunLoop itself sends TagYield
// and returns, rather than looping for further assignments -- the proxy
// reacts to YIELD by terminating the worker (Pool.Checkin), so this is
// the worker side volunteering for that termination instead of waiting
// to be killed.
func RunLoop(conn io.ReadWriter, fn ScanFunc) error {
	for {
		tag, payload, err := ReadMessage(conn)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("worker: reading request: %w", err)
		}

		switch tag {
		case domain.TagYield:
			return nil

		case domain.TagNoop:
			continue

		case domain.TagData:
			if err := handleScan(conn, fn, payload); err != nil {
				logrus.Warnf("worker: handling scan request: %v", err)
			}
			if err := SendMessage(conn, domain.TagYield, nil); err != nil {
				logrus.Warnf("worker: sending yield: %v", err)
			}
			return nil

		default:
			logrus.Warnf("worker: unexpected tag %v from proxy", tag)
		}
	}
}

func handleScan(conn io.ReadWriter, fn ScanFunc, payload []byte) error {
	req, err := domain.DecodeScanRequest(payload)
	if err != nil {
		return fmt.Errorf("decoding scan request: %w", err)
	}

	entries, err := fn(req)
	if err != nil {
		return fmt.Errorf("running scan for %+v: %w", req.DevNo, err)
	}

	buf, err := sysio.EncodeExportBuffer(entries)
	if err != nil {
		return fmt.Errorf("encoding export buffer: %w", err)
	}

	if err := SendMessage(conn, domain.TagDataExt, buf); err != nil {
		return fmt.Errorf("sending export buffer: %w", err)
	}

	// The proxy acks with a plain NOOP once MergeSyncBuffer completes
	// (spec section 4.7); a worker has no further action to take on it
	// besides draining the frame so the channel stays in sync.
	if _, _, err := ReadMessage(conn); err != nil {
		return fmt.Errorf("awaiting proxy ack: %w", err)
	}
	return nil
}
