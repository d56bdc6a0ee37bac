// Package bridge implements the C9 front-end: the listening socket, the
// per-connection request/response loop, and the worker-proxy sync
// protocol that merges a worker's export buffer back into the main
// store (spec sections 4.7 and 6).
package bridge

import (
	"fmt"
	"net"
	"os"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/sirupsen/logrus"
)

// Listen opens the daemon's request socket at path. If the process was
// started under systemd socket activation (LISTEN_FDS/LISTEN_PID set),
// the pre-opened listening socket is reused instead of binding path
// directly -- the same activation.Listeners convention
// cmd/sid's systemd unit relies on for on-demand start (spec section 6).
func Listen(path string) (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, fmt.Errorf("bridge: querying systemd activation listeners: %w", err)
	}
	if len(listeners) > 0 {
		if listeners[0] == nil {
			return nil, fmt.Errorf("bridge: systemd passed a nil listener")
		}
		logrus.Infof("bridge: using systemd-activated socket")
		return listeners[0], nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("bridge: removing stale socket %s: %w", path, err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("bridge: listening on %s: %w", path, err)
	}
	logrus.Infof("bridge: listening on %s", path)
	return ln, nil
}
