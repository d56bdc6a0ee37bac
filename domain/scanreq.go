package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ScanRequest is the decoded form of a CmdScan request payload: the
// target device and its udev environment (spec sections 6, 8 scenario 1).
// The same shape carries a kernel uevent from the monitor (C10) through
// to the worker that actually drives the scan pipeline (C7/C8).
type ScanRequest struct {
	DevNo DevNo
	Env   map[string]string
}

// EncodeScanRequest serializes req as a "<major>:<minor>\n" header line
// followed by a NUL-delimited "KEY=VALUE" udev environment stream -- the
// same flat shape the kernel's own uevent broadcast uses, so a request
// forwarded from the uevent monitor to the bridge to a worker never needs
// re-encoding into a different wire format along the way.
func EncodeScanRequest(req ScanRequest) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%d:%d\n", req.DevNo.Major, req.DevNo.Minor)

	keys := make([]string, 0, len(req.Env))
	for k := range req.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(req.Env[k])
		b.WriteByte(0)
	}
	return []byte(b.String())
}

// DecodeScanRequest parses a buffer produced by EncodeScanRequest.
func DecodeScanRequest(payload []byte) (ScanRequest, error) {
	s := string(payload)
	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		return ScanRequest{}, fmt.Errorf("domain: malformed scan request: missing header line")
	}
	head := s[:nl]
	rest := s[nl+1:]

	parts := strings.SplitN(head, ":", 2)
	if len(parts) != 2 {
		return ScanRequest{}, fmt.Errorf("domain: malformed device number %q", head)
	}
	major, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return ScanRequest{}, fmt.Errorf("domain: malformed major in %q: %w", head, err)
	}
	minor, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return ScanRequest{}, fmt.Errorf("domain: malformed minor in %q: %w", head, err)
	}

	env := make(map[string]string)
	if rest != "" {
		for _, tok := range strings.Split(rest, "\x00") {
			if tok == "" {
				continue
			}
			eq := strings.IndexByte(tok, '=')
			if eq < 0 {
				continue
			}
			env[tok[:eq]] = tok[eq+1:]
		}
	}

	return ScanRequest{
		DevNo: DevNo{Major: uint32(major), Minor: uint32(minor)},
		Env:   env,
	}, nil
}
