package uevent

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/sid/domain"
)

func rawDatagram(parts ...string) []byte {
	return bytes.Join(toBytes(parts), []byte{0})
}

func toBytes(parts []string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}

func TestParseExtractsActionAndDevPath(t *testing.T) {
	raw := rawDatagram(
		"add@/devices/pci0000:00/block/sda/sda1",
		"ACTION=add",
		"DEVPATH=/devices/pci0000:00/block/sda/sda1",
		"SUBSYSTEM=block",
		"MAJOR=8",
		"MINOR=1",
		"SEQNUM=4821",
	)

	ev, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "add", ev.Action)
	assert.Equal(t, "/devices/pci0000:00/block/sda/sda1", ev.DevPath)
	assert.Equal(t, domain.DevNo{Major: 8, Minor: 1}, ev.DevNo)
	assert.Equal(t, uint64(4821), ev.Seqnum)
	assert.Equal(t, "block", ev.Env["SUBSYSTEM"])
	assert.True(t, IsBlockEvent(ev))
}

func TestParseRejectsMissingAtSeparator(t *testing.T) {
	raw := rawDatagram("no-at-sign-here", "FOO=bar")
	_, err := Parse(raw)
	assert.Error(t, err)
}

func TestParseRejectsEmptyDatagram(t *testing.T) {
	_, err := Parse(nil)
	assert.Error(t, err)
}

func TestParseIgnoresMalformedEnvTokens(t *testing.T) {
	raw := rawDatagram(
		"change@/devices/virtual/block/loop0",
		"NOEQUALSIGN",
		"ACTION=change",
	)
	ev, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "change", ev.Env["ACTION"])
	_, present := ev.Env["NOEQUALSIGN"]
	assert.False(t, present)
}

func TestParseLeavesDevNoZeroWhenMajorMinorAbsent(t *testing.T) {
	raw := rawDatagram("add@/devices/virtual/misc/foo", "SUBSYSTEM=misc")
	ev, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.DevNo{}, ev.DevNo)
	assert.False(t, IsBlockEvent(ev))
}
