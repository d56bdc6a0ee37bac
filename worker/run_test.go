package worker

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/sid/domain"
	"github.com/nestybox/sid/sysio"
)

func TestRunLoopDispatchesScanAndReturnsExportBuffer(t *testing.T) {
	proxyConn, workerConn := net.Pipe()
	defer proxyConn.Close()

	var gotReq domain.ScanRequest
	fn := func(req domain.ScanRequest) ([]sysio.ExportEntry, error) {
		gotReq = req
		return []sysio.ExportEntry{
			{Key: "x", Record: domain.Record{Owner: "core", Payload: [][]byte{[]byte("v")}}},
		}, nil
	}

	done := make(chan error, 1)
	go func() { done <- RunLoop(workerConn, fn) }()

	req := domain.ScanRequest{DevNo: domain.DevNo{Major: 8, Minor: 0}, Env: map[string]string{"ACTION": "add"}}
	require.NoError(t, SendMessage(proxyConn, domain.TagData, domain.EncodeScanRequest(req)))

	tag, buf, err := ReadMessage(proxyConn)
	require.NoError(t, err)
	assert.Equal(t, domain.TagDataExt, tag)

	entries, err := sysio.DecodeExportBuffer(buf)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x", entries[0].Key)

	require.NoError(t, SendMessage(proxyConn, domain.TagNoop, nil))

	yieldTag, _, err := ReadMessage(proxyConn)
	require.NoError(t, err)
	assert.Equal(t, domain.TagYield, yieldTag)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunLoop did not return after sending yield")
	}

	assert.Equal(t, domain.DevNo{Major: 8, Minor: 0}, gotReq.DevNo)
	assert.Equal(t, "add", gotReq.Env["ACTION"])
}

func TestRunLoopReturnsOnClosedConn(t *testing.T) {
	proxyConn, workerConn := net.Pipe()
	proxyConn.Close()

	err := RunLoop(workerConn, func(domain.ScanRequest) ([]sysio.ExportEntry, error) { return nil, nil })
	assert.NoError(t, err)
}
