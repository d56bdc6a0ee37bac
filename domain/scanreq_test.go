package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/sid/domain"
)

func TestScanRequestRoundTrip(t *testing.T) {
	req := domain.ScanRequest{
		DevNo: domain.DevNo{Major: 8, Minor: 0},
		Env: map[string]string{
			"ACTION":  "add",
			"DEVTYPE": "disk",
			"SEQNUM":  "42",
		},
	}

	buf := domain.EncodeScanRequest(req)
	got, err := domain.DecodeScanRequest(buf)
	require.NoError(t, err)

	assert.Equal(t, req.DevNo, got.DevNo)
	assert.Equal(t, req.Env, got.Env)
}

func TestDecodeScanRequestRejectsMissingHeader(t *testing.T) {
	_, err := domain.DecodeScanRequest([]byte("no-newline-here"))
	assert.Error(t, err)
}

func TestDecodeScanRequestRejectsMalformedDevNo(t *testing.T) {
	_, err := domain.DecodeScanRequest([]byte("not-a-devno\nACTION=add\x00"))
	assert.Error(t, err)
}

func TestDecodeScanRequestTolerantOfEmptyEnv(t *testing.T) {
	got, err := domain.DecodeScanRequest([]byte("8:1\n"))
	require.NoError(t, err)
	assert.Equal(t, domain.DevNo{Major: 8, Minor: 1}, got.DevNo)
	assert.Empty(t, got.Env)
}
