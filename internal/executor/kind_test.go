package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeErrorType(t *testing.T) {
	tests := []struct {
		name   string
		output string
		code   int
		want   Kind
	}{
		{"zero exit", "Could not resolve host: ghcr.io", 0, KindNone},
		{"dns", "error: Could not resolve host: ghcr.io", 1, KindNetwork},
		{"refused", "dial tcp 1.2.3.4:443: connect: connection refused", 1, KindNetwork},
		{"name resolution", "Temporary failure in name resolution", 1, KindNetwork},
		{"permission", "error: Permission denied", 1, KindAuth},
		{"registry auth", "reading manifest: unauthorized: access to the requested resource", 1, KindAuth},
		{"transaction", "error: Transaction in progress: another transaction is running", 1, KindBusy},
		{"already in use", "Transaction already in use", 1, KindBusy},
		{"no deployment", "error: No such deployment 7", 1, KindNotFound},
		{"manifest", "manifest unknown: manifest unknown", 1, KindNotFound},
		{"unknown", "error: something odd happened", 2, KindGeneral},
		{"empty", "", 1, KindGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AnalyzeErrorType(tt.output, tt.code))
		})
	}
}

func TestAnalyzeErrorTypeNetworkWinsOverAuth(t *testing.T) {
	out := "unauthorized\ncould not resolve host: quay.io"
	assert.Equal(t, KindNetwork, AnalyzeErrorType(out, 1))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "validating", StateValidating.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "unknown", State(9).String())
}
