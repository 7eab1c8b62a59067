package vcs

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReviewBranchName(t *testing.T) {
	tests := []struct {
		canonical string
		entryID   string
		want      string
	}{
		{"config.json", "4f9c1a2e-77b0-4c4e-9d3e-08d1fd6a9b21", "collate/review/config.json-4f9c1a2e"},
		{"My Report.json", "abcdef1234567890", "collate/review/my-report.json-abcdef12"},
		{"data.json", "short", "collate/review/data.json-short"},
	}

	for _, tt := range tests {
		got := reviewBranchName(tt.canonical, tt.entryID)
		assert.Equal(t, tt.want, got)
		assert.True(t, strings.HasPrefix(got, reviewBranchPrefix))
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient("fatal: Could not resolve host: github.com"))
	assert.True(t, isTransient("error: RPC failed; HTTP 503 curl 22"))
	assert.True(t, isTransient("fatal: the remote end hung up unexpectedly"))

	assert.False(t, isTransient("! [rejected] main -> main (non-fast-forward)"))
	assert.False(t, isTransient("fatal: Authentication failed"))
	assert.False(t, isTransient(""))
}

func TestPublisherOptions(t *testing.T) {
	p := New("/tmp", WithRemote("upstream"), WithRetries(5), WithBackoff(time.Second))
	assert.Equal(t, "upstream", p.remote)
	assert.Equal(t, 5, p.retries)
	assert.Equal(t, time.Second, p.backoff)

	// Invalid values keep the defaults.
	p = New("/tmp", WithRetries(0), WithBackoff(0))
	assert.Equal(t, defaultRetries, p.retries)
	assert.Equal(t, defaultBackoff, p.backoff)
}
