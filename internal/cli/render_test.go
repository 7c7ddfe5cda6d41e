package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atomic-image-manager/internal/progress"
)

func TestProgressViewTracksStatus(t *testing.T) {
	v := newProgressView(&Printer{Quiet: true})

	v.handle(progress.Event{Type: progress.EventInit, Operation: "Rebase to bazzite"})
	assert.Equal(t, -1, v.percent)

	v.handle(progress.Event{Type: progress.EventLine, Line: "[3/10] Fetching ostree chunk sha256:abc"})
	assert.Equal(t, 30, v.percent)
	assert.Equal(t, "Fetching chunks", v.description)

	v.handle(progress.Event{Type: progress.EventLine, Line: "Writing objects"})
	assert.Equal(t, 30, v.percent, "lines without progress keep the last value")

	v.handle(progress.Event{Type: progress.EventLine, Line: `{"overall": 75, "description": "Updating flatpaks"}`})
	assert.Equal(t, 75, v.percent)
	assert.Equal(t, "Updating flatpaks", v.description)
	assert.Contains(t, v.status(""), "[ 75%] Updating flatpaks")

	v.handle(progress.Event{Type: progress.EventComplete, Success: true, Message: "done", Elapsed: 3 * time.Second})
	assert.Nil(t, v.spinner)
}

func TestProgressViewResetsOnInit(t *testing.T) {
	v := newProgressView(&Printer{Quiet: true})

	v.percent, v.description = 50, "old"
	v.handle(progress.Event{Type: progress.EventInit, Operation: "System update (uupd)"})
	require.NotNil(t, v.spinner)
	assert.False(t, v.spinner.Animated(), "quiet output never animates")
	assert.Equal(t, -1, v.percent)
	assert.Empty(t, v.description)
	assert.Equal(t, "System update (uupd)", v.status(""))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
