package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulebatch/kernel/internal/domain"
)

// fakeCLI writes a small shell script that emits a scripted
// stream-json transcript, standing in for the real agent CLI so these
// tests never depend on one being installed.
func fakeCLI(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	script := "#!/bin/sh\n" + body
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRunner_Execute_Success(t *testing.T) {
	script := `echo '{"type":"system","subtype":"init","session_id":"sess-1"}'
echo '{"type":"assistant","message":"working"}'
echo '{"type":"result","is_error":false,"result":"done","num_turns":2,"total_cost_usd":0.01}'
`
	r := New(fakeCLI(t, script), slog.Default())
	payload := domain.Payload{{Key: "file_path", Value: "/tmp/a.txt"}}

	var started int
	res := r.Execute(context.Background(), "process {file_path}", payload, Options{Timeout: 5 * time.Second},
		Callbacks{OnProcessStart: func(pid int) { started = pid }})

	assert.Greater(t, started, 0)
	assert.True(t, res.Success)
	assert.Equal(t, "done", res.Output)
	assert.Equal(t, "sess-1", res.SessionID)
	assert.Equal(t, 2, res.NumTurns)
	assert.Len(t, res.Conversation, 1)
}

func TestRunner_Execute_NoResult(t *testing.T) {
	script := `echo '{"type":"assistant","message":"working"}'
`
	r := New(fakeCLI(t, script), slog.Default())
	res := r.Execute(context.Background(), "go", domain.Payload{}, Options{Timeout: 5 * time.Second}, Callbacks{})

	assert.False(t, res.Success)
	assert.Equal(t, ReasonNoResult, res.Reason)
}

func TestRunner_Execute_Timeout(t *testing.T) {
	script := `sleep 5
`
	r := New(fakeCLI(t, script), slog.Default())
	res := r.Execute(context.Background(), "go", domain.Payload{}, Options{Timeout: 200 * time.Millisecond}, Callbacks{})

	assert.False(t, res.Success)
	assert.Equal(t, ReasonTimeout, res.Reason)
}

func TestRunner_Execute_Unavailable(t *testing.T) {
	r := New(fmt.Sprintf("/nonexistent/path/%d", time.Now().UnixNano()), slog.Default())
	res := r.Execute(context.Background(), "go", domain.Payload{}, Options{}, Callbacks{})

	assert.False(t, res.Success)
	assert.Equal(t, ReasonUnavailable, res.Reason)
}
