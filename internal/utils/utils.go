package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (Python and FFmpeg logs)
// This ensures we don't lose critical crash information if a subprocess dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *SyncBuffer
}

// SyncBuffer is a bytes.Buffer that can be written by the exec copier goroutine
// while the main goroutine reads it for an error report.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *SyncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &SyncBuffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps subprocess logs if a SafeCommand is provided.
// Unlike a hard exit it lets the caller unwind so deferred cleanup (encoder flush, pipes) still runs.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 TALLY ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nSUBPROCESS LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// GenerateVideoID creates a deterministic hash for the video file
// based on its path, size, and modification time.
func GenerateVideoID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
