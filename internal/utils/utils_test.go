package utils

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestGenerateVideoID(t *testing.T) {
	// Integration test using the OS filesystem
	tmp, err := os.CreateTemp("", "video_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write([]byte("fake video content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := GenerateVideoID(tmp.Name())
	if err != nil || id == "" {
		t.Errorf("Failed to generate ID: %v", err)
	}

	// Verify Determinism
	id2, _ := GenerateVideoID(tmp.Name())
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := GenerateVideoID(tmp.Name())
	if id == id3 {
		t.Error("Hash did not change after file modification")
	}

	if _, err := GenerateVideoID("does-not-exist.mp4"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestSafeCommandCapturesStderr(t *testing.T) {
	c := NewSafeCommand(context.Background(), "sh", "-c", "echo boom 1>&2; exit 3")
	if err := c.Run(); err == nil {
		t.Fatal("expected non-zero exit")
	}
	if !strings.Contains(c.Stderr.String(), "boom") {
		t.Errorf("stderr not captured, got %q", c.Stderr.String())
	}
}
