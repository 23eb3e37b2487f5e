package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLevels(t *testing.T) {
	log, err := New(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if log.GetLevel() != logrus.WarnLevel {
		t.Errorf("default level = %v, want warn", log.GetLevel())
	}

	log, err = New(Options{Level: "debug", JSON: true})
	if err != nil {
		t.Fatal(err)
	}
	if log.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("expected JSON formatter, got %T", log.Formatter)
	}

	if _, err := New(Options{Level: "chatty"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.log")
	log, err := New(Options{Level: "info", File: path})
	if err != nil {
		t.Fatal(err)
	}
	log.WithField("frame", 3).Info("counted")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "counted") {
		t.Errorf("log file missing entry: %q", data)
	}
}
