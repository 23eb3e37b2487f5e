package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Explicitly check for Docker availability and fail hard if missing
	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("tally_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	if err := s.EnsureVideoMetadata(ctx, "vid_123", "/tmp/junction.mp4"); err != nil {
		t.Fatalf("EnsureVideoMetadata failed: %v", err)
	}
	// Idempotent
	if err := s.EnsureVideoMetadata(ctx, "vid_123", "/tmp/junction.mp4"); err != nil {
		t.Fatalf("EnsureVideoMetadata (second) failed: %v", err)
	}

	id, err := s.SaveRun(ctx, Run{
		VideoID:      "vid_123",
		OutputPath:   "/tmp/out.mp4",
		Model:        "yolov8n.pt",
		Confidence:   0.4,
		LineFraction: 0.5,
		Width:        1280,
		Height:       720,
		LineY:        360,
		Frames:       250,
		Elapsed:      12500 * time.Millisecond,
		Tallies: []Tally{
			{Category: "car", Count: 12, UniqueTracks: 12},
			{Category: "motorcycle", Count: 5, UniqueTracks: 3},
		},
	})
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("SaveRun returned nil id")
	}

	run, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.VideoPath != "/tmp/junction.mp4" || run.LineY != 360 || run.Frames != 250 {
		t.Errorf("Unexpected run: %+v", run)
	}
	if run.Elapsed != 12500*time.Millisecond {
		t.Errorf("Elapsed = %v", run.Elapsed)
	}
	if len(run.Tallies) != 2 || run.Total() != 17 {
		t.Errorf("Unexpected tallies: %+v", run.Tallies)
	}

	if err := s.LabelRun(ctx, id, "Ring road north"); err != nil {
		t.Fatalf("LabelRun failed: %v", err)
	}
	if err := s.LabelRun(ctx, uuid.New(), "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
	if _, err := s.GetRun(ctx, uuid.New()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Label != "Ring road north" {
		t.Errorf("Unexpected runs: %+v", runs)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
