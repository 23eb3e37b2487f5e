package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

// Store manages the PostgreSQL connection used to keep counting runs.
type Store struct {
	conn *pgx.Conn
}

// Tally is the final count of one category in a run.
type Tally struct {
	Category     string
	Count        int
	UniqueTracks int
}

// Run is one completed (or interrupted) counting pass over a video.
type Run struct {
	ID           uuid.UUID
	VideoID      string
	VideoPath    string
	OutputPath   string
	Label        string
	Model        string
	Confidence   float64
	LineFraction float64
	Width        int
	Height       int
	LineY        int
	Frames       int
	Elapsed      time.Duration
	Interrupted  bool
	CreatedAt    time.Time
	Tallies      []Tally
}

// Total sums the tallies of a run.
func (r Run) Total() int {
	total := 0
	for _, t := range r.Tallies {
		total += t.Count
	}
	return total
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS count_runs (
			id UUID PRIMARY KEY,
			video_id TEXT REFERENCES video_metadata(id),
			output_path TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			line_fraction DOUBLE PRECISION NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			line_y INT NOT NULL,
			frames INT NOT NULL,
			elapsed_seconds DOUBLE PRECISION NOT NULL,
			interrupted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS count_tallies (
			run_id UUID REFERENCES count_runs(id) ON DELETE CASCADE,
			category TEXT NOT NULL,
			tally INT NOT NULL CHECK (tally >= 0),
			unique_tracks INT NOT NULL CHECK (unique_tracks >= 0),
			PRIMARY KEY (run_id, category)
		);
		CREATE INDEX IF NOT EXISTS count_runs_video_id_idx ON count_runs (video_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureVideoMetadata registers the video in the database. If it exists, it updates the timestamp.
func (s *Store) EnsureVideoMetadata(ctx context.Context, videoID, path string) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO video_metadata (id, path, indexed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), path = EXCLUDED.path
	`, videoID, path)
	return err
}

// SaveRun stores a run and its tallies atomically. A zero ID is replaced with a new UUID.
func (s *Store) SaveRun(ctx context.Context, run Run) (uuid.UUID, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO count_runs (id, video_id, output_path, label, model, confidence, line_fraction,
			width, height, line_y, frames, elapsed_seconds, interrupted)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, run.ID.String(), run.VideoID, run.OutputPath, run.Label, run.Model, run.Confidence, run.LineFraction,
		run.Width, run.Height, run.LineY, run.Frames, run.Elapsed.Seconds(), run.Interrupted)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}

	batch := &pgx.Batch{}
	for _, t := range run.Tallies {
		batch.Queue(`INSERT INTO count_tallies (run_id, category, tally, unique_tracks) VALUES ($1::uuid, $2, $3, $4)`,
			run.ID.String(), t.Category, t.Count, t.UniqueTracks)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return uuid.Nil, fmt.Errorf("insert tallies: %w", err)
		}
	}

	return run.ID, tx.Commit(ctx)
}

const runColumns = `r.id::text, COALESCE(r.video_id, ''), COALESCE(v.path, ''), r.output_path, r.label, r.model,
	r.confidence, r.line_fraction, r.width, r.height, r.line_y, r.frames, r.elapsed_seconds, r.interrupted, r.created_at`

func scanRun(row pgx.Row) (Run, error) {
	var (
		r       Run
		id      string
		elapsed float64
	)
	err := row.Scan(&id, &r.VideoID, &r.VideoPath, &r.OutputPath, &r.Label, &r.Model,
		&r.Confidence, &r.LineFraction, &r.Width, &r.Height, &r.LineY, &r.Frames, &elapsed, &r.Interrupted, &r.CreatedAt)
	if err != nil {
		return Run{}, err
	}
	r.ID, err = uuid.Parse(id)
	if err != nil {
		return Run{}, err
	}
	r.Elapsed = time.Duration(elapsed * float64(time.Second))
	return r, nil
}

// ListRuns returns the most recent runs first, with tallies. limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM count_runs r LEFT JOIN video_metadata v ON v.id = r.video_id
		ORDER BY r.created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		if runs[i].Tallies, err = s.getTallies(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// GetRun fetches one run with its tallies.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (Run, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+runColumns+` FROM count_runs r
		LEFT JOIN video_metadata v ON v.id = r.video_id WHERE r.id = $1::uuid`, id.String())
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, err
	}
	r.Tallies, err = s.getTallies(ctx, id)
	return r, err
}

func (s *Store) getTallies(ctx context.Context, id uuid.UUID) ([]Tally, error) {
	rows, err := s.conn.Query(ctx, `SELECT category, tally, unique_tracks FROM count_tallies
		WHERE run_id = $1::uuid ORDER BY category`, id.String())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Tally, error) {
		var t Tally
		err := row.Scan(&t.Category, &t.Count, &t.UniqueTracks)
		return t, err
	})
}

// LabelRun attaches a human-readable label (e.g. a survey site) to a run.
func (s *Store) LabelRun(ctx context.Context, id uuid.UUID, label string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE count_runs SET label = $1 WHERE id = $2::uuid", label, id.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS count_tallies CASCADE;
		DROP TABLE IF EXISTS count_runs CASCADE;
		DROP TABLE IF EXISTS video_metadata CASCADE;
	`)
	return err
}
