package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/tally/internal/logging"
	"github.com/andresmejia3/tally/internal/store"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Options holds the configuration of the count command
type Options struct {
	InputPath      string
	OutputPath     string
	Model          string
	Tracker        string
	Confidence     float64
	LineFraction   float64
	MaxWidth       int
	Classes        map[string]string
	DetectionsPath string
	RecordPath     string
	WorkerTimeout  string
	Save           bool
	Label          string
	MetricsAddr    string
	NoProgress     bool
}

var (
	// DB is the global database connection shared by subcommands
	DB *store.Store
	// Log is the structured logger configured from the persistent flags
	Log *logrus.Logger
	// dbURL is the connection string
	dbURL   string
	logOpts logging.Options
)

// Version is the application version.
const Version = "0.1.0"

// dbAnnotation marks commands that cannot run without PostgreSQL.
const dbAnnotation = "requires-db"

var rootCmd = &cobra.Command{
	Use:     "tally",
	Short:   "Line-crossing vehicle counter for recorded traffic video",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is normal; real environment variables still apply
		_ = godotenv.Load()

		var err error
		Log, err = logging.New(logOpts)
		if err != nil {
			return fmt.Errorf("invalid logging configuration: %w", err)
		}

		if cmd.Annotations[dbAnnotation] == "true" {
			return connectDB(cmd.Context())
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeDB()
	},
}

// closeDB releases the shared connection. Safe to call more than once.
func closeDB() {
	if DB != nil {
		// Use Background here because the main context might be cancelled already (due to Ctrl+C)
		// and we still need to send the "Close" command to the DB.
		DB.Close(context.Background())
		DB = nil
	}
}

// resolveDBURL prefers --db, then POSTGRES_* environment variables, then a local default.
func resolveDBURL() string {
	if dbURL != "" {
		return dbURL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	// Fallback to local default if no env vars are present
	return "postgres://localhost:5432/tally"
}

// connectDB opens the shared connection once.
func connectDB(ctx context.Context) error {
	if DB != nil {
		return nil
	}
	var err error
	DB, err = store.New(ctx, resolveDBURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// execute runs the command tree. Cobra skips PersistentPostRun when RunE fails,
// so the connection is released here as well.
func execute(ctx context.Context) error {
	defer closeDB()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: postgres://localhost:5432/tally)")
	rootCmd.PersistentFlags().StringVar(&logOpts.Level, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logOpts.File, "log-file", "", "Also write logs to this rotating file")
	rootCmd.PersistentFlags().BoolVar(&logOpts.JSON, "log-json", false, "Emit logs as JSON lines")
}
