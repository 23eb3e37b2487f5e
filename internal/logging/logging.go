// Package logging builds the structured logger shared by the CLI and the run loop.
package logging

import (
	"io"
	"os"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how much is logged.
type Options struct {
	Level string // logrus level name, e.g. "info", "debug"
	File  string // optional rotating log file; console output is kept
	JSON  bool   // JSON lines instead of the nested console format
}

// New returns a configured logger. An unknown level is an error.
func New(opts Options) (*logrus.Logger, error) {
	log := logrus.New()

	level := opts.Level
	if level == "" {
		level = "warn"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(lvl)

	if opts.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&nested.Formatter{
			HideKeys:        false,
			TimestampFormat: "15:04:05.000",
			FieldsOrder:     []string{"frame", "category", "track", "tally"},
		})
	}

	var out io.Writer = os.Stderr
	if opts.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	log.SetOutput(out)
	return log, nil
}
