// Package zdmrlog wires zerolog the way danzo's utils/logger.go does,
// extended with a daily-rotated JSON-lines file writer (lumberjack) for the
// on-disk log spec.md §6 requires, alongside the console writer for
// interactive runs.
package zdmrlog

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Init configures the global zerolog logger. When logDir is non-empty, JSON
// lines are additionally written to logDir/zdmr.jsonl, rotated daily by
// lumberjack (MaxAge in days, filename suffixed with the rotation date).
func Init(debug bool, logDir string) error {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}

	var w io.Writer = console
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return err
		}
		fileWriter := &lumberjack.Logger{
			Filename:  filepath.Join(logDir, "zdmr.jsonl"),
			MaxAge:    30, // days
			LocalTime: true,
		}
		w = zerolog.MultiLevelWriter(console, fileWriter)
		go dailyRotate(fileWriter)
	}

	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}

// dailyRotate forces lumberjack to roll the file at each local midnight, so
// the backup filename's embedded timestamp lands on the YYYY-MM-DD boundary
// spec.md §6 describes, instead of lumberjack's default size-triggered roll.
func dailyRotate(l *lumberjack.Logger) {
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
		time.Sleep(time.Until(next))
		_ = l.Rotate()
	}
}

// Component returns a logger scoped to a named component, mirroring
// utils.GetLogger from the teacher.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
