// Package logging builds the application logger: charmbracelet/log on
// stderr, optionally teed into a lumberjack-rotated file.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options select level, format (text, json, logfmt) and an optional file.
type Options struct {
	Level  string
	Format string
	File   string
}

// New returns the logger and a closer for the file writer, if any.
func New(opts Options) (*log.Logger, io.Closer, error) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, err
		}
		fw := RotatingFile(opts.File)
		w = io.MultiWriter(os.Stderr, fw)
		closer = fw
	}
	return NewWithWriter(w, opts), closer, nil
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(w io.Writer, opts Options) *log.Logger {
	level, err := log.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		level = log.InfoLevel
	}
	logger := log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02T15:04:05.000Z07:00",
		Formatter:       formatter(opts.Format),
	})
	if err != nil && opts.Level != "" {
		logger.Warn("invalid log level, using info", "level", opts.Level)
	}
	return logger
}

// RotatingFile is the lumberjack writer shared by the app log and the
// event consumer log.
func RotatingFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    20, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
}

// Discard is a logger for tests.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func formatter(name string) log.Formatter {
	switch strings.ToLower(name) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}
