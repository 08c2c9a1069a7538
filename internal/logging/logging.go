// Package logging builds the loggers handed to every component.
//
// Output goes to a size-rotated file in the data directory and, when
// verbose, to stderr as well.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging configuration.
type Config struct {
	// File is the log file path; empty disables file logging
	File string

	// MaxSizeMB is the size at which the file is rotated
	MaxSizeMB int

	// MaxBackups is how many rotated files are kept
	MaxBackups int

	// Verbose also writes to Stderr
	Verbose bool

	// Stderr is the console writer (default os.Stderr)
	Stderr io.Writer
}

// DefaultConfig returns the logging defaults for file.
func DefaultConfig(file string) Config {
	return Config{
		File:       file,
		MaxSizeMB:  10,
		MaxBackups: 3,
		Stderr:     os.Stderr,
	}
}

// Logging hands out prefixed loggers sharing one output.
type Logging struct {
	out  io.Writer
	file *lumberjack.Logger
}

// New opens the log output described by cfg.
func New(cfg Config) (*Logging, error) {
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	var writers []io.Writer
	l := &Logging{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		l.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		writers = append(writers, l.file)
	}
	if cfg.Verbose {
		writers = append(writers, cfg.Stderr)
	}

	switch len(writers) {
	case 0:
		l.out = io.Discard
	case 1:
		l.out = writers[0]
	default:
		l.out = io.MultiWriter(writers...)
	}
	return l, nil
}

// Discard returns a Logging that drops everything.
func Discard() *Logging {
	return &Logging{out: io.Discard}
}

// Logger returns a logger whose lines start with "[component] ".
func (l *Logging) Logger(component string) *log.Logger {
	return log.New(l.out, "["+component+"] ", log.LstdFlags)
}

// Writer returns the shared output.
func (l *Logging) Writer() io.Writer { return l.out }

// Close closes the log file.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
