// Package logging provides the diagnostic log sink shared by every component.
//
// Components keep taking a plain *log.Logger; the sink hands out loggers with
// a component prefix that all write into one buffered, size-rotated file.
// Buffered lines reach the file on Flush, which the sync orchestrator calls
// at the end of every pass.
package logging

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultFile is the log path relative to the data directory.
const DefaultFile = "logs/tasksync.log"

// timeLayout matches log.LstdFlags.
const timeLayout = "2006/01/02 15:04:05"

// Sink is a buffered writer over a rotating log file.
// Sink is safe for concurrent use.
type Sink struct {
	mu   sync.Mutex
	path string
	file *lumberjack.Logger
	buf  *bufio.Writer
	echo io.Writer
}

// Open creates a sink writing to path. Lines are also copied to echo when
// it is non-nil.
func Open(path string, echo io.Writer) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    1, // megabytes
		MaxBackups: 1,
	}
	return &Sink{
		path: path,
		file: file,
		buf:  bufio.NewWriterSize(file, 16*1024),
		echo: echo,
	}, nil
}

// Path returns the log file path.
func (s *Sink) Path() string {
	return s.path
}

// Write implements io.Writer.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.echo != nil {
		_, _ = s.echo.Write(p)
	}
	return s.buf.Write(p)
}

// Logger returns a logger writing to the sink with the given prefix.
func (s *Sink) Logger(prefix string) *log.Logger {
	return log.New(s, prefix, log.LstdFlags|log.Lmsgprefix)
}

// Flush writes buffered lines to the file.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Sink) flushLocked() error {
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush log: %w", err)
	}
	return nil
}

// Lines returns the logged lines stamped at or after since, oldest first.
// The zero time returns everything. Buffered lines are flushed first.
func (s *Sink) Lines(since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushLocked(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}

	var out []string
	include := since.IsZero()
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		// Lines without a timestamp belong to the previous entry.
		if ts, ok := lineTime(line); ok {
			include = since.IsZero() || !ts.Before(since.Truncate(time.Second))
		}
		if include {
			out = append(out, line)
		}
	}
	return out, nil
}

func lineTime(line string) (time.Time, bool) {
	if len(line) < len(timeLayout) {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(timeLayout, line[:len(timeLayout)], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Clear discards buffered lines and empties the log file.
func (s *Sink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Reset(s.file)
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close log: %w", err)
	}
	if err := os.Truncate(s.path, 0); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear log: %w", err)
	}
	return nil
}

// Close flushes and closes the log file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flushErr := s.flushLocked()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close log: %w", err)
	}
	return flushErr
}
