package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Log files are trimmed on open: once a file passes maxLogLines lines,
// only the most recent keepLogLines are kept.
const (
	maxLogLines  = 300
	keepLogLines = 200
)

// FileLogger appends to a log file on disk. On open it trims the file
// so old sessions do not grow it without bound, then writes a session
// header with the current date.
type FileLogger struct {
	mu     sync.Mutex
	f      *os.File
	logger *log.Logger
}

// NewFileLogger opens (and trims) the log file at path.
func NewFileLogger(path string) (*FileLogger, error) {
	if err := trimLogFile(path); err != nil {
		return nil, fmt.Errorf("failed to prepare log file: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	header := fmt.Sprintf("=== Ghermez Download Manager, %s ===\n",
		time.Now().Format("2006/01/02 , 15:04:05"))
	if _, err := f.WriteString(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write log header: %w", err)
	}
	return &FileLogger{
		f:      f,
		logger: log.New(f, "", log.LstdFlags),
	}, nil
}

// trimLogFile keeps only the last keepLogLines lines of the file at
// path once it exceeds maxLogLines. A missing file is not an error.
func trimLogFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) < maxLogLines {
		return nil
	}
	kept := lines[len(lines)-keepLogLines:]
	return os.WriteFile(path, []byte(strings.Join(kept, "\n")+"\n"), 0o644)
}

func (l *FileLogger) Info(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("[INFO] "+format, args...)
}

func (l *FileLogger) Warning(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("[WARNING] "+format, args...)
}

func (l *FileLogger) Error(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("[ERROR] "+format, args...)
}

// Close closes the underlying file. Safe to call more than once.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

var _ Logger = (*FileLogger)(nil)
