// Package debuglog is the CLI's day-rotated JSON-lines debug sink. It
// mirrors klog's call-site ergonomics (Info/Infof/Error/Errorf-shaped
// helpers) while writing structured JSON records instead of klog's text
// format.
package debuglog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// Record is one JSON line written to the day's log file.
type Record struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Logger writes Records to state/logs/<YYYY-MM-DD>.jsonl, rotating to a new
// file each calendar day. klog still receives every record too, so a
// terminal observer watching klog's normal output sees the same events.
type Logger struct {
	mu   sync.Mutex
	dir  string
	day  string
	file *os.File
}

// New creates a Logger writing under dir (typically state/logs).
func New(dir string) *Logger {
	return &Logger{dir: dir}
}

// Info logs a category/message pair with no structured data.
func (l *Logger) Info(category, message string) {
	l.write(Record{Level: "info", Category: category, Message: message})
}

// Infof formats message before logging it at info level.
func (l *Logger) Infof(category, format string, args ...any) {
	l.write(Record{Level: "info", Category: category, Message: fmt.Sprintf(format, args...)})
}

// InfoData logs message at info level with attached structured data.
func (l *Logger) InfoData(category, message string, data map[string]any) {
	l.write(Record{Level: "info", Category: category, Message: message, Data: data})
}

// Error logs message at error level with the causing err.
func (l *Logger) Error(category, message string, err error) {
	r := Record{Level: "error", Category: category, Message: message}
	if err != nil {
		r.Error = err.Error()
	}
	l.write(r)
}

// Errorf formats message before logging it at error level.
func (l *Logger) Errorf(category string, err error, format string, args ...any) {
	l.Error(category, fmt.Sprintf(format, args...), err)
}

func (l *Logger) write(r Record) {
	r.Timestamp = time.Now().UTC()

	switch r.Level {
	case "error":
		if r.Error != "" {
			klog.Errorf("[%s] %s: %s", r.Category, r.Message, r.Error)
		} else {
			klog.Errorf("[%s] %s", r.Category, r.Message)
		}
	default:
		klog.Infof("[%s] %s", r.Category, r.Message)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureFile(r.Timestamp); err != nil {
		klog.Errorf("debuglog: could not open log file: %v", err)
		return
	}
	line, err := json.Marshal(r)
	if err != nil {
		klog.Errorf("debuglog: could not marshal record: %v", err)
		return
	}
	line = append(line, '\n')
	if _, err := l.file.Write(line); err != nil {
		klog.Errorf("debuglog: could not write record: %v", err)
	}
}

func (l *Logger) ensureFile(now time.Time) error {
	day := now.Format("2006-01-02")
	if l.file != nil && day == l.day {
		return nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(l.dir, day+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	l.file = f
	l.day = day
	return nil
}

// Close releases the current day's file handle.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
