package debuglog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInfoWritesRecordToTodaysFile(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	defer l.Close()

	l.Info("session", "runtime assigned")

	day := time.Now().UTC().Format("2006-01-02")
	path := filepath.Join(dir, day+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	var rec Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	if !scanner.Scan() {
		t.Fatalf("expected at least one line")
	}
	if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.Category != "session" || rec.Message != "runtime assigned" || rec.Level != "info" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Timestamp.IsZero() {
		t.Fatalf("expected timestamp to be set")
	}
}

func TestErrorIncludesErrorString(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	defer l.Close()

	l.Error("connection", "reconnect failed", errors.New("boom"))

	day := time.Now().UTC().Format("2006-01-02")
	path := filepath.Join(dir, day+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var rec Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Scan()
	if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Level != "error" || rec.Error != "boom" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestEnsureFileReusesHandleForSameDay(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	defer l.Close()

	l.Info("a", "one")
	firstHandle := l.file
	l.Info("a", "two")
	if l.file != firstHandle {
		t.Fatalf("expected the same file handle to be reused within a day")
	}
}
