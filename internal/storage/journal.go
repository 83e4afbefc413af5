package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// JournalSink appends exported artifacts to a size-rotated JSONL file under a
// per-day directory, e.g. baseDir/2024-05-01/api_requests.jsonl.
type JournalSink struct {
	baseDir     string
	maxSizeMB   int
	currentDate string
	currentName string
	logger      *lumberjack.Logger
	mu          sync.Mutex
	now         func() time.Time
}

// NewJournalSink creates a journal rooted at baseDir.
func NewJournalSink(baseDir string, maxSizeMB int) *JournalSink {
	return &JournalSink{baseDir: baseDir, maxSizeMB: maxSizeMB, now: time.Now}
}

// Deliver appends data to the journal, terminating it with a newline.
func (j *JournalSink) Deliver(ctx context.Context, data []byte, suggestedName string) (string, error) {
	if err := validateName(suggestedName); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	date := j.now().UTC().Format("2006-01-02")
	if j.logger == nil || date != j.currentDate || suggestedName != j.currentName {
		if err := j.rotate(date, suggestedName); err != nil {
			return "", err
		}
	}

	if !bytes.HasSuffix(data, []byte("\n")) {
		data = append(append([]byte(nil), data...), '\n')
	}
	if _, err := j.logger.Write(data); err != nil {
		return "", fmt.Errorf("journal write: %w", err)
	}
	return j.logger.Filename, nil
}

func (j *JournalSink) rotate(date, name string) error {
	if j.logger != nil {
		if err := j.logger.Close(); err != nil {
			slog.Debug("journal close failed", "file", j.logger.Filename, "error", err)
		}
		j.logger = nil
	}

	dir := filepath.Join(j.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("journal: mkdir %s: %w", dir, err)
	}

	filename := filepath.Join(dir, journalFileName(name))
	j.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    j.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		Compress:   false,
		LocalTime:  false,
	}
	j.currentDate = date
	j.currentName = name
	slog.Info("opened export journal", "file", filename)
	return nil
}

// journalFileName maps "api_requests.json" to "api_requests.jsonl".
func journalFileName(name string) string {
	if filepath.Ext(name) == ".jsonl" {
		return name
	}
	if filepath.Ext(name) == ".json" {
		return name + "l"
	}
	return name + ".jsonl"
}

// Close flushes and closes the current journal file.
func (j *JournalSink) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.logger == nil {
		return nil
	}
	err := j.logger.Close()
	j.logger = nil
	return err
}
