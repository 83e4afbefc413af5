package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

var exportNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ErrExportNotFound is returned when a named export does not exist.
var ErrExportNotFound = errors.New("export not found")

// ErrInvalidName is returned for names that are not plain file names.
var ErrInvalidName = errors.New("invalid export name")

// ExportMeta describes one stored export file.
type ExportMeta struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// FileSink stores export artifacts as files in a single directory.
type FileSink struct {
	dir string
	mu  sync.RWMutex
	now func() time.Time
}

// NewFileSink creates a FileSink and ensures the directory exists.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export store: mkdir %s: %w", dir, err)
	}
	return &FileSink{dir: dir, now: time.Now}, nil
}

func (s *FileSink) Dir() string { return s.dir }

func validateName(name string) error {
	if !exportNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Deliver writes data under suggestedName, picking a timestamped variant when
// the name is taken. The write is atomic: readers never see a partial file.
func (s *FileSink) Deliver(ctx context.Context, data []byte, suggestedName string) (string, error) {
	if err := validateName(suggestedName); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.freePath(suggestedName)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("export store: create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		if rmErr := os.Remove(tmpName); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Debug("export temp cleanup failed", "path", tmpName, "error", rmErr)
		}
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("export store: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("export store: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("export store: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return "", fmt.Errorf("export store: rename: %w", err)
	}

	slog.Debug("export file written", "path", path, "size", len(data))
	return path, nil
}

func (s *FileSink) freePath(name string) (string, error) {
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, nil
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	stamp := s.now().UTC().Format("20060102T150405")
	for i := 0; i < 100; i++ {
		candidate := fmt.Sprintf("%s_%s%s", stem, stamp, ext)
		if i > 0 {
			candidate = fmt.Sprintf("%s_%s_%d%s", stem, stamp, i, ext)
		}
		path = filepath.Join(s.dir, candidate)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, nil
		}
	}
	return "", fmt.Errorf("export store: no free file name for %q", name)
}

// List returns stored exports, newest first.
func (s *FileSink) List() ([]ExportMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("export store: read dir: %w", err)
	}

	metas := make([]ExportMeta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || validateName(entry.Name()) != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		metas = append(metas, ExportMeta{Name: entry.Name(), SizeBytes: info.Size(), ModifiedAt: info.ModTime().UTC()})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].ModifiedAt.After(metas[j].ModifiedAt)
	})
	return metas, nil
}

// Read returns the bytes of a stored export.
func (s *FileSink) Read(name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrExportNotFound, name)
		}
		return nil, fmt.Errorf("export store: read: %w", err)
	}
	return data, nil
}

// Delete removes a stored export.
func (s *FileSink) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrExportNotFound, name)
		}
		return fmt.Errorf("export store: delete: %w", err)
	}
	return nil
}
