package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"receipt-ocr/internal/domain"
	"receipt-ocr/internal/domain/ports/adapter"
)

var _ adapter.FileStore = (*LocalFileStore)(nil)

// LocalFileStore reads receipt images from a directory tree. Paths stored
// on receipts are relative to root; absolute paths must still resolve
// inside it, and so must their symlink targets.
type LocalFileStore struct {
	root     string
	realRoot string
}

func NewLocalFileStore(root string) (*LocalFileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("storage root %s is not a directory", abs)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	return &LocalFileStore{root: abs, realRoot: resolved}, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *LocalFileStore) resolve(p string) (string, error) {
	if p == "" {
		return "", domain.ErrInvalidArgument
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(s.root, p)
	}
	full = filepath.Clean(full)
	if !within(s.root, full) {
		return "", fmt.Errorf("%w: path %q escapes storage root", domain.ErrInvalidArgument, p)
	}
	resolved, err := filepath.EvalSymlinks(full)
	if errors.Is(err, fs.ErrNotExist) {
		return full, nil
	}
	if err != nil {
		return "", err
	}
	if !within(s.realRoot, resolved) {
		return "", fmt.Errorf("%w: path %q links outside storage root", domain.ErrInvalidArgument, p)
	}
	return resolved, nil
}

func (s *LocalFileStore) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: file %s", domain.ErrNotFound, p)
	}
	return b, err
}

func (s *LocalFileStore) Exists(ctx context.Context, p string) (bool, error) {
	full, err := s.resolve(p)
	if err != nil {
		return false, err
	}
	st, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.Mode().IsRegular(), nil
}
