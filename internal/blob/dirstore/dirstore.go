// Package dirstore implements blob.Client on a plain directory.
//
// The directory is typically a network mount or a folder replicated by
// another tool. Files are written to a hidden temporary name and renamed
// into place so readers never observe a partial delta.
package dirstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/vifly/tasksApp/internal/blob"
)

// Store is a blob.Client rooted at a directory.
type Store struct {
	fs   afero.Fs
	root string
}

var _ blob.Client = (*Store)(nil)

// New creates a store rooted at root on fsys. A nil fsys means the OS
// filesystem.
func New(fsys afero.Fs, root string) *Store {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Store{fs: fsys, root: root}
}

// Root returns the directory the store is rooted at.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) abs(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

// CheckConnection implements blob.Client.
func (s *Store) CheckConnection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fi, err := s.fs.Stat(s.root)
	if err != nil {
		return fmt.Errorf("failed to access %s: %w", s.root, translate(err))
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", s.root)
	}
	return nil
}

// CreateDirectory implements blob.Client.
func (s *Store) CreateDirectory(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.abs(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// PutFile implements blob.Client.
func (s *Store) PutFile(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := s.abs(path)
	dir := filepath.Dir(target)
	if fi, err := s.fs.Stat(dir); err != nil || !fi.IsDir() {
		return fmt.Errorf("failed to upload %s: %w", path, blob.ErrCollectionMissing)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(target)+".tmp")
	if err := afero.WriteFile(s.fs, tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := s.fs.Rename(tmp, target); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// GetFile implements blob.Client.
func (s *Store) GetFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, s.abs(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, translate(err))
	}
	return data, nil
}

// ListFiles implements blob.Client.
func (s *Store) ListFiles(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(s.fs, s.abs(path))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", path, translate(err))
	}

	var names []string
	for _, fi := range entries {
		name := fi.Name()
		if fi.IsDir() || strings.HasPrefix(name, ".") || !blob.IsDelta(name) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func translate(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errors.Join(blob.ErrNotFound, err)
	}
	return err
}
