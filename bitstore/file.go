package bitstore

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Content ids are split into this many directory levels of digitsPerLevel
// characters each, e.g. 1a/2b/3c/1a2b3c...
const (
	directoryLevels = 3
	digitsPerLevel  = 2
)

// FileStore is an AssetStore on a filesystem.
type FileStore struct {
	fs   afero.Fs
	base string
}

var _ AssetStore = (*FileStore)(nil)

// NewFileStore returns a store rooted at base. Use afero.NewOsFs for disk.
func NewFileStore(fs afero.Fs, base string) *FileStore {
	return &FileStore{fs: fs, base: base}
}

func (f *FileStore) path(id string) (string, error) {
	if len(id) <= directoryLevels*digitsPerLevel {
		return "", errors.Errorf("content id %q is too short", id)
	}
	parts := []string{f.base}
	for i := 0; i < directoryLevels; i++ {
		parts = append(parts, id[i*digitsPerLevel:(i+1)*digitsPerLevel])
	}
	return filepath.Join(append(parts, id)...), nil
}

func (f *FileStore) Put(_ context.Context, id string, r io.Reader) error {
	path, err := f.path(id)
	if err != nil {
		return err
	}
	if err := f.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "directory creation failed")
	}
	file, err := f.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "file creation failed")
	}
	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		_ = f.fs.Remove(path)
		return errors.Wrap(err, "write failed")
	}
	return file.Close()
}

func (f *FileStore) Get(_ context.Context, id string) (io.ReadCloser, error) {
	path, err := f.path(id)
	if err != nil {
		return nil, err
	}
	return f.fs.Open(path)
}

// Remove deletes the content file and the directories it leaves empty.
func (f *FileStore) Remove(_ context.Context, id string) error {
	path, err := f.path(id)
	if err != nil {
		return err
	}
	if err := f.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	dir := filepath.Dir(path)
	for i := 0; i < directoryLevels; i++ {
		empty, err := afero.IsEmpty(f.fs, dir)
		if err != nil || !empty {
			break
		}
		if err := f.fs.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}
