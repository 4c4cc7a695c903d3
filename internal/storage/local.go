package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrOutsideRoot = errors.New("path outside storage root")

// Local keeps attachment files in one directory under generated names, so
// user-supplied file names never reach the filesystem.
type Local struct {
	dir string
}

func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create attachment dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Save copies r into a new file and returns its stored name and size.
func (l *Local) Save(fileName string, r io.Reader) (string, int64, error) {
	name := uuid.NewString() + strings.ToLower(filepath.Ext(fileName))

	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(filepath.Join(l.dir, name))
		return "", 0, err
	}
	return name, n, nil
}

// Remove deletes a stored file. A file that is already gone is not an error.
func (l *Local) Remove(stored string) error {
	path, err := l.resolve(stored)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (l *Local) Open(stored string) (io.ReadCloser, error) {
	path, err := l.resolve(stored)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (l *Local) resolve(stored string) (string, error) {
	if stored == "" || filepath.Base(stored) != stored {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, stored)
	}
	return filepath.Join(l.dir, stored), nil
}
