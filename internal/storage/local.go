package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Local stores uploads in a directory on disk.
type Local struct {
	dir string
}

// NewLocal creates dir if needed and returns a Local store rooted there.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Dir returns the directory files are written to.
func (l *Local) Dir() string {
	return l.dir
}

// saveAttempts bounds how many suffixed names Save tries after a collision.
const saveAttempts = 5

// Save writes body to <dir>/<name> and returns "/uploads/<name>". When name
// is taken a short random suffix is added before the extension.
func (l *Local) Save(_ context.Context, name string, body io.Reader) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid file name %q", name)
	}

	f, stored, err := l.create(name)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(l.dir, stored)
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("close file: %w", err)
	}
	return URLPrefix + "/" + stored, nil
}

// create opens a new file for name, never overwriting an existing one.
func (l *Local) create(name string) (*os.File, string, error) {
	candidate := name
	for range saveAttempts {
		f, err := os.OpenFile(filepath.Join(l.dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, candidate, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create file: %w", err)
		}
		ext := filepath.Ext(name)
		candidate = strings.TrimSuffix(name, ext) + "-" + uuid.NewString()[:8] + ext
	}
	return nil, "", fmt.Errorf("create file: no free name for %q", name)
}

// Remove deletes the file behind a "/uploads/<name>" URL.
func (l *Local) Remove(_ context.Context, url string) error {
	name, ok := strings.CutPrefix(url, URLPrefix+"/")
	if !ok || name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("not a local upload url: %q", url)
	}
	err := os.Remove(filepath.Join(l.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}
