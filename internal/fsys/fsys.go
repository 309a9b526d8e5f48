// Package fsys is the local filesystem adapter used by the workspace scanner
// and the per-repository actions.
package fsys

import (
	"io/fs"
	"os"
	"path/filepath"
)

// FileSystem abstracts the handful of filesystem operations the scanner needs,
// so tests can substitute fakes.
type FileSystem interface {
	EnsureDirectory(path string) error
	PathExists(path string) bool
	ListFilesRecursive(path string, fn func(path string, d fs.DirEntry) error) error
}

// Local implements FileSystem against the OS filesystem.
type Local struct{}

// NewLocal returns the OS-backed filesystem adapter.
func NewLocal() *Local { return &Local{} }

// EnsureDirectory creates path and any missing parents. Idempotent.
func (*Local) EnsureDirectory(path string) error {
	return os.MkdirAll(path, 0o755)
}

// PathExists reports whether path exists (file or directory).
func (*Local) PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ListFilesRecursive walks all regular files under path, invoking fn for each.
// Directories themselves are not reported. An empty or missing directory is
// not an error; walking simply yields nothing.
func (*Local) ListFilesRecursive(path string, fn func(path string, d fs.DirEntry) error) error {
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		return fn(p, d)
	})
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
