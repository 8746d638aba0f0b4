package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tendant/content-store/pkg/contentstore"
	"github.com/tendant/content-store/pkg/contentstore/objectkey"
)

// Backend is a filesystem implementation of the contentstore.Loader interface
type Backend struct {
	baseDir string
	keys    objectkey.Generator
}

var _ contentstore.Loader = (*Backend)(nil)

// Config options for the filesystem backend
type Config struct {
	BaseDir string              // Base directory for storing files
	Keys    objectkey.Generator // Converts content ids to relative paths (default: flat)
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, contentstore.ConfigError("base directory is required")
	}

	baseDir, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	keys := config.Keys
	if keys == nil {
		keys = objectkey.NewFlat()
	}

	return &Backend{
		baseDir: baseDir,
		keys:    keys,
	}, nil
}

// Backend returns the backend name
func (b *Backend) Backend() string {
	return "fs"
}

// BaseDir returns the absolute root directory
func (b *Backend) BaseDir() string {
	return b.baseDir
}

// Resource maps the location key to a file under the base directory. The
// bucket, when set, becomes the first path component.
func (b *Backend) Resource(ctx context.Context, loc contentstore.Location) (contentstore.Resource, error) {
	key, err := b.keys.Key(loc.Key)
	if err != nil {
		return nil, err
	}
	if loc.Bucket != "" {
		if loc.Bucket == "." || loc.Bucket == ".." || strings.ContainsAny(loc.Bucket, `/\`) {
			return nil, contentstore.ConfigError("invalid bucket %q", loc.Bucket)
		}
		key = loc.Bucket + "/" + key
	}
	return &Resource{backend: b, path: filepath.Join(b.baseDir, filepath.FromSlash(key))}, nil
}

// Resource is one file under a filesystem Backend
type Resource struct {
	backend *Backend
	path    string
}

// Path returns the absolute file path
func (r *Resource) Path() string {
	return r.path
}

func (r *Resource) Location() string {
	return "file://" + filepath.ToSlash(r.path)
}

func (r *Resource) stat() (os.FileInfo, error) {
	info, err := os.Stat(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, contentstore.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if info.IsDir() {
		return nil, contentstore.ConfigError("%s is a directory", r.path)
	}
	return info, nil
}

func (r *Resource) Exists(ctx context.Context) (bool, error) {
	_, err := r.stat()
	if errors.Is(err, contentstore.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *Resource) ContentLength(ctx context.Context) (int64, error) {
	info, err := r.stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (r *Resource) LastModified(ctx context.Context) (time.Time, error) {
	info, err := r.stat()
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Open opens the file for reading
func (r *Resource) Open(ctx context.Context) (io.ReadCloser, error) {
	file, err := os.Open(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, contentstore.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Create creates missing parent directories and truncates the file
func (r *Resource) Create(ctx context.Context) (io.WriteCloser, error) {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &sink{File: file}, nil
}

// Delete removes the file; a missing file is skipped
func (r *Resource) Delete(ctx context.Context) error {
	if err := os.Remove(r.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	// Clean up empty directories
	r.backend.cleanupEmptyDirectories(filepath.Dir(r.path))
	return nil
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	// Don't remove the base directory
	if dir == b.baseDir || len(dir) <= len(b.baseDir) {
		return
	}

	// Check if directory is empty
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		// Remove empty directory
		if os.Remove(dir) == nil {
			// Recursively clean parent directory
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}

// sink syncs the file before reporting the write durable
type sink struct {
	*os.File
}

func (s *sink) Close() error {
	if err := s.File.Sync(); err != nil {
		s.File.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return s.File.Close()
}

// CloseWithError closes the file without syncing; the partial file remains
func (s *sink) CloseWithError(err error) error {
	return s.File.Close()
}
