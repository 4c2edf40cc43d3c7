// Package camera provides frame sources for the capture flows.
package camera

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrPermissionDenied is returned when the device or its backing files cannot be opened.
var ErrPermissionDenied = errors.New("camera permission denied")

// ErrClosed is returned by Frame after the stream has been closed.
var ErrClosed = errors.New("camera stream closed")

// Camera opens a frame stream.
type Camera interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream yields frames until closed. Close must be safe to call once.
type Stream interface {
	Frame(ctx context.Context) ([]byte, error)
	Close() error
}

var frameExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// Files is a camera backed by image files. A directory yields its images in
// name order and wraps around; a single file yields itself on every frame.
type Files struct {
	Path string
}

func (f Files) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(f.Path)
	if err != nil {
		return nil, mapOpenError(err)
	}
	paths := []string{f.Path}
	if info.IsDir() {
		entries, err := os.ReadDir(f.Path)
		if err != nil {
			return nil, mapOpenError(err)
		}
		paths = paths[:0]
		for _, e := range entries {
			if !e.IsDir() && frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
				paths = append(paths, filepath.Join(f.Path, e.Name()))
			}
		}
		sort.Strings(paths)
		if len(paths) == 0 {
			return nil, fmt.Errorf("no frames in %s", f.Path)
		}
	}
	return &fileStream{paths: paths}, nil
}

type fileStream struct {
	mu     sync.Mutex
	paths  []string
	next   int
	closed bool
}

func (s *fileStream) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	path := s.paths[s.next%len(s.paths)]
	s.next++
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mapOpenError(err)
	}
	return data, nil
}

func (s *fileStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func mapOpenError(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return err
}
