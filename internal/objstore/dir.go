package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// DescriptorPattern matches object documents anywhere under a DirStore.
const DescriptorPattern = "**/*.xml"

// DirStore keeps one object document per file under a directory. New
// objects are written to <dir>/<escaped pid>.xml; documents found by List
// may live in any subdirectory.
type DirStore struct {
	dir string

	mu    sync.RWMutex
	paths map[string]string // pid -> path
}

// NewDirStore returns a store rooted at dir, creating it if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("object store directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create object store directory: %w", err)
	}
	return &DirStore{dir: dir, paths: make(map[string]string)}, nil
}

// Dir returns the root directory.
func (s *DirStore) Dir() string { return s.dir }

// Object reads the object with the given pid.
func (s *DirStore) Object(ctx context.Context, pid string) (*Object, error) {
	path := s.pathFor(pid)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, pid)
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", pid, err)
	}
	obj, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", pid, err)
	}
	if obj.PID != pid {
		return nil, fmt.Errorf("%w: %s (file %s declares %s)", ErrNotFound, pid, path, obj.PID)
	}
	return obj, nil
}

// Put writes obj, replacing any existing document for its pid.
func (s *DirStore) Put(ctx context.Context, obj *Object) error {
	data, err := Encode(obj)
	if err != nil {
		return err
	}
	path := s.pathFor(obj.PID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write object %s: %w", obj.PID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write object %s: %w", obj.PID, err)
	}
	s.remember(obj.PID, path)
	return nil
}

// Remove deletes the object's document. Removing a missing object
// returns an error wrapping ErrNotFound.
func (s *DirStore) Remove(ctx context.Context, pid string) error {
	path := s.pathFor(pid)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, pid)
		}
		return fmt.Errorf("remove object %s: %w", pid, err)
	}
	s.mu.Lock()
	delete(s.paths, pid)
	s.mu.Unlock()
	return nil
}

// List returns the pids of every object document under the directory,
// sorted. Files that are not object documents are skipped.
func (s *DirStore) List(ctx context.Context) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(s.dir), DescriptorPattern)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	var pids []string
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(s.dir, filepath.FromSlash(rel))
		pid, err := s.Resolve(path)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	sort.Strings(pids)
	return pids, nil
}

// Resolve reads the pid declared by the document at path and remembers
// the mapping.
func (s *DirStore) Resolve(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	pid, err := CanonicalObjectID(f)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	s.remember(pid, path)
	return pid, nil
}

// Forget drops the mapping for a document that no longer exists and
// returns the pid it held. When the path was never resolved, the pid is
// recovered from the file name.
func (s *DirStore) Forget(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pid, p := range s.paths {
		if p == path {
			delete(s.paths, pid)
			return pid, true
		}
	}
	return pidFromFile(path)
}

// Matches reports whether path names an object document.
func (s *DirStore) Matches(path string) bool {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	ok, _ := doublestar.Match(DescriptorPattern, filepath.ToSlash(rel))
	return ok
}

func (s *DirStore) remember(pid, path string) {
	s.mu.Lock()
	s.paths[pid] = path
	s.mu.Unlock()
}

func (s *DirStore) pathFor(pid string) string {
	s.mu.RLock()
	path, ok := s.paths[pid]
	s.mu.RUnlock()
	if ok {
		return path
	}
	return filepath.Join(s.dir, url.QueryEscape(pid)+".xml")
}

func pidFromFile(path string) (string, bool) {
	name := strings.TrimSuffix(filepath.Base(path), ".xml")
	pid, err := url.QueryUnescape(name)
	if err != nil || pid == "" {
		return "", false
	}
	return pid, true
}
