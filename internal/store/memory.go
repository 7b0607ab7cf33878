package store

import (
	"fmt"
	"sync"
)

// Memory is an in-process Store. It backs tests and dry runs, and keeps
// the same commit-or-nothing scope semantics as Git.
type Memory struct {
	mu      sync.Mutex
	info    map[string]any
	files   map[string]bool
	remotes map[string]string
	dir     string
	base    string
	closed  bool
}

// NewMemory creates an empty store whose work tree is dir.
func NewMemory(dir string) *Memory {
	return &Memory{
		info:    make(map[string]any),
		files:   make(map[string]bool),
		remotes: make(map[string]string),
		dir:     dir,
		base:    "aetros-memory-store " + dir,
	}
}

func (m *Memory) WorkTree() string    { return m.dir }
func (m *Memory) BaseCommand() string { return m.base }

func (m *Memory) SetInfo(key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.info[key] = value
	return nil
}

func (m *Memory) BeginScope(label string) Scope {
	return &memScope{m: m}
}

func (m *Memory) HasFile(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[path]
}

func (m *Memory) CommitFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.files[path] = true
	return nil
}

func (m *Memory) Fetch(string) error   { return m.writable() }
func (m *Memory) Restore(string) error { return m.writable() }

func (m *Memory) writable() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) RemoteURL(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	url, ok := m.remotes[name]
	if !ok {
		return "", fmt.Errorf("looking up remote %s: not found", name)
	}
	return url, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetRemote registers a named remote URL.
func (m *Memory) SetRemote(name, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remotes[name] = url
}

// SeedFile marks a path as present in the committed tree.
func (m *Memory) SeedFile(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = true
}

// InfoValue returns a committed info value.
func (m *Memory) InfoValue(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.info[key]
	return v, ok
}

// InfoKeys returns the committed info keys with the given prefix.
func (m *Memory) InfoKeys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.info {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys
}

type memScope struct {
	m      *Memory
	staged []infoWrite
}

func (s *memScope) SetInfo(key string, value any) {
	s.staged = append(s.staged, infoWrite{key: key, value: value})
}

func (s *memScope) Commit() error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.closed {
		return ErrClosed
	}
	for _, w := range s.staged {
		s.m.info[w.key] = w.value
	}
	return nil
}
