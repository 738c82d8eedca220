package chatify

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// TitleStore holds user-chosen conversation titles. Titles are a pure
// client annotation with no server counterpart.
type TitleStore interface {
	// Get returns the title for id, or "" when none is set.
	Get(id string) string
	// Set stores title for id; an empty or blank title clears it.
	Set(id, title string) error
	// All returns a copy of every stored title.
	All() map[string]string
}

// MemoryTitleStore is a TitleStore that lives for the process only.
type MemoryTitleStore struct {
	mu     sync.RWMutex
	titles map[string]string
}

// NewMemoryTitleStore creates an empty in-memory store.
func NewMemoryTitleStore() *MemoryTitleStore {
	return &MemoryTitleStore{titles: make(map[string]string)}
}

func (s *MemoryTitleStore) Get(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.titles[id]
}

func (s *MemoryTitleStore) Set(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	setTitle(s.titles, id, title)
	return nil
}

func (s *MemoryTitleStore) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTitles(s.titles)
}

// FileTitleStore persists titles as a TOML document:
//
//	[titles]
//	"3f2a...-c1" = "Weekend plans"
//
// The parsed document is cached and re-read only when the file's size or
// modification time changes, so several processes still see each other's
// edits. A missing or corrupt file reads as empty.
type FileTitleStore struct {
	mu   sync.Mutex
	path string

	cache   map[string]string
	modTime time.Time
	size    int64
	loaded  bool
	parses  int
}

type titlesDoc struct {
	Titles map[string]string `toml:"titles"`
}

// NewFileTitleStore returns a store backed by path. The file is created on
// the first Set.
func NewFileTitleStore(path string) *FileTitleStore {
	return &FileTitleStore{path: path}
}

// Path returns the backing file.
func (s *FileTitleStore) Path() string { return s.path }

func (s *FileTitleStore) Get(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()[id]
}

func (s *FileTitleStore) Set(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	titles := copyTitles(s.read())
	setTitle(titles, id, title)
	if err := s.write(titles); err != nil {
		return err
	}
	s.remember(titles)
	return nil
}

func (s *FileTitleStore) All() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTitles(s.read())
}

// read returns the cached titles, reparsing the file only when it changed.
// The result must not be modified.
func (s *FileTitleStore) read() map[string]string {
	fi, err := os.Stat(s.path)
	if err != nil {
		s.cache, s.loaded = nil, false
		return map[string]string{}
	}
	if s.loaded && fi.Size() == s.size && fi.ModTime().Equal(s.modTime) {
		return s.cache
	}

	titles := make(map[string]string)
	s.parses++
	if data, err := os.ReadFile(s.path); err == nil {
		var doc titlesDoc
		if err := toml.Unmarshal(data, &doc); err == nil && doc.Titles != nil {
			titles = doc.Titles
		}
	}
	s.cache, s.modTime, s.size, s.loaded = titles, fi.ModTime(), fi.Size(), true
	return titles
}

// remember caches titles as the content just written.
func (s *FileTitleStore) remember(titles map[string]string) {
	fi, err := os.Stat(s.path)
	if err != nil {
		s.cache, s.loaded = nil, false
		return
	}
	s.cache, s.modTime, s.size, s.loaded = titles, fi.ModTime(), fi.Size(), true
}

func (s *FileTitleStore) write(titles map[string]string) error {
	data, err := toml.Marshal(titlesDoc{Titles: titles})
	if err != nil {
		return fmt.Errorf("cannot marshal titles: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("cannot create titles directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("cannot write titles: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Join(fmt.Errorf("cannot replace titles: %w", err), os.Remove(tmp))
	}
	return nil
}

func setTitle(m map[string]string, id, title string) {
	title = strings.TrimSpace(title)
	if title == "" {
		delete(m, id)
		return
	}
	m[id] = title
}

func copyTitles(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
