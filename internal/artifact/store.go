// Package artifact provides a name-addressed, append-only store for review
// reports and other pipeline outputs.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Ref identifies one stored artifact version.
type Ref struct {
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Path      string    `json:"path"`
	Digest    string    `json:"digest"` // sha256 of content
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists artifacts on disk. Every Save creates a new immutable
// version file and refreshes a "latest" alias; existing versions are never
// rewritten.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates an artifact store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes content as the next version of name and returns its reference.
func (s *Store) Save(name string, content []byte) (*Ref, error) {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return nil, fmt.Errorf("invalid artifact name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	version := s.nextVersion(name)
	path := filepath.Join(s.dir, fmt.Sprintf("%s.v%d", name, version))

	if err := os.WriteFile(path, content, 0644); err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}

	// Refresh the latest alias. Best effort: versioned file is the record.
	latest := filepath.Join(s.dir, name)
	_ = os.WriteFile(latest, content, 0644)

	sum := sha256.Sum256(content)
	return &Ref{
		Name:      name,
		Version:   version,
		Path:      path,
		Digest:    hex.EncodeToString(sum[:]),
		Size:      len(content),
		CreatedAt: time.Now(),
	}, nil
}

// Load returns the latest content stored under name.
func (s *Store) Load(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact %q: %w", name, err)
	}
	return data, nil
}

// Versions returns the stored version numbers for name, ascending.
func (s *Store) Versions(name string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.versions(name)
	sort.Ints(versions)
	return versions, nil
}

func (s *Store) nextVersion(name string) int {
	versions := s.versions(name)
	max := 0
	for _, v := range versions {
		if v > max {
			max = v
		}
	}
	return max + 1
}

func (s *Store) versions(name string) []int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}

	prefix := name + ".v"
	var versions []int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		var v int
		if _, err := fmt.Sscanf(strings.TrimPrefix(entry.Name(), prefix), "%d", &v); err == nil {
			versions = append(versions, v)
		}
	}
	return versions
}
