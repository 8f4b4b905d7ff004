// Package filetree holds the shared project file tree and its merge rules.
//
// Merges are shallow and last-write-wins at path granularity. Every write to a
// path bumps a per-tree version counter so concurrent writers can tell which
// edit landed last.
package filetree

import (
	"maps"
	"sync"
)

// Tree maps a file path to its contents.
type Tree map[string]string

// Versions maps a file path to the version stamp of its latest write.
type Versions map[string]uint64

// Merge returns a new tree where every path in delta replaces the entry in
// current. Paths absent from delta are kept. Neither input is modified.
func Merge(current, delta Tree) Tree {
	out := make(Tree, len(current)+len(delta))
	maps.Copy(out, current)
	maps.Copy(out, delta)
	return out
}

// State is the live, mutex-guarded file tree of a single room.
type State struct {
	mu       sync.Mutex
	tree     Tree
	versions Versions
	clock    uint64
}

// NewState creates a state seeded with initial. The seed is copied.
func NewState(initial Tree) *State {
	s := &State{
		tree:     make(Tree, len(initial)),
		versions: make(Versions, len(initial)),
	}
	for path, content := range initial {
		s.clock++
		s.tree[path] = content
		s.versions[path] = s.clock
	}
	return s
}

// Apply merges delta into the state and returns the new version of every
// path it touched.
func (s *State) Apply(delta Tree) Versions {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tree = Merge(s.tree, delta)
	touched := make(Versions, len(delta))
	for path := range delta {
		s.clock++
		s.versions[path] = s.clock
		touched[path] = s.clock
	}
	return touched
}

// Remove deletes path. It returns the version stamp of the removal and
// whether the path existed.
func (s *State) Remove(path string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tree[path]; !ok {
		return 0, false
	}
	delete(s.tree, path)
	s.clock++
	delete(s.versions, path)
	return s.clock, true
}

// Snapshot returns copies of the current tree and version stamps.
func (s *State) Snapshot() (Tree, Versions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.tree), maps.Clone(s.versions)
}

// Version returns the current version of path, or 0 if it does not exist.
func (s *State) Version(path string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[path]
}
