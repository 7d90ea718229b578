package glob

import (
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Set caches compiled matchers so that settings snapshots carrying the same
// patterns and root share one Matcher. Safe for concurrent use.
type Set struct {
	mu       sync.Mutex
	matchers map[uint64][]*Matcher
	maxSize  int
	size     int
}

// NewSet creates a matcher cache. A maxSize <= 0 defaults to 256 entries;
// the cache is cleared when it grows past the limit.
func NewSet(maxSize int) *Set {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &Set{
		matchers: make(map[uint64][]*Matcher),
		maxSize:  maxSize,
	}
}

// Get returns the cached matcher for (patterns, root), building it on a miss.
func (s *Set) Get(patterns []string, root string) *Matcher {
	key := hashKey(patterns, root)
	nroot := normalizeRoot(root)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.matchers[key] {
		if m.root == nroot && slices.Equal(m.patterns, patterns) {
			return m
		}
	}

	if s.size >= s.maxSize {
		s.matchers = make(map[uint64][]*Matcher)
		s.size = 0
	}

	m := New(patterns, root)
	s.matchers[key] = append(s.matchers[key], m)
	s.size++
	return m
}

// Len returns the number of cached matchers.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Clear drops every cached matcher.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchers = make(map[uint64][]*Matcher)
	s.size = 0
}

func hashKey(patterns []string, root string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(normalizeRoot(root))
	for _, p := range patterns {
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(p)
	}
	return d.Sum64()
}
