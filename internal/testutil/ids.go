package testutil

import (
	"fmt"
	"sync"
)

// IDSequence hands out deterministic record IDs for tests.
//
// IDs are prefix-0001, prefix-0002, ... so that they sort in the order
// they were generated and golden output stays stable across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type IDSequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewIDSequence creates a sequence whose first ID is prefix-0001.
// An empty prefix defaults to "msg".
func NewIDSequence(prefix string) *IDSequence {
	if prefix == "" {
		prefix = "msg"
	}
	return &IDSequence{prefix: prefix}
}

// Next returns the next ID.
func (s *IDSequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%04d", s.prefix, s.n)
}

// Count returns how many IDs have been handed out.
func (s *IDSequence) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Reset restarts the sequence. After Reset, Next returns prefix-0001.
func (s *IDSequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n = 0
}
