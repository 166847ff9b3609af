// Package history keeps the append-only log of accepted interactions for
// the session and saves individual interactions to disk on request.
package history

import (
	"context"
	"sync"

	"github.com/Paranoid-AF/promptbar"
)

// Saver writes an interaction to durable storage and returns a
// human-readable description of where it went.
type Saver interface {
	Save(ctx context.Context, in promptbar.Interaction) (string, error)
}

// Store is an ordered, append-only sequence of interactions.
type Store struct {
	saver Saver

	mu      sync.RWMutex
	entries []promptbar.Interaction
}

// NewStore creates an empty store. saver may be nil, in which case Persist
// always fails.
func NewStore(saver Saver) *Store {
	return &Store{saver: saver}
}

// Append adds in to the end of the log.
func (s *Store) Append(in promptbar.Interaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, in)
}

// Len returns the number of interactions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// List returns a copy of all interactions, oldest first.
func (s *Store) List() []promptbar.Interaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]promptbar.Interaction, len(s.entries))
	copy(out, s.entries)
	return out
}

// Prompts returns the prompt of every interaction, oldest first.
func (s *Store) Prompts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Prompt
	}
	return out
}

// Get returns the interaction at index i.
func (s *Store) Get(i int) (promptbar.Interaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.entries) {
		return promptbar.Interaction{}, false
	}
	return s.entries[i], true
}

// Revert returns the BeforeCode of interaction i. An out-of-range index is
// a no-op and returns false; committing the code is the caller's job.
func (s *Store) Revert(i int) (string, bool) {
	in, ok := s.Get(i)
	if !ok {
		return "", false
	}
	return in.BeforeCode, true
}

// Persist hands interaction i to the saver and returns the location it
// reports. An out-of-range index is ignored and returns ok=false.
func (s *Store) Persist(ctx context.Context, i int) (location string, ok bool, err error) {
	in, ok := s.Get(i)
	if !ok {
		return "", false, nil
	}
	if s.saver == nil {
		return "", true, errNoSaver
	}
	location, err = s.saver.Save(ctx, in)
	return location, true, err
}
