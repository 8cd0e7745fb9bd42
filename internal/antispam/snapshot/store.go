// Package snapshot stores pre-quarantine role snapshots keyed by user.
package snapshot

import (
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/dubblu/sentinel/internal/antispam/types"
)

// Store holds at most one live RoleSnapshot per user. A second quarantine
// for the same user overwrites the prior snapshot; last write wins.
type Store struct {
	mu        sync.RWMutex
	snapshots map[snowflake.ID]*types.RoleSnapshot
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		snapshots: make(map[snowflake.ID]*types.RoleSnapshot),
	}
}

// Set stores a snapshot for a user. Returns true when an existing snapshot
// was overwritten.
func (s *Store) Set(userID snowflake.ID, snap *types.RoleSnapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, replaced := s.snapshots[userID]
	s.snapshots[userID] = snap

	return replaced
}

// Get returns the user's snapshot, if one exists.
func (s *Store) Get(userID snowflake.ID) (*types.RoleSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[userID]

	return snap, ok
}

// Delete removes the user's snapshot.
func (s *Store) Delete(userID snowflake.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, userID)
}

// Len returns the number of stored snapshots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.snapshots)
}
