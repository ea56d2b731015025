// Package session keeps per-conversation message history in memory.
//
// A Store is safe for concurrent use. Sessions are independent: appends to
// different sessions never contend on the same lock. Appends to the same
// session are atomic but their relative order is whatever order callers
// reach the store in; callers that need strict per-session ordering must
// serialize themselves (relay does this with a per-session lock).
package session

import (
	"sync"

	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/ai"
)

const DefaultCapacity = 10

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*History
	capacity int
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		sessions: make(map[string]*History),
		capacity: capacity,
	}
}

// GetOrCreate returns the session's history, creating an empty one on first use.
func (s *Store) GetOrCreate(id string) *History {
	s.mu.RLock()
	h, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.sessions[id]; ok {
		return h
	}
	h = newHistory(s.capacity)
	s.sessions[id] = h
	return h
}

func (s *Store) Append(id string, m ai.Message) {
	s.GetOrCreate(id).Append(m)
}

// Snapshot returns a copy of the session's history, or nil for an unknown session.
func (s *Store) Snapshot(id string) []ai.Message {
	s.mu.RLock()
	h, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return h.Snapshot()
}

// Clear removes the session. It reports whether the session existed.
func (s *Store) Clear(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

func (s *Store) List() map[string][]ai.Message {
	s.mu.RLock()
	hs := make(map[string]*History, len(s.sessions))
	for id, h := range s.sessions {
		hs[id] = h
	}
	s.mu.RUnlock()

	out := make(map[string][]ai.Message, len(hs))
	for id, h := range hs {
		out[id] = h.Snapshot()
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Capacity is the per-session history bound.
func (s *Store) Capacity() int { return s.capacity }
