// Package session keeps per-conversation state for collaborators that let a
// user pick a date range and devices before asking for an analysis.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrInvalidRange = errors.New("invalid date range")
)

// Session is the state of one conversation. Selecting names the range bound
// the user is currently choosing ("from" or "to"); Pending holds devices
// queued for analysis once the range is complete.
type Session struct {
	ID        string    `json:"id"`
	From      time.Time `json:"from,omitempty"`
	To        time.Time `json:"to,omitempty"`
	Selecting string    `json:"selecting,omitempty"`
	Pending   []string  `json:"pending,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasRange reports whether both bounds are set.
func (s *Session) HasRange() bool {
	return !s.From.IsZero() && !s.To.IsZero()
}

// SetRange stores [from, to] and clears the selection cursor.
func (s *Session) SetRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return fmt.Errorf("%w: both bounds are required", ErrInvalidRange)
	}
	if !from.Before(to) {
		return fmt.Errorf("%w: from %s is not before to %s", ErrInvalidRange, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	s.From = from.UTC()
	s.To = to.UTC()
	s.Selecting = ""
	return nil
}

// AddPending queues a device once.
func (s *Session) AddPending(deviceID string) {
	for _, id := range s.Pending {
		if id == deviceID {
			return
		}
	}
	s.Pending = append(s.Pending, deviceID)
}

// Done removes a device from the queue.
func (s *Session) Done(deviceID string) {
	kept := s.Pending[:0]
	for _, id := range s.Pending {
		if id != deviceID {
			kept = append(kept, id)
		}
	}
	s.Pending = kept
}

// Store persists sessions by ID.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// Load returns the stored session or a fresh one when id is unknown.
func Load(ctx context.Context, store Store, id string) (*Session, error) {
	s, err := store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return &Session{ID: id}, nil
	}
	return s, err
}

// MemoryStore keeps sessions in process. Entries older than ttl are treated
// as missing; a zero ttl never expires.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	ttl      time.Duration
	now      func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || m.expired(s) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.Pending = append([]string(nil), s.Pending...)
	return &s, nil
}

func (m *MemoryStore) Put(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	cp := *s
	cp.Pending = append([]string(nil), s.Pending...)
	cp.UpdatedAt = m.now()
	m.mu.Lock()
	m.sessions[s.ID] = cp
	m.mu.Unlock()
	s.UpdatedAt = cp.UpdatedAt
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// IDs lists live sessions.
func (m *MemoryStore) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		if !m.expired(s) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (m *MemoryStore) expired(s Session) bool {
	return m.ttl > 0 && m.now().Sub(s.UpdatedAt) > m.ttl
}
