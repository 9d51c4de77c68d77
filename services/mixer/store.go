package mixer

import (
	"sort"
	"sync"
	"time"
)

// Store is an in-memory session store. Sessions hold no key material,
// so losing them on restart strands nothing that was not already
// stranded; durable persistence is deliberately absent.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*MixSession
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*MixSession)}
}

// Put registers a new session.
func (s *Store) Put(sess *MixSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = cloneSession(sess)
}

// Update overwrites the stored snapshot of a session.
func (s *Store) Update(sess *MixSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = cloneSession(sess)
}

// Get returns a copy of the session with the given ID.
func (s *Store) Get(id string) (*MixSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return cloneSession(sess), true
}

// List returns copies of all sessions, newest first.
func (s *Store) List() []*MixSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*MixSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, cloneSession(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Stats aggregates counters and volumes across all sessions.
func (s *Store) Stats() MixStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := MixStats{GeneratedAt: time.Now().UTC()}
	for _, sess := range s.sessions {
		stats.TotalSessions++
		stats.RequestedVolume += sess.RequestedAmount
		switch sess.Status {
		case SessionCompleted:
			stats.CompletedSessions++
			stats.DeliveredVolume += sess.DeliveredAmount
			stats.FeesConsumed += sess.FeesConsumed
		case SessionFailed:
			stats.FailedSessions++
			stats.FeesConsumed += sess.FeesConsumed
		default:
			stats.ActiveSessions++
		}
	}
	return stats
}

func cloneSession(sess *MixSession) *MixSession {
	c := *sess
	return &c
}
