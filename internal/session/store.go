// Package session holds per-user conversation progress in memory.
//
// The store guarantees the single-in-flight-event rule: all work for one
// user runs under that user's lock, so a state transition is never observed
// mid-flight. Records are reused across flows; ClearFlow resets progress
// without discarding the record.
package session

import (
	"sync"
	"time"
)

// Flow names a top-level registration journey.
type Flow string

const (
	// FlowNone marks a session with no active journey.
	FlowNone Flow = "none"
	// FlowSupporter is the citizen registration journey.
	FlowSupporter Flow = "supporter"
	// FlowExpert is the expert application journey.
	FlowExpert Flow = "expert"
)

// State is a single step within a flow awaiting one kind of input. The
// conversation package declares the per-flow constants; FlowNone carries
// only StateNone.
type State string

// StateNone is the state of a session outside any flow.
const StateNone State = ""

// Record is one user's conversation progress.
type Record struct {
	UserID      int64
	DisplayName string
	Username    string
	Flow        Flow
	State       State
	// Answers accumulates validated inputs keyed by field name.
	Answers  map[string]string
	Deeplink string
	// LastEventID is the transport identifier of the last handled event,
	// kept for duplicate suppression.
	LastEventID string
	// UserRowAppended marks that the terminal user row is already committed,
	// so a retried terminal step never duplicates it.
	UserRowAppended bool
	CreatedAt       time.Time
	LastActivity    time.Time
}

// clone copies the record together with its Answers map, so callers never
// share mutable state with the store.
func (r *Record) clone() Record {
	copied := *r
	copied.Answers = make(map[string]string, len(r.Answers))
	for field, answer := range r.Answers {
		copied.Answers[field] = answer
	}
	return copied
}

// Store is the in-memory session map.
type Store struct {
	clock func() time.Time

	mu       sync.Mutex
	sessions map[int64]*Record
	locks    map[int64]*sync.Mutex
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		clock:    time.Now,
		sessions: make(map[int64]*Record),
		locks:    make(map[int64]*sync.Mutex),
	}
}

// WithClock overrides the store clock. Intended for tests.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// WithUser serializes fn against all other work for the same user. Events
// for different users proceed concurrently.
func (s *Store) WithUser(userID int64, fn func() error) error {
	s.mu.Lock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// GetOrCreate returns the user's session, creating it on first access. A
// non-empty deeplink always overwrites the stored one; display fields are
// copied only at creation.
func (s *Store) GetOrCreate(userID int64, displayName, username, deeplink string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.sessions[userID]
	if !ok {
		now := s.clock()
		record = &Record{
			UserID:       userID,
			DisplayName:  displayName,
			Username:     username,
			Flow:         FlowNone,
			State:        StateNone,
			Answers:      make(map[string]string),
			CreatedAt:    now,
			LastActivity: now,
		}
		s.sessions[userID] = record
	}
	if deeplink != "" {
		record.Deeplink = deeplink
	}
	record.LastActivity = s.clock()
	return record.clone()
}

// Get returns a copy of the user's session.
func (s *Store) Get(userID int64) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.sessions[userID]
	if !ok {
		return Record{}, false
	}
	return record.clone(), true
}

// Update applies fn to the user's session. It reports false, without
// calling fn, when the session does not exist.
func (s *Store) Update(userID int64, fn func(*Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.sessions[userID]
	if !ok {
		return false
	}
	fn(record)
	record.LastActivity = s.clock()
	return true
}

// ClearFlow resets flow, state, and accumulated answers to their initial
// values. The record itself persists for reuse.
func (s *Store) ClearFlow(userID int64) {
	s.Update(userID, func(record *Record) {
		record.Flow = FlowNone
		record.State = StateNone
		record.Answers = make(map[string]string)
		record.UserRowAppended = false
	})
}

// Sweep removes sessions idle for longer than ttl and returns how many were
// evicted. Per-user locks are kept: one may be held by an in-flight event,
// and dropping it would let a second event for the same user run alongside.
func (s *Store) Sweep(now time.Time, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for userID, record := range s.sessions {
		if now.Sub(record.LastActivity) > ttl {
			delete(s.sessions, userID)
			evicted++
		}
	}
	return evicted
}

// All returns a copy of every session, for snapshotting.
func (s *Store) All() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]Record, 0, len(s.sessions))
	for _, record := range s.sessions {
		records = append(records, record.clone())
	}
	return records
}

// Restore installs previously snapshotted sessions, replacing any existing
// record for the same user.
func (s *Store) Restore(records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		copied := record.clone()
		s.sessions[copied.UserID] = &copied
	}
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
