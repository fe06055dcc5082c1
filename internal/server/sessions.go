package server

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KaramelBytes/tabloom/internal/classify"
	"github.com/KaramelBytes/tabloom/internal/dataset"
	"github.com/KaramelBytes/tabloom/internal/pipeline"
)

// Session is one uploaded, classified dataset. Its fields are never modified
// after it is stored, so handlers read them without holding the store lock.
type Session struct {
	ID       string
	Filename string
	Data     *dataset.Dataset
	Meta     *classify.Metadata
	Source   classify.Source
	Summary  pipeline.DataSummary
	Created  time.Time
}

// SessionInfo is the listing view of a Session.
type SessionInfo struct {
	ID       string    `json:"session_id"`
	Filename string    `json:"filename"`
	Rows     int       `json:"rows"`
	Columns  int       `json:"columns"`
	Created  time.Time `json:"created_at"`
}

func (s *Session) info() SessionInfo {
	return SessionInfo{ID: s.ID, Filename: s.Filename, Rows: s.Data.Len(), Columns: len(s.Data.Columns), Created: s.Created}
}

type store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func newStore() *store {
	return &store{sessions: map[string]*Session{}}
}

// add stores s under a fresh id and returns the count of held sessions.
func (st *store) add(s *Session) int {
	s.ID = uuid.NewString()
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = s
	return len(st.sessions)
}

func (st *store) get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// remove deletes id and reports whether it existed and how many remain.
func (st *store) remove(id string) (bool, int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.sessions[id]
	delete(st.sessions, id)
	return ok, len(st.sessions)
}

func (st *store) len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// list returns sessions oldest first.
func (st *store) list() []SessionInfo {
	st.mu.RLock()
	out := make([]SessionInfo, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s.info())
	}
	st.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}
