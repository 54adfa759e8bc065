package net

import "sort"

// SessionStore tracks live sessions. Tick loop only.
type SessionStore struct {
	sessions map[uint64]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[uint64]*Session)}
}

func (st *SessionStore) Add(s *Session) { st.sessions[s.ID] = s }

func (st *SessionStore) Remove(id uint64) { delete(st.sessions, id) }

func (st *SessionStore) Get(id uint64) *Session { return st.sessions[id] }

func (st *SessionStore) Len() int { return len(st.sessions) }

// Raw exposes the map for drain loops that remove while iterating.
func (st *SessionStore) Raw() map[uint64]*Session { return st.sessions }

// IDs returns the session IDs in ascending order.
func (st *SessionStore) IDs() []uint64 {
	ids := make([]uint64, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ForEach visits sessions in ID order.
func (st *SessionStore) ForEach(fn func(*Session)) {
	for _, id := range st.IDs() {
		fn(st.sessions[id])
	}
}
