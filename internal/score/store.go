package score

import "sync"

// store is the one session map per process. Creation and eviction go through
// the accumulator; nothing else holds session references.
type store struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newStore() *store {
	return &store{sessions: make(map[string]*session)}
}

func (st *store) get(id string) (*session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// insert stores s under id unless another goroutine got there first, in
// which case the existing session is returned and created is false.
func (st *store) insert(id string, s *session) (*session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if existing, ok := st.sessions[id]; ok {
		return existing, false
	}
	st.sessions[id] = s
	return s, true
}

func (st *store) remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

func (st *store) all() []*session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}

func (st *store) len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
