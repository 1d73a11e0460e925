package workflow

import "sync"

// Registry holds the live sessions of one process, keyed by case id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers s under its case id.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.CaseID()] = s
	r.mu.Unlock()
}

// Get returns the session for caseID.
func (r *Registry) Get(caseID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[caseID]
	return s, ok
}

// Remove drops caseID and reports whether it was present.
func (r *Registry) Remove(caseID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[caseID]; !ok {
		return false
	}
	delete(r.sessions, caseID)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
