package binder

import "sync"

// Scope is a state registry inherited by descendant binder scopes.
// A nested scope reads ancestor state without the owning component
// threading it through; writes overwrite by key, not by scope depth.
type Scope struct {
	parent *Scope

	mu     sync.RWMutex
	states map[string]any
}

func NewScope(parent *Scope) *Scope {
	return &Scope{parent: parent, states: make(map[string]any)}
}

// Get resolves a key in this scope or the nearest ancestor.
func (s *Scope) Get(key string) (any, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		sc.mu.RLock()
		v, ok := sc.states[key]
		sc.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// Set overwrites the key where it already lives in the chain, or
// stores it locally when it is new.
func (s *Scope) Set(key string, v any) {
	for sc := s; sc != nil; sc = sc.parent {
		sc.mu.Lock()
		if _, ok := sc.states[key]; ok {
			sc.states[key] = v
			sc.mu.Unlock()
			return
		}
		sc.mu.Unlock()
	}
	s.mu.Lock()
	s.states[key] = v
	s.mu.Unlock()
}

// Delete removes a key from this scope only.
func (s *Scope) Delete(key string) {
	s.mu.Lock()
	delete(s.states, key)
	s.mu.Unlock()
}
