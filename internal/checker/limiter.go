package checker

import "sync"

// InFlight ensures that at most one check per endpoint runs at a time, so a
// manual check cannot race the scheduled pass for the same endpoint.
type InFlight struct {
	mu        sync.Mutex
	endpoints map[string]struct{}
}

// NewInFlight creates an empty InFlight guard.
func NewInFlight() *InFlight {
	return &InFlight{endpoints: make(map[string]struct{})}
}

// Acquire claims endpointID. When ok is false another check holds the claim
// and release is nil; otherwise release must be called once the check ends.
func (f *InFlight) Acquire(endpointID string) (release func(), ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.endpoints[endpointID]; busy {
		return nil, false
	}
	f.endpoints[endpointID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.endpoints, endpointID)
			f.mu.Unlock()
		})
	}, true
}

