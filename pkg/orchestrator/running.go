package orchestrator

import "sync"

// runningSet tracks in-flight executions keyed by customerID:workflowName.
// Acquire is the atomic check-and-register behind the single-flight
// invariant: at most one active execution per customer and workflow pair.
type runningSet struct {
	mu      sync.Mutex
	entries map[string]string
}

func newRunningSet() *runningSet {
	return &runningSet{entries: make(map[string]string)}
}

func runningKey(customerID, workflowName string) string {
	return customerID + ":" + workflowName
}

// Acquire registers an execution for the key. It returns false when another
// execution already holds the key.
func (s *runningSet) Acquire(key, executionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; exists {
		return false
	}

	s.entries[key] = executionID

	return true
}

// Release frees the key. Releasing an absent key is a no-op.
func (s *runningSet) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
}

// Get returns the execution currently holding the key.
func (s *runningSet) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	executionID, ok := s.entries[key]

	return executionID, ok
}

// Len returns the number of in-flight executions.
func (s *runningSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}
