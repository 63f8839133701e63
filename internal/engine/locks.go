package engine

import "sync"

// workflowLocks serializes mutations per workflow id.
type workflowLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var sharedLocks = newWorkflowLocks()

func newWorkflowLocks() *workflowLocks {
	return &workflowLocks{locks: map[string]*sync.Mutex{}}
}

func (l *workflowLocks) lock(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (e Engine) lockWorkflow(id string) func() {
	if e.locks == nil {
		return sharedLocks.lock(id)
	}
	return e.locks.lock(id)
}
