package engine

import "sync"

// NamedLock wraps sync.RWMutex with a Name identifying which entry of the
// concurrency model's lock taxonomy (spec §5: registry, per-tree, LRU,
// per-node-descriptor) it implements, so lock acquisition order is
// legible at call sites and in stack traces rather than anonymous.
type NamedLock struct {
	Name string
	mu   sync.RWMutex
}

func newNamedLock(name string) *NamedLock { return &NamedLock{Name: name} }

func (l *NamedLock) Lock()    { l.mu.Lock() }
func (l *NamedLock) Unlock()  { l.mu.Unlock() }
func (l *NamedLock) RLock()   { l.mu.RLock() }
func (l *NamedLock) RUnlock() { l.mu.RUnlock() }
