//go:build race

package opt

import (
	"sync"
)

const Race_ = true

// Sema under the race detector avoids the runtime linkname path, which
// bypasses race instrumentation, and uses a channel handoff instead.
type Sema struct {
	once sync.Once
	ch   chan struct{}
}

func (s *Sema) init() {
	s.ch = make(chan struct{}, 1)
}

func (s *Sema) Acquire() {
	s.once.Do(s.init)
	<-s.ch
}

func (s *Sema) Release() {
	s.once.Do(s.init)
	s.ch <- struct{}{}
}
