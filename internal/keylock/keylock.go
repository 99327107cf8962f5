// Package keylock provides striped mutexes so that work on one key is
// serialized without serializing unrelated keys.
package keylock

import (
	"hash/fnv"
	"sync"
)

const defaultStripes = 256

type Striped struct {
	stripes []sync.Mutex
}

// New returns a Striped lock with n stripes; n <= 0 selects a default.
func New(n int) *Striped {
	if n <= 0 {
		n = defaultStripes
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

func (s *Striped) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.stripes[h.Sum32()%uint32(len(s.stripes))]
}

// Lock acquires the stripe for key and returns its unlock function.
func (s *Striped) Lock(key string) func() {
	m := s.stripe(key)
	m.Lock()
	return m.Unlock
}
