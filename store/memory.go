package store

import (
	"context"
	"sync"

	"github.com/ezachrisen/ruleswp"
)

// MemorySource holds definitions in memory. It is safe for concurrent use.
type MemorySource struct {
	mu   sync.RWMutex
	defs map[string][]byte
}

var _ ruleswp.Source = (*MemorySource)(nil)

// NewMemorySource creates a source holding the definitions.
func NewMemorySource(defs ...*ruleswp.Definition) (*MemorySource, error) {
	s := &MemorySource{defs: map[string][]byte{}}
	for _, d := range defs {
		if err := s.Put(context.Background(), d); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Put stores the definition, replacing any definition with the same name.
// The definition is copied, so later changes to it are not seen by the
// source.
func (s *MemorySource) Put(_ context.Context, def *ruleswp.Definition) error {
	data, err := encode(def)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.Name] = data
	return nil
}

func (s *MemorySource) Definition(_ context.Context, name string) (*ruleswp.Definition, error) {
	s.mu.RLock()
	data, ok := s.defs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(name)
	}
	return decode(name, data)
}
