package workloads

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store for tests and single-process setups.
type MemStore struct {
	mu        sync.RWMutex
	workloads map[string]*Workload // namespace/id
}

func NewMemStore() *MemStore {
	return &MemStore{workloads: make(map[string]*Workload)}
}

func (s *MemStore) Put(ctx context.Context, w *Workload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.workloads[key(w.Namespace, w.ID)] = &cp
	return nil
}

func (s *MemStore) Get(ctx context.Context, namespace, id string) (*Workload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workloads[key(namespace, id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MemStore) List(ctx context.Context, namespace string) ([]*Workload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Workload
	for _, w := range s.workloads {
		if w.Namespace == namespace {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) Delete(ctx context.Context, namespace, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workloads[key(namespace, id)]; !ok {
		return ErrNotFound
	}
	delete(s.workloads, key(namespace, id))
	return nil
}
