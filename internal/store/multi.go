package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"apikit/internal/record"
)

// NamedConfig pairs a store key with its connection parameters.
type NamedConfig struct {
	Name   string
	Config Config
}

// MultiStore is a named collection of stores. Members keep their
// registration order so Select(0) is always the first one added.
type MultiStore struct {
	mu     sync.RWMutex
	keys   []string
	stores map[string]*Store
}

// NewMultiStore returns an empty collection.
func NewMultiStore() *MultiStore {
	return &MultiStore{stores: make(map[string]*Store)}
}

// OpenMulti dials every configured database concurrently. Members that fail
// to connect are kept as unavailable stores.
func OpenMulti(ctx context.Context, cfgs []NamedConfig, opts ...Option) (*MultiStore, error) {
	opened := make([]*Store, len(cfgs))
	g, gctx := errgroup.WithContext(ctx)
	for i, nc := range cfgs {
		i, nc := i, nc
		g.Go(func() error {
			memberOpts := append(append([]Option(nil), opts...), WithName(nc.Name))
			opened[i] = Open(gctx, nc.Config, memberOpts...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ms := NewMultiStore()
	for i, nc := range cfgs {
		if err := ms.Add(nc.Name, opened[i]); err != nil {
			_ = ms.Close(ctx)
			return nil, err
		}
	}
	return ms, nil
}

// Add registers s under key.
func (m *MultiStore) Add(key string, s *Store) error {
	if s == nil {
		return fmt.Errorf("add %q: nil store", key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.stores[key]; exists {
		return fmt.Errorf("add %q: %w", key, ErrStoreExists)
	}
	m.stores[key] = s
	m.keys = append(m.keys, key)
	return nil
}

// Get returns the store registered under key.
func (m *MultiStore) Get(key string) (*Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[key]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", key, ErrStoreNotExists)
	}
	return s, nil
}

// Select returns the member at index in registration order.
func (m *MultiStore) Select(index int) (*Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index < 0 || index >= len(m.keys) {
		return nil, fmt.Errorf("select %d: %w", index, ErrStoreNotExists)
	}
	return m.stores[m.keys[index]], nil
}

// Keys returns member keys in registration order.
func (m *MultiStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.keys...)
}

// Len returns the number of members.
func (m *MultiStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

// Connected reports whether the collection is non-empty and every member
// is connected.
func (m *MultiStore) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.keys) == 0 {
		return false
	}
	for _, key := range m.keys {
		if !m.stores[key].Connected() {
			return false
		}
	}
	return true
}

// ConnectError joins the failures of every disconnected member.
func (m *MultiStore) ConnectError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.keys) == 0 {
		return "no stores configured"
	}
	var failures []string
	for _, key := range m.keys {
		if s := m.stores[key]; !s.Connected() {
			failures = append(failures, key+": "+s.ConnectError())
		}
	}
	if len(failures) == 0 {
		return connectedMessage
	}
	return strings.Join(failures, "; ")
}

// Ping checks every member concurrently.
func (m *MultiStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	members := make(map[string]*Store, len(m.stores))
	for k, s := range m.stores {
		members[k] = s
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for key, s := range members {
		key, s := key, s
		g.Go(func() error {
			if err := s.Ping(gctx); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close closes every member and joins their errors.
func (m *MultiStore) Close(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var errs []error
	for _, key := range m.keys {
		if err := m.stores[key].Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiStore) Query(ctx context.Context, query string, params ...any) ([]record.Object, error) {
	s, err := m.Select(0)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, query, params...)
}

func (m *MultiStore) FindOne(ctx context.Context, table, where string, params ...any) (*record.Record, error) {
	s, err := m.Select(0)
	if err != nil {
		return nil, err
	}
	return s.FindOne(ctx, table, where, params...)
}

func (m *MultiStore) Count(ctx context.Context, table, where string, params ...any) (int64, error) {
	s, err := m.Select(0)
	if err != nil {
		return 0, err
	}
	return s.Count(ctx, table, where, params...)
}

func (m *MultiStore) Dispense(table string) *record.Record {
	return record.New(table)
}

func (m *MultiStore) Persist(ctx context.Context, r *record.Record) error {
	s, err := m.Select(0)
	if err != nil {
		return err
	}
	return s.Persist(ctx, r)
}
