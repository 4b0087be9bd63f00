package internal

import (
	"context"
	"sync"

	"github.com/jamesprial/go-social-analytics/pkg/types"
)

// Store holds the most recently published Snapshot. Runs take a sequence
// number from Begin before they start fetching, and a run may only publish
// if no run that started after it has already published.
type Store struct {
	mu        sync.RWMutex
	nextSeq   uint64
	published uint64 // highest seq that published or failed
	current   types.Snapshot
	err       error
	inFlight  int

	once  sync.Once
	ready chan struct{}
}

// NewStore returns a Store holding an empty dataset.
func NewStore() *Store {
	return &Store{
		current: types.Snapshot{Dataset: types.NewDataset()},
		ready:   make(chan struct{}),
	}
}

// Begin reserves the next run sequence and marks a run as in flight.
// Every Begin must be matched by exactly one Publish or Fail.
func (s *Store) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	s.inFlight++
	return s.nextSeq
}

// Publish installs snap as the current snapshot if seq is newer than the
// last settled run. It reports whether the snapshot was installed; a stale
// result is discarded.
func (s *Store) Publish(seq uint64, snap types.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()

	if seq <= s.published {
		return false
	}
	if snap.Dataset == nil {
		snap.Dataset = types.NewDataset()
	}
	snap.Seq = seq
	s.published = seq
	s.current = snap
	s.err = nil
	s.markReady()
	return true
}

// Fail records err as the outcome of run seq. The previously published
// dataset stays visible. It reports whether the error was recorded.
func (s *Store) Fail(seq uint64, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()

	if seq <= s.published {
		return false
	}
	s.published = seq
	s.err = err
	s.markReady()
	return true
}

// Current returns the last published snapshot and the error of the most
// recent settled run, if that run failed.
func (s *Store) Current() (types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.err
}

// Loading reports whether any run is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight > 0
}

// WaitReady blocks until the first run has published or failed, or ctx is done.
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsReady reports whether any run has settled.
func (s *Store) IsReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// settle must be called with mu held.
func (s *Store) settle() {
	if s.inFlight > 0 {
		s.inFlight--
	}
}

func (s *Store) markReady() {
	s.once.Do(func() { close(s.ready) })
}
