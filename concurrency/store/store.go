// Package store is a reference ResourceManager (spec.md section 6): an
// in-memory table of named indices, each backed by a bitset, with a
// monotonic snapshot-revision sequencer for historical ReadOnly tasks. It is
// not part of the concurrency manager's public contract -- the Manager only
// ever sees it through the concurrency.ResourceManager interface -- but
// demos and this package's
// own tests need a concrete store to exercise the Manager against.
//
// Grounded on the teacher's index/view naming shape (index.go, view.go):
// each NamedResource names one (index, view) pair's bitmap.
package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/concurrentstore/ccmanager/bitset"
	"github.com/concurrentstore/ccmanager/concurrency"
)

// ErrUnknownIndex is returned when a caller references an index that was
// never created.
var ErrUnknownIndex = errors.New("store: unknown index")

// Store is a toy named-index store: a set of independently-locked bitmaps,
// each versioned by a global, monotonically increasing revision counter
// bumped on every committed write. It satisfies concurrency.ResourceManager
// directly.
type Store struct {
	mu      sync.RWMutex
	ready   int32
	indices map[concurrency.NamedResource]*index
	seq     uint64 // current committed revision
}

type index struct {
	mu   sync.Mutex
	live *bitset.Bitmap
	// history holds a bitmap snapshot as of each revision at which it was
	// modified, oldest first, so historical reads can find the most recent
	// snapshot at or before a requested revision without copying on every
	// write to every index.
	history []snapshot
}

type snapshot struct {
	revision uint64
	bitmap   *bitset.Bitmap
}

// New returns a Store that is immediately ready; call SetReady(false) first
// if a test wants to exercise AwaitRunning's blocking path.
func New() *Store {
	return &Store{
		indices: make(map[concurrency.NamedResource]*index),
		ready:   1,
	}
}

// SetReady flips the readiness gate AwaitRunning blocks on, mirroring the
// store-manager's own startup/recovery sequencing which the concurrency
// manager must wait out before routing tasks (spec.md section 6).
func (s *Store) SetReady(ready bool) {
	if ready {
		atomic.StoreInt32(&s.ready, 1)
	} else {
		atomic.StoreInt32(&s.ready, 0)
	}
}

// AwaitRunning implements concurrency.ResourceManager.
func (s *Store) AwaitRunning(ctx context.Context) bool {
	if atomic.LoadInt32(&s.ready) == 1 {
		return true
	}
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if atomic.LoadInt32(&s.ready) == 1 {
				return true
			}
		}
	}
}

// CreateIndex registers a new named resource with an empty bitmap. It is
// idempotent.
func (s *Store) CreateIndex(name concurrency.NamedResource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indices[name]; ok {
		return
	}
	s.indices[name] = &index{live: bitset.NewBitmap()}
}

// CurrentRevision returns the most recently committed global revision.
func (s *Store) CurrentRevision() uint64 {
	return atomic.LoadUint64(&s.seq)
}

// ReadAt returns a bitmap as of revision rev (concurrency.CurrentRevision
// for the live, uncommitted-future state). It never blocks a concurrent
// writer: it either reads the live bitmap directly (rev ==
// CurrentRevision) or a point-in-time snapshot captured at commit time,
// matching spec.md section 4.B's "never blocks writers."
func (s *Store) ReadAt(name concurrency.NamedResource, rev int64) (*bitset.Bitmap, error) {
	s.mu.RLock()
	idx, ok := s.indices[name]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownIndex, "index %q", name)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if rev == concurrency.CurrentRevision {
		return idx.live.Clone(), nil
	}

	target := uint64(rev)
	for i := len(idx.history) - 1; i >= 0; i-- {
		if idx.history[i].revision <= target {
			return idx.history[i].bitmap.Clone(), nil
		}
	}
	return bitset.NewBitmap(), nil
}

// ApplyWrite mutates name's live bitmap under the caller's already-held
// resource lock (the Manager guarantees this is only called from within a
// runWrite or runTx body after AcquireAll/Acquire has succeeded) and
// returns the bitmap's new cardinality. It does not itself snapshot or bump
// the global revision; Snapshot does that for an entire CommitGroup at once,
// matching spec.md section 4.D's "fsync once per commit group."
func (s *Store) ApplyWrite(name concurrency.NamedResource, add, remove []uint64) (uint64, error) {
	s.mu.RLock()
	idx, ok := s.indices[name]
	s.mu.RUnlock()
	if !ok {
		return 0, errors.Wrapf(ErrUnknownIndex, "index %q", name)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(add) > 0 {
		if _, err := idx.live.Add(add...); err != nil {
			return 0, errors.Wrap(err, "applying write")
		}
	}
	if len(remove) > 0 {
		if _, err := idx.live.Remove(remove...); err != nil {
			return 0, errors.Wrap(err, "applying write")
		}
	}
	return idx.live.Count(), nil
}

// Snapshot captures every touched index's current live bitmap under the
// next global revision, for historical reads to find later. Called by a
// commit.Committer once a CommitGroup's fsync has actually landed, so a
// snapshot is never visible before its revision is durable.
func (s *Store) Snapshot(touched []concurrency.NamedResource) uint64 {
	rev := atomic.AddUint64(&s.seq, 1)

	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := append([]concurrency.NamedResource(nil), touched...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for _, name := range sorted {
		idx, ok := s.indices[name]
		if !ok {
			continue
		}
		idx.mu.Lock()
		idx.history = append(idx.history, snapshot{revision: rev, bitmap: idx.live.Clone()})
		idx.mu.Unlock()
	}
	return rev
}
