package interest

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cuemby/ledgertap/pkg/metrics"
	"github.com/cuemby/ledgertap/pkg/types"
)

var (
	// ErrNotFound is returned when the interest id is unknown.
	ErrNotFound = errors.New("interest not found")
	// ErrInvalidPredicate is returned when the interest id is empty or
	// the predicate constrains nothing.
	ErrInvalidPredicate = errors.New("invalid predicate")
)

// Snapshot is an immutable view of the table. Readers hold one for the
// duration of a single event classification; acquiring it is a pointer
// load.
type Snapshot struct {
	entries map[string]*types.Interest
}

// Get returns the interest for id, if present.
func (s *Snapshot) Get(id string) (*types.Interest, bool) {
	in, ok := s.entries[id]
	return in, ok
}

// Len returns the number of interests in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// IDs returns the sorted interest ids in the snapshot.
func (s *Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Summary describes one interest for the control plane.
type Summary struct {
	ID         string
	Generation uint64
	Accounts   int
	Owners     int
	TxIncluded int
	TxRequired int
}

// Table maps interest ids to predicates and generations. Reads are
// lock-free through an atomically swapped snapshot; writes are serialized
// and publish a fresh snapshot per mutation, so a reader never observes a
// partially applied predicate.
type Table struct {
	mu      sync.Mutex // serializes writers
	snap    atomic.Pointer[Snapshot]
	nextGen uint64 // guarded by mu, never reused
	store   *Store // nil when persistence is disabled
}

// NewTable creates a table, loading persisted interests from store when
// one is given.
func NewTable(store *Store) (*Table, error) {
	t := &Table{store: store}
	entries := make(map[string]*types.Interest)

	if store != nil {
		loaded, nextGen, err := store.LoadAll()
		if err != nil {
			return nil, fmt.Errorf("failed to load interests: %w", err)
		}
		for _, in := range loaded {
			entries[in.ID] = in
		}
		t.nextGen = nextGen
	}

	t.snap.Store(&Snapshot{entries: entries})
	metrics.InterestsActive.Set(float64(len(entries)))
	return t, nil
}

// Snapshot returns the current immutable view.
func (t *Table) Snapshot() *Snapshot {
	return t.snap.Load()
}

// Upsert validates the predicate, assigns the next generation and
// atomically installs the entry. The returned generation is strictly
// greater than any previously assigned one.
func (t *Table) Upsert(id string, pred types.Predicate) (uint64, error) {
	if id == "" {
		return 0, fmt.Errorf("%w: empty interest id", ErrInvalidPredicate)
	}
	if err := pred.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPredicate, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextGen++
	in := &types.Interest{
		ID:         id,
		Predicate:  pred.Clone(),
		Generation: t.nextGen,
	}

	if t.store != nil {
		if err := t.store.Put(in, t.nextGen); err != nil {
			t.nextGen-- // nothing published under this generation
			return 0, fmt.Errorf("failed to persist interest %s: %w", id, err)
		}
	}

	t.publish(func(entries map[string]*types.Interest) {
		entries[id] = in
	})
	return in.Generation, nil
}

// Remove deletes the entry. The generation counter is not reset.
func (t *Table) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.snap.Load().entries[id]; !ok {
		return ErrNotFound
	}

	if t.store != nil {
		if err := t.store.Delete(id); err != nil {
			return fmt.Errorf("failed to delete interest %s: %w", id, err)
		}
	}

	t.publish(func(entries map[string]*types.Interest) {
		delete(entries, id)
	})
	return nil
}

// List returns summaries of all interests, sorted by id.
func (t *Table) List() []Summary {
	snap := t.snap.Load()
	out := make([]Summary, 0, len(snap.entries))
	for _, in := range snap.entries {
		out = append(out, Summary{
			ID:         in.ID,
			Generation: in.Generation,
			Accounts:   len(in.Predicate.Accounts),
			Owners:     len(in.Predicate.Owners),
			TxIncluded: len(in.Predicate.TxAccountsIncluded),
			TxRequired: len(in.Predicate.TxAccountsRequired),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// publish swaps in a new snapshot with mutate applied. Callers hold mu.
func (t *Table) publish(mutate func(map[string]*types.Interest)) {
	old := t.snap.Load()
	entries := make(map[string]*types.Interest, len(old.entries)+1)
	for id, in := range old.entries {
		entries[id] = in
	}
	mutate(entries)
	t.snap.Store(&Snapshot{entries: entries})
	metrics.InterestsActive.Set(float64(len(entries)))
}
