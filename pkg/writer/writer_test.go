package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ledgertap/pkg/config"
	"github.com/cuemby/ledgertap/pkg/log"
	"github.com/cuemby/ledgertap/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

// fakeStore records appended batches and can be scripted to fail.
type fakeStore struct {
	mu       sync.Mutex
	batches  [][]Entry
	failures int // fail this many calls before succeeding
	fatal    bool
}

func (f *fakeStore) AppendBatch(ctx context.Context, entries []Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fatal {
		return &FatalError{Err: errors.New("NOAUTH Authentication required")}
	}
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	copied := make([]Entry, len(entries))
	copy(copied, entries)
	f.batches = append(f.batches, copied)
	return nil
}

func (f *fakeStore) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeStore) allEntries() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Entry
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func testStoreConfig() config.StoreConfig {
	cfg := config.Default().Store
	cfg.BatchSize = 3
	cfg.BatchTimeoutMS = 50
	cfg.MaxAttempts = 3
	cfg.RetryBackoffMS = 1
	cfg.SweepIntervalMS = 0 // no sweep ticker in tests
	return cfg
}

func runWriter(t *testing.T, w *Writer) chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Run(context.Background())
	}()
	return errCh
}

func waitDone(t *testing.T, errCh chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not stop")
		return nil
	}
}

func rec(i int) *types.Record {
	return &types.Record{
		Topic:          types.TopicTransaction,
		ID:             fmt.Sprintf("sig-%d", i),
		TS:             time.Now().UnixMilli(),
		InterestID:     "i1",
		Classification: types.ClassificationVerified,
		Payload:        []byte("{}"),
	}
}

func TestFlushOnBatchSize(t *testing.T) {
	store := &fakeStore{}
	in := make(chan *types.Record, 16)
	w := New(in, store, testStoreConfig())
	errCh := runWriter(t, w)

	for i := 0; i < 6; i++ {
		in <- rec(i)
	}
	close(in)

	if err := waitDone(t, errCh); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := store.batchCount(); got != 2 {
		t.Errorf("committed %d batches, want 2", got)
	}
	for _, b := range store.batches {
		if len(b) != 3 {
			t.Errorf("batch has %d entries, want 3", len(b))
		}
	}
}

func TestFlushOnTimeout(t *testing.T) {
	store := &fakeStore{}
	in := make(chan *types.Record, 16)
	w := New(in, store, testStoreConfig())
	errCh := runWriter(t, w)

	in <- rec(0)

	deadline := time.Now().Add(2 * time.Second)
	for store.batchCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if store.batchCount() != 1 {
		t.Fatal("partial batch not flushed on timeout")
	}

	close(in)
	waitDone(t, errCh)
}

func TestFinalFlushOnClose(t *testing.T) {
	store := &fakeStore{}
	in := make(chan *types.Record, 16)
	w := New(in, store, testStoreConfig())
	errCh := runWriter(t, w)

	in <- rec(0)
	in <- rec(1)
	close(in)

	if err := waitDone(t, errCh); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	entries := store.allEntries()
	if len(entries) != 2 {
		t.Errorf("final flush wrote %d entries, want 2", len(entries))
	}
}

func TestCommitOrderPreserved(t *testing.T) {
	store := &fakeStore{}
	in := make(chan *types.Record, 64)
	w := New(in, store, testStoreConfig())
	errCh := runWriter(t, w)

	const n = 10
	for i := 0; i < n; i++ {
		in <- rec(i)
	}
	close(in)
	waitDone(t, errCh)

	entries := store.allEntries()
	if len(entries) != n {
		t.Fatalf("wrote %d entries, want %d", len(entries), n)
	}
	for i, e := range entries {
		if e.Values["id"] != fmt.Sprintf("sig-%d", i) {
			t.Fatalf("entry %d is %v, order not preserved", i, e.Values["id"])
		}
	}
}

func TestRetryThenSucceed(t *testing.T) {
	store := &fakeStore{failures: 2}
	in := make(chan *types.Record, 16)
	w := New(in, store, testStoreConfig())
	errCh := runWriter(t, w)

	in <- rec(0)
	close(in)

	if err := waitDone(t, errCh); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if store.batchCount() != 1 {
		t.Errorf("batch not committed after transient failures")
	}
}

// A batch that exhausts its retries is dropped; the writer keeps going.
func TestDropAfterMaxAttempts(t *testing.T) {
	store := &fakeStore{failures: 10}
	in := make(chan *types.Record, 16)
	w := New(in, store, testStoreConfig())
	errCh := runWriter(t, w)

	in <- rec(0)
	in <- rec(1)
	in <- rec(2) // full batch, 3 attempts, all fail, dropped

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		remaining := store.failures
		store.mu.Unlock()
		if remaining <= 7 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The writer must still accept and commit later batches.
	store.mu.Lock()
	store.failures = 0
	store.mu.Unlock()

	in <- rec(3)
	close(in)

	if err := waitDone(t, errCh); err != nil {
		t.Fatalf("Run() error after dropped batch: %v", err)
	}
	entries := store.allEntries()
	if len(entries) != 1 || entries[0].Values["id"] != "sig-3" {
		t.Errorf("entries after drop = %v, want only sig-3", entries)
	}
}

func TestFatalErrorStopsWriter(t *testing.T) {
	store := &fakeStore{fatal: true}
	in := make(chan *types.Record, 16)
	w := New(in, store, testStoreConfig())
	errCh := runWriter(t, w)

	in <- rec(0)
	in <- rec(1)
	in <- rec(2)

	err := waitDone(t, errCh)
	if !IsFatal(err) {
		t.Errorf("Run() = %v, want fatal error", err)
	}
}

func TestEntryIDsMonotonicPerTopic(t *testing.T) {
	w := New(nil, nil, testStoreConfig())

	parse := func(id string) (int64, int) {
		parts := strings.SplitN(id, ":", 2)
		ms, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			t.Fatalf("bad entry id %q", id)
		}
		idx, err := strconv.Atoi(parts[1])
		if err != nil {
			t.Fatalf("bad entry id %q", id)
		}
		return ms, idx
	}

	var prevMS int64
	prevIdx := -1
	for batch := 0; batch < 3; batch++ {
		records := []*types.Record{rec(0), rec(1), rec(2)}
		for _, e := range w.buildEntries(records) {
			ms, idx := parse(e.ID)
			if ms < prevMS || (ms == prevMS && idx <= prevIdx) {
				t.Fatalf("entry id regressed: %d:%d after %d:%d", ms, idx, prevMS, prevIdx)
			}
			prevMS, prevIdx = ms, idx
		}
	}
}

func TestPartitionedEntries(t *testing.T) {
	cfg := testStoreConfig()
	cfg.PartitionByInterest = true
	w := New(nil, nil, cfg)

	entries := w.buildEntries([]*types.Record{rec(0)})
	if len(entries) != 2 {
		t.Fatalf("built %d entries, want base + partition", len(entries))
	}
	if entries[0].Topic != types.TopicTransaction {
		t.Errorf("base topic = %q", entries[0].Topic)
	}
	if entries[1].Topic != types.TopicTransaction+":i1" {
		t.Errorf("partition topic = %q", entries[1].Topic)
	}
}

func TestSweepExpiresBookkeeping(t *testing.T) {
	store := &fakeStore{}
	in := make(chan *types.Record, 16)
	cfg := testStoreConfig()
	w := New(in, store, cfg)
	errCh := runWriter(t, w)

	in <- rec(0)
	close(in)
	waitDone(t, errCh)

	if w.CommittedCount() != 1 {
		t.Fatalf("CommittedCount() = %d, want 1", w.CommittedCount())
	}
	w.sweep(time.Now().Add(w.sweepGrace + time.Hour))
	if w.CommittedCount() != 0 {
		t.Errorf("CommittedCount() = %d after sweep, want 0", w.CommittedCount())
	}
}
