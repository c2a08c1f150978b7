package supervisor

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ledgertap/pkg/bus"
	"github.com/cuemby/ledgertap/pkg/classifier"
	"github.com/cuemby/ledgertap/pkg/config"
	"github.com/cuemby/ledgertap/pkg/decoder"
	"github.com/cuemby/ledgertap/pkg/feed"
	"github.com/cuemby/ledgertap/pkg/interest"
	"github.com/cuemby/ledgertap/pkg/log"
	"github.com/cuemby/ledgertap/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

func pk(b byte) types.Pubkey {
	var p types.Pubkey
	for i := range p {
		p[i] = b
	}
	return p
}

func pkBytes(b byte) []byte {
	p := pk(b)
	return p[:]
}

func sig(b byte) []byte {
	s := make([]byte, types.SignatureLen)
	for i := range s {
		s[i] = b
	}
	return s
}

func verifiedTx(signature byte, refs ...byte) types.Event {
	keys := make([][]byte, 0, len(refs))
	for _, r := range refs {
		keys = append(keys, pkBytes(r))
	}
	return &types.TransactionUpdate{
		Signature: sig(signature),
		Slot:      1,
		Meta:      &types.TransactionMeta{Fee: 5000},
		Message:   types.TransactionMessage{AccountKeys: keys},
	}
}

func failedTx(signature byte, refs ...byte) types.Event {
	ev := verifiedTx(signature, refs...).(*types.TransactionUpdate)
	ev.Meta.Err = "InstructionError"
	return ev
}

// fakeSession feeds scripted events to a worker.
type fakeSession struct {
	ch    chan types.Event
	errCh chan error
	done  chan struct{}
	once  sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		ch:    make(chan types.Event, 64),
		errCh: make(chan error, 1),
		done:  make(chan struct{}),
	}
}

func (s *fakeSession) Recv() (types.Event, error) {
	select {
	case ev := <-s.ch:
		return ev, nil
	case err := <-s.errCh:
		return nil, err
	case <-s.done:
		return nil, feed.ErrSessionClosed
	}
}

func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// fakeSource hands out fakeSessions and can be scripted to fail
// Subscribe calls.
type fakeSource struct {
	mu         sync.Mutex
	sessions   []*fakeSession
	callTimes  []time.Time
	failures   int
	failureErr error
}

func (f *fakeSource) Subscribe(ctx context.Context, id string, pred types.Predicate) (feed.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callTimes = append(f.callTimes, time.Now())
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return nil, f.failureErr
	}
	s := newFakeSession()
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.callTimes)
}

func (f *fakeSource) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < len(f.sessions) {
		return f.sessions[i]
	}
	return nil
}

func (f *fakeSource) waitSessions(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		have := len(f.sessions)
		f.mu.Unlock()
		if have >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("feed did not reach %d sessions", n)
}

type fixture struct {
	source *fakeSource
	table  *interest.Table
	fanin  chan *types.Record
	sup    *Supervisor
}

func newFixture(t *testing.T, faninCap int) *fixture {
	t.Helper()
	table, err := interest.NewTable(nil)
	if err != nil {
		t.Fatalf("NewTable() error: %v", err)
	}

	backoff := config.BackoffConfig{
		InitialDelayMS: 10,
		MaxDelayMS:     100,
		Multiplier:     2.0,
		Jitter:         0,
		MaxAttempts:    0,
	}

	source := &fakeSource{}
	fanin := make(chan *types.Record, faninCap)
	sup := New(source, table, decoder.NewRegistry(), bus.New(16), fanin, backoff)

	return &fixture{
		source: source,
		table:  table,
		fanin:  fanin,
		sup:    sup,
	}
}

func (fx *fixture) start(ctx context.Context) {
	fx.sup.Start(ctx)
}

func recvRecord(t *testing.T, ch <-chan *types.Record) *types.Record {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no record on fan-in channel")
		return nil
	}
}

func expectNoRecord(t *testing.T, ch <-chan *types.Record, wait time.Duration) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("unexpected record: %+v", r)
	case <-time.After(wait):
	}
}

func TestWorkerEmitsAdmittedRecords(t *testing.T) {
	fx := newFixture(t, 16)
	fx.table.Upsert("I1", types.Predicate{TxAccountsIncluded: types.NewPubkeySet(pk('A'))})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.start(ctx)
	fx.source.waitSessions(t, 1)

	sess := fx.source.session(0)
	sess.ch <- verifiedTx(1, 'A', 'B')
	sess.ch <- failedTx(2, 'A')
	sess.ch <- verifiedTx(3, 'C')

	r := recvRecord(t, fx.fanin)
	if r.InterestID != "I1" || r.Topic != types.TopicTransaction {
		t.Errorf("record = %+v", r)
	}
	if r.Classification != types.ClassificationVerified {
		t.Errorf("Classification = %q", r.Classification)
	}
	if r.TS == 0 {
		t.Error("TS not stamped at admission")
	}
	if len(r.Payload) == 0 {
		t.Error("payload missing")
	}

	// The failed and unrelated transactions produce nothing.
	expectNoRecord(t, fx.fanin, 100*time.Millisecond)
}

// Per-worker FIFO: records reach the fan-in channel in feed order.
func TestWorkerPreservesFeedOrder(t *testing.T) {
	fx := newFixture(t, 64)
	fx.table.Upsert("I1", types.Predicate{TxAccountsIncluded: types.NewPubkeySet(pk('A'))})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.start(ctx)
	fx.source.waitSessions(t, 1)

	sess := fx.source.session(0)
	want := make([]string, 0, 10)
	for i := byte(1); i <= 10; i++ {
		sess.ch <- verifiedTx(i, 'A')
		want = append(want, classifier.DeriveTransactionID(sig(i)))
	}

	for i := 0; i < 10; i++ {
		r := recvRecord(t, fx.fanin)
		if r.ID != want[i] {
			t.Fatalf("record %d = %q, want %q: feed order not preserved", i, r.ID, want[i])
		}
	}
}

// Workers block on a full fan-in channel rather than dropping; once the
// consumer resumes, every record arrives exactly once.
func TestBackpressureBlocksWithoutLoss(t *testing.T) {
	fx := newFixture(t, 2)
	fx.table.Upsert("I1", types.Predicate{TxAccountsIncluded: types.NewPubkeySet(pk('A'))})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.start(ctx)
	fx.source.waitSessions(t, 1)

	sess := fx.source.session(0)
	const n = 6
	for i := byte(1); i <= n; i++ {
		sess.ch <- verifiedTx(i, 'A')
	}

	// Let the worker wedge against the tiny channel.
	time.Sleep(100 * time.Millisecond)

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		r := recvRecord(t, fx.fanin)
		if seen[r.ID] {
			t.Fatalf("record %q delivered twice", r.ID)
		}
		seen[r.ID] = true
	}
	if len(seen) != n {
		t.Errorf("received %d distinct records, want %d", len(seen), n)
	}
}

// After ApplyUpsert acknowledges, nothing emits under the retired
// generation and the new predicate takes effect.
func TestUpsertRotatesWorker(t *testing.T) {
	fx := newFixture(t, 16)
	fx.table.Upsert("I1", types.Predicate{TxAccountsIncluded: types.NewPubkeySet(pk('A'))})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.start(ctx)
	fx.source.waitSessions(t, 1)

	if _, err := fx.table.Upsert("I1", types.Predicate{TxAccountsIncluded: types.NewPubkeySet(pk('B'))}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	mctx, mcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer mcancel()
	if err := fx.sup.ApplyUpsert(mctx, "I1"); err != nil {
		t.Fatalf("ApplyUpsert() error: %v", err)
	}

	// The retired session is closed; only the new one is live.
	fx.source.waitSessions(t, 2)
	old := fx.source.session(0)
	select {
	case <-old.done:
	default:
		t.Error("old session still open after acknowledgement")
	}

	newSess := fx.source.session(1)
	newSess.ch <- verifiedTx(7, 'B')
	r := recvRecord(t, fx.fanin)
	if r.InterestID != "I1" {
		t.Errorf("record = %+v", r)
	}

	newSess.ch <- verifiedTx(8, 'A') // old predicate shape, must be rejected now
	expectNoRecord(t, fx.fanin, 100*time.Millisecond)
}

// Delete drains the worker: ApplyRemove returns only after it exited, and
// records already on the fan-in channel stay there for the writer.
func TestRemoveDrainsWorker(t *testing.T) {
	fx := newFixture(t, 16)
	fx.table.Upsert("I1", types.Predicate{TxAccountsIncluded: types.NewPubkeySet(pk('A'))})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.start(ctx)
	fx.source.waitSessions(t, 1)

	sess := fx.source.session(0)
	sess.ch <- verifiedTx(1, 'A')
	sess.ch <- verifiedTx(2, 'A')

	// Wait for both records to be queued before removing.
	deadline := time.Now().Add(2 * time.Second)
	for len(fx.fanin) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := fx.table.Remove("I1"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	mctx, mcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer mcancel()
	if err := fx.sup.ApplyRemove(mctx, "I1"); err != nil {
		t.Fatalf("ApplyRemove() error: %v", err)
	}

	if fx.sup.WorkerCount() != 0 {
		t.Errorf("WorkerCount() = %d after remove", fx.sup.WorkerCount())
	}

	// In-flight records survive the removal.
	if got := len(fx.fanin); got != 2 {
		t.Errorf("fan-in holds %d records, want 2", got)
	}
}

func TestReconnectWithBackoff(t *testing.T) {
	fx := newFixture(t, 16)
	fx.table.Upsert("I1", types.Predicate{TxAccountsIncluded: types.NewPubkeySet(pk('A'))})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.start(ctx)
	fx.source.waitSessions(t, 1)

	// Kill the stream mid-flight; the next two dials fail too.
	fx.source.mu.Lock()
	fx.source.failures = 2
	fx.source.failureErr = context.DeadlineExceeded
	fx.source.mu.Unlock()
	fx.source.session(0).errCh <- context.DeadlineExceeded

	fx.source.waitSessions(t, 2)

	// Initial dial + 2 failed retries + 1 successful retry.
	if got := fx.source.calls(); got != 4 {
		t.Errorf("Subscribe called %d times, want 4", got)
	}

	// Records resume on the fresh session.
	fx.source.session(1).ch <- verifiedTx(9, 'A')
	r := recvRecord(t, fx.fanin)
	if r.InterestID != "I1" {
		t.Errorf("record = %+v", r)
	}
}

func TestFatalFeedErrorParksInterest(t *testing.T) {
	fx := newFixture(t, 16)
	fx.table.Upsert("I1", types.Predicate{TxAccountsIncluded: types.NewPubkeySet(pk('A'))})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.start(ctx)
	fx.source.waitSessions(t, 1)

	fx.source.session(0).errCh <- &feed.FatalError{Err: context.Canceled}

	deadline := time.Now().Add(2 * time.Second)
	for fx.sup.WorkerCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fx.sup.WorkerCount() != 0 {
		t.Fatal("worker still attached after fatal error")
	}

	// No reconnect for fatal errors.
	time.Sleep(100 * time.Millisecond)
	if got := fx.source.calls(); got != 1 {
		t.Errorf("Subscribe called %d times after fatal error, want 1", got)
	}
}

func TestShutdownClosesFanIn(t *testing.T) {
	fx := newFixture(t, 16)
	fx.table.Upsert("I1", types.Predicate{TxAccountsIncluded: types.NewPubkeySet(pk('A'))})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.start(ctx)
	fx.source.waitSessions(t, 1)

	sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer scancel()
	if err := fx.sup.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	if _, ok := <-fx.fanin; ok {
		t.Error("fan-in channel not closed after shutdown")
	}
}
