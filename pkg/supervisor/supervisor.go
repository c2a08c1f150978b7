package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/ledgertap/pkg/bus"
	"github.com/cuemby/ledgertap/pkg/config"
	"github.com/cuemby/ledgertap/pkg/decoder"
	"github.com/cuemby/ledgertap/pkg/feed"
	"github.com/cuemby/ledgertap/pkg/interest"
	"github.com/cuemby/ledgertap/pkg/log"
	"github.com/cuemby/ledgertap/pkg/metrics"
	"github.com/cuemby/ledgertap/pkg/types"
)

var (
	// ErrUnavailable is returned when a mutation cannot reach the
	// supervisor or is not acknowledged within its deadline.
	ErrUnavailable = errors.New("supervisor unavailable")
	// ErrShuttingDown is returned for mutations after shutdown began.
	ErrShuttingDown = errors.New("supervisor shutting down")
)

type mutationOp string

const (
	opUpsert mutationOp = "upsert"
	opRemove mutationOp = "remove"
)

type mutation struct {
	op    mutationOp
	id    string
	ctx   context.Context
	reply chan error
}

type retry struct {
	id         string
	generation uint64
	attempt    int
}

// Supervisor owns the worker set and keeps it consistent with the
// interest table. All topology changes flow through one command channel,
// so a mutation is acknowledged only after the retired worker has exited
// and nothing ever emits under a stale generation past that point.
type Supervisor struct {
	source  feed.Source
	table   *interest.Table
	decoder decoder.Decoder
	bus     *bus.Bus
	fanin   chan *types.Record
	backoff config.BackoffConfig

	logger zerolog.Logger

	mutCh   chan mutation
	retryCh chan retry
	exitCh  chan *worker
	stopCh  chan struct{}
	doneCh  chan struct{}

	// loop-owned state
	workers     map[string]*worker
	unavailable map[string]error

	workerCount atomic.Int64
}

// New creates a supervisor. The fan-in channel is owned by the
// supervisor's shutdown path: it is closed after the last worker exits.
func New(source feed.Source, table *interest.Table, dec decoder.Decoder, b *bus.Bus, fanin chan *types.Record, backoff config.BackoffConfig) *Supervisor {
	return &Supervisor{
		source:      source,
		table:       table,
		decoder:     dec,
		bus:         b,
		fanin:       fanin,
		backoff:     backoff,
		logger:      log.WithComponent("supervisor"),
		mutCh:       make(chan mutation),
		retryCh:     make(chan retry, 64),
		exitCh:      make(chan *worker, 64),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		workers:     make(map[string]*worker),
		unavailable: make(map[string]error),
	}
}

// Start spawns one worker per interest currently in the table and begins
// the supervision loop.
func (s *Supervisor) Start(ctx context.Context) {
	snap := s.table.Snapshot()
	for _, id := range snap.IDs() {
		in, _ := snap.Get(id)
		s.spawn(ctx, in, 0)
	}
	s.logger.Info().Int("workers", snap.Len()).Msg("Supervisor started")

	go s.run(ctx)
}

// ApplyUpsert asks the supervisor to realize the table's current entry
// for id, retiring any worker of an older generation. It returns after
// the new topology is in effect.
func (s *Supervisor) ApplyUpsert(ctx context.Context, id string) error {
	return s.apply(ctx, mutation{op: opUpsert, id: id})
}

// ApplyRemove retires the worker for a removed interest and returns once
// it has exited.
func (s *Supervisor) ApplyRemove(ctx context.Context, id string) error {
	return s.apply(ctx, mutation{op: opRemove, id: id})
}

func (s *Supervisor) apply(ctx context.Context, m mutation) error {
	m.ctx = ctx
	m.reply = make(chan error, 1)

	select {
	case s.mutCh <- m:
	case <-s.doneCh:
		return ErrShuttingDown
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}

	select {
	case err := <-m.reply:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
}

// Shutdown drains every worker, waits for them to exit, then closes the
// fan-in channel so the writer can flush and stop.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	close(s.stopCh)
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WorkerCount returns the number of workers currently attached.
func (s *Supervisor) WorkerCount() int {
	return int(s.workerCount.Load())
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.doneCh)

	for {
		select {
		case m := <-s.mutCh:
			s.handleMutation(ctx, m)

		case w := <-s.exitCh:
			s.handleExit(ctx, w)

		case r := <-s.retryCh:
			s.handleRetry(ctx, r)

		case <-s.stopCh:
			s.shutdown()
			return

		case <-ctx.Done():
			s.shutdown()
			return
		}
	}
}

// spawn starts a worker goroutine and a monitor forwarding its exit to
// the supervision loop.
func (s *Supervisor) spawn(ctx context.Context, in *types.Interest, attempt int) *worker {
	w := newWorker(in, attempt, s)
	s.workers[in.ID] = w
	s.workerCount.Store(int64(len(s.workers)))

	go w.run(ctx)
	go func() {
		<-w.doneCh
		select {
		case s.exitCh <- w:
		case <-s.doneCh:
		}
	}()
	return w
}

func (s *Supervisor) handleMutation(ctx context.Context, m mutation) {
	switch m.op {
	case opUpsert:
		m.reply <- s.applyUpsert(ctx, m)
	case opRemove:
		m.reply <- s.applyRemove(m)
	default:
		m.reply <- fmt.Errorf("unknown mutation %q", m.op)
	}
}

// applyUpsert spawns the new-generation worker, waits until it is
// running, then retires the old one. The old worker is gone before this
// returns, which is what makes the acknowledgement mean something.
func (s *Supervisor) applyUpsert(ctx context.Context, m mutation) error {
	in, ok := s.table.Snapshot().Get(m.id)
	if !ok {
		return interest.ErrNotFound
	}
	delete(s.unavailable, m.id)

	old := s.workers[m.id]
	nw := s.spawn(ctx, in, 0)

	// Wait for the new worker's subscription to be acknowledged.
	select {
	case <-nw.runningCh:
	case <-nw.doneCh:
		// Could not start. The table already moved, so the old worker is
		// retired regardless and the new generation goes through the
		// reconnect path.
		if old != nil {
			old.drain()
		}
		return fmt.Errorf("new worker failed to start: %w", nw.err)
	case <-m.ctx.Done():
		if old != nil {
			old.drain()
		}
		return fmt.Errorf("%w: timed out waiting for new worker", ErrUnavailable)
	}

	if old != nil {
		old.drain()
		select {
		case <-old.doneCh:
		case <-m.ctx.Done():
			return fmt.Errorf("%w: timed out retiring old worker", ErrUnavailable)
		}
	}

	s.logger.Info().
		Str("interest_id", m.id).
		Uint64("generation", in.Generation).
		Msg("Interest applied")
	return nil
}

func (s *Supervisor) applyRemove(m mutation) error {
	delete(s.unavailable, m.id)

	old, ok := s.workers[m.id]
	if !ok {
		// Nothing attached; the interest may have been parked on a fatal
		// error or never started.
		return nil
	}

	old.drain()
	select {
	case <-old.doneCh:
	case <-m.ctx.Done():
		return fmt.Errorf("%w: timed out retiring worker", ErrUnavailable)
	}

	delete(s.workers, m.id)
	s.workerCount.Store(int64(len(s.workers)))
	s.logger.Info().Str("interest_id", m.id).Msg("Interest retired")
	return nil
}

// handleExit reacts to a worker leaving on its own: reconnect on
// transient errors, park the interest on fatal ones.
func (s *Supervisor) handleExit(ctx context.Context, w *worker) {
	if s.workers[w.interestID] != w {
		// Already replaced by a mutation; nothing to do.
		return
	}
	delete(s.workers, w.interestID)
	s.workerCount.Store(int64(len(s.workers)))

	if w.err == nil {
		// Clean drain (superseded generation or removal in flight).
		return
	}

	if feed.IsFatal(w.err) {
		s.unavailable[w.interestID] = w.err
		s.logger.Error().
			Err(w.err).
			Str("interest_id", w.interestID).
			Msg("Interest unavailable until re-upserted")
		return
	}

	attempt := w.attempt + 1
	if max := s.backoff.MaxAttempts; max > 0 && attempt > max {
		s.unavailable[w.interestID] = w.err
		s.logger.Error().
			Err(w.err).
			Str("interest_id", w.interestID).
			Int("attempts", w.attempt).
			Msg("Reconnect attempts exhausted")
		return
	}

	delay := s.reconnectDelay(attempt)
	s.logger.Warn().
		Err(w.err).
		Str("interest_id", w.interestID).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("Scheduling reconnect")

	r := retry{id: w.interestID, generation: w.generation, attempt: attempt}
	time.AfterFunc(delay, func() {
		select {
		case s.retryCh <- r:
		case <-s.doneCh:
		}
	})
}

func (s *Supervisor) handleRetry(ctx context.Context, r retry) {
	in, ok := s.table.Snapshot().Get(r.id)
	if !ok || in.Generation != r.generation {
		// Topology moved while we were waiting; the mutation path owns
		// the new generation.
		return
	}
	if _, exists := s.workers[r.id]; exists {
		return
	}

	metrics.WorkerReconnectsTotal.WithLabelValues(r.id).Inc()
	s.spawn(ctx, in, r.attempt)
}

// reconnectDelay is exponential backoff with jitter: initial * mult^(n-1)
// capped at max, then +/- jitter.
func (s *Supervisor) reconnectDelay(attempt int) time.Duration {
	d := float64(s.backoff.InitialDelay())
	for i := 1; i < attempt; i++ {
		d *= s.backoff.Multiplier
		if d >= float64(s.backoff.MaxDelay()) {
			d = float64(s.backoff.MaxDelay())
			break
		}
	}
	if j := s.backoff.Jitter; j > 0 {
		d *= 1 - j + 2*j*rand.Float64()
	}
	return time.Duration(d)
}

// shutdown drains all workers, waits for them, and closes the fan-in
// channel. Records already queued remain the writer's responsibility.
func (s *Supervisor) shutdown() {
	s.logger.Info().Int("workers", len(s.workers)).Msg("Supervisor shutting down")

	for _, w := range s.workers {
		w.drain()
	}
	for _, w := range s.workers {
		<-w.doneCh
	}
	s.workers = make(map[string]*worker)
	s.workerCount.Store(0)

	close(s.fanin)
	s.logger.Info().Msg("Supervisor stopped")
}
