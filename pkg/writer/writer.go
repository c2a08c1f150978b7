package writer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/ledgertap/pkg/config"
	"github.com/cuemby/ledgertap/pkg/log"
	"github.com/cuemby/ledgertap/pkg/metrics"
	"github.com/cuemby/ledgertap/pkg/types"
)

// Entry is one stream-store append: a topic, an explicit entry id and the
// tagged field map.
type Entry struct {
	Topic  string
	ID     string
	Values map[string]interface{}
}

// Appender commits a batch of entries to the stream-store as one
// pipelined append, trimming each topic to its approximate retention cap.
type Appender interface {
	AppendBatch(ctx context.Context, entries []Entry) error
}

// FatalError marks an append failure that retrying cannot fix
// (authentication, schema). The writer exits on these; everything else is
// retried and eventually dropped.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal stream-store error: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// topicCursor keeps entry ids monotonic within a topic when two batches
// land in the same millisecond.
type topicCursor struct {
	ms  int64
	idx int
}

// Writer is the single consumer of the fan-in channel. It groups records
// into bounded batches, commits each batch as one pipelined append, and
// never buffers more than one batch.
type Writer struct {
	in    <-chan *types.Record
	store Appender

	batchSize    int
	batchTimeout time.Duration
	maxAttempts  int
	retryBackoff time.Duration
	partition    bool

	sweepInterval time.Duration
	sweepGrace    time.Duration

	logger zerolog.Logger

	batch   []*types.Record
	cursors map[string]*topicCursor

	// committed is advisory bookkeeping of persisted record ids, swept
	// periodically. Durability lives in the stream-store.
	committed map[string]int64
}

// New creates a writer consuming from in and committing through store.
func New(in <-chan *types.Record, store Appender, cfg config.StoreConfig) *Writer {
	return &Writer{
		in:            in,
		store:         store,
		batchSize:     cfg.BatchSize,
		batchTimeout:  cfg.BatchTimeout(),
		maxAttempts:   cfg.MaxAttempts,
		retryBackoff:  cfg.RetryBackoff(),
		partition:     cfg.PartitionByInterest,
		sweepInterval: cfg.SweepInterval(),
		sweepGrace:    cfg.SweepGrace(),
		logger:        log.WithComponent("writer"),
		batch:         make([]*types.Record, 0, cfg.BatchSize),
		cursors:       make(map[string]*topicCursor),
		committed:     make(map[string]int64),
	}
}

// Run consumes records until the fan-in channel closes, then flushes the
// final partial batch and returns. The returned error is non-nil for
// fatal stream-store failures and, after a final flush attempt, is
// ctx.Err() when ctx is cancelled first.
func (w *Writer) Run(ctx context.Context) error {
	w.logger.Info().
		Int("batch_size", w.batchSize).
		Dur("batch_timeout", w.batchTimeout).
		Msg("Writer started")

	flushTimer := time.NewTimer(w.batchTimeout)
	stopTimer(flushTimer)
	defer flushTimer.Stop()

	var sweepC <-chan time.Time
	if w.sweepInterval > 0 {
		sweepTicker := time.NewTicker(w.sweepInterval)
		defer sweepTicker.Stop()
		sweepC = sweepTicker.C
	}

	for {
		select {
		case r, ok := <-w.in:
			if !ok {
				err := w.flushFinal(ctx)
				w.logger.Info().Msg("Writer stopped")
				return err
			}
			w.batch = append(w.batch, r)
			metrics.FanInDepth.Set(float64(len(w.in)))
			if len(w.batch) == 1 {
				flushTimer.Reset(w.batchTimeout)
			}
			if len(w.batch) >= w.batchSize {
				stopTimer(flushTimer)
				if err := w.flush(ctx); err != nil {
					return err
				}
			}

		case <-flushTimer.C:
			if err := w.flush(ctx); err != nil {
				return err
			}

		case <-sweepC:
			w.sweep(time.Now())

		case <-ctx.Done():
			// Shutdown closes the channel before cancelling, so this is
			// the abnormal path; flush what we hold with a short grace.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := w.flushFinal(flushCtx)
			cancel()
			if err != nil {
				return err
			}
			return ctx.Err()
		}
	}
}

// flush commits the current batch with the retry policy, dropping it when
// retries are exhausted. Fatal errors propagate.
func (w *Writer) flush(ctx context.Context) error {
	if len(w.batch) == 0 {
		return nil
	}

	entries := w.buildEntries(w.batch)
	timer := metrics.NewTimer()
	err := w.commit(ctx, entries)
	timer.ObserveDuration(metrics.BatchCommitDuration)

	if err != nil {
		if IsFatal(err) {
			return err
		}
		metrics.BatchesDroppedTotal.Inc()
		w.logger.Error().
			Err(err).
			Int("records", len(w.batch)).
			Msg("Dropping batch after exhausting retries")
		w.batch = w.batch[:0]
		return nil
	}

	metrics.BatchesCommittedTotal.Inc()
	now := time.Now().UnixMilli()
	for _, r := range w.batch {
		w.committed[r.ID] = now
	}
	w.logger.Debug().Int("records", len(w.batch)).Msg("Committed batch")
	w.batch = w.batch[:0]
	return nil
}

// commit attempts the pipelined append up to maxAttempts times with
// exponential backoff.
func (w *Writer) commit(ctx context.Context, entries []Entry) error {
	attempts := w.maxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	delay := w.retryBackoff
	for attempt := 1; attempt <= attempts; attempt++ {
		err = w.store.AppendBatch(ctx, entries)
		if err == nil || IsFatal(err) {
			return err
		}

		if attempt == attempts {
			break
		}
		metrics.BatchRetriesTotal.Inc()
		w.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Batch commit failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("commit aborted: %w", ctx.Err())
		}
		delay *= 2
	}
	return fmt.Errorf("commit failed after %d attempts: %w", attempts, err)
}

// flushFinal flushes the partial batch once with the usual retry policy.
func (w *Writer) flushFinal(ctx context.Context) error {
	if len(w.batch) == 0 {
		return nil
	}
	w.logger.Info().Int("records", len(w.batch)).Msg("Flushing final batch")
	return w.flush(ctx)
}

// buildEntries maps records to stream entries, assigning "{ms}:{idx}" ids
// that stay monotonic per topic.
func (w *Writer) buildEntries(batch []*types.Record) []Entry {
	ms := time.Now().UnixMilli()
	entries := make([]Entry, 0, len(batch))

	for _, r := range batch {
		entries = append(entries, w.entryFor(r, r.Topic, ms))
		if w.partition && r.InterestID != "" {
			entries = append(entries, w.entryFor(r, r.Topic+":"+r.InterestID, ms))
		}
	}
	return entries
}

func (w *Writer) entryFor(r *types.Record, topic string, ms int64) Entry {
	cur, ok := w.cursors[topic]
	if !ok {
		cur = &topicCursor{ms: ms, idx: -1}
		w.cursors[topic] = cur
	}
	// Entry ids must not regress within a topic, clock steps included.
	if ms < cur.ms {
		ms = cur.ms
	}
	if cur.ms == ms {
		cur.idx++
	} else {
		cur.ms = ms
		cur.idx = 0
	}

	return Entry{
		Topic: topic,
		ID:    strconv.FormatInt(ms, 10) + ":" + strconv.Itoa(cur.idx),
		Values: map[string]interface{}{
			"id":             r.ID,
			"interest_id":    r.InterestID,
			"classification": string(r.Classification),
			"ts":             r.TS,
			"payload":        r.Payload,
		},
	}
}

// sweep drops bookkeeping for records committed before the grace window.
func (w *Writer) sweep(now time.Time) {
	cutoff := now.Add(-w.sweepGrace).UnixMilli()
	removed := 0
	for id, committedAt := range w.committed {
		if committedAt < cutoff {
			delete(w.committed, id)
			removed++
		}
	}
	if removed > 0 {
		w.logger.Debug().Int("removed", removed).Msg("Swept committed-record bookkeeping")
	}
}

// CommittedCount returns the number of records tracked as persisted since
// the last sweep window.
func (w *Writer) CommittedCount() int {
	return len(w.committed)
}

// stopTimer drains a stopped timer's channel so a later Reset arms it
// cleanly.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
