package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/ledgertap/pkg/bus"
	"github.com/cuemby/ledgertap/pkg/classifier"
	"github.com/cuemby/ledgertap/pkg/decoder"
	"github.com/cuemby/ledgertap/pkg/feed"
	"github.com/cuemby/ledgertap/pkg/interest"
	"github.com/cuemby/ledgertap/pkg/log"
	"github.com/cuemby/ledgertap/pkg/metrics"
	"github.com/cuemby/ledgertap/pkg/types"
)

// progressInterval is how many events pass between throughput log lines.
const progressInterval = 10000

// worker owns one feed session for one interest-generation. It classifies
// every event under the current table snapshot, tees admitted records to
// the live bus and pushes them onto the fan-in channel; the blocking send
// there is the only backpressure toward the feed.
type worker struct {
	interestID string
	generation uint64
	pred       types.Predicate
	attempt    int // reconnect attempt that spawned this worker, 0 for first

	source  feed.Source
	table   *interest.Table
	decoder decoder.Decoder
	fanin   chan<- *types.Record
	bus     *bus.Bus

	logger zerolog.Logger

	drainOnce sync.Once
	drainCh   chan struct{} // closed to request drain
	runningCh chan struct{} // closed once the subscription is acknowledged
	doneCh    chan struct{} // closed on exit, after err is set
	err       error         // non-nil when the worker failed
}

type eventOrErr struct {
	ev  types.Event
	err error
}

func newWorker(in *types.Interest, attempt int, deps *Supervisor) *worker {
	return &worker{
		interestID: in.ID,
		generation: in.Generation,
		pred:       in.Predicate,
		attempt:    attempt,
		source:     deps.source,
		table:      deps.table,
		decoder:    deps.decoder,
		fanin:      deps.fanin,
		bus:        deps.bus,
		logger:     log.WithWorker(in.ID, in.Generation),
		drainCh:    make(chan struct{}),
		runningCh:  make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// drain asks the worker to stop receiving from the feed. Records already
// admitted still reach the fan-in channel before exit.
func (w *worker) drain() {
	w.drainOnce.Do(func() { close(w.drainCh) })
}

// run is the worker goroutine. It exits on drain, on context
// cancellation, or on feed error; w.err carries the failure, if any.
func (w *worker) run(ctx context.Context) {
	defer close(w.doneCh)

	session, err := w.source.Subscribe(ctx, w.interestID, w.pred)
	if err != nil {
		w.err = err
		w.logger.Error().Err(err).Msg("Failed to open feed session")
		return
	}
	defer session.Close()

	close(w.runningCh)
	metrics.WorkersRunning.Inc()
	defer metrics.WorkersRunning.Dec()
	w.logger.Info().Msg("Worker running")

	// Pump feed events through a channel so drain and shutdown are
	// honored within one dequeue cycle even while Recv blocks.
	evCh := make(chan eventOrErr)
	go func() {
		for {
			ev, err := session.Recv()
			select {
			case evCh <- eventOrErr{ev: ev, err: err}:
				if err != nil {
					return
				}
			case <-w.doneCh:
				return
			}
		}
	}()

	var count uint64
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Worker cancelled")
			return

		case <-w.drainCh:
			w.logger.Info().Uint64("events", count).Msg("Worker drained")
			return

		case ee := <-evCh:
			if ee.err != nil {
				if errors.Is(ee.err, feed.ErrSessionClosed) {
					return
				}
				w.err = ee.err
				w.logger.Error().Err(ee.err).Msg("Feed stream failed")
				return
			}
			if !w.handleEvent(ctx, ee.ev) {
				return
			}

			count++
			if count%progressInterval == 0 {
				elapsed := time.Since(start).Seconds()
				w.logger.Info().
					Uint64("events", count).
					Float64("rate_per_sec", float64(count)/elapsed).
					Msg("Processing events")
			}
		}
	}
}

// handleEvent classifies one event and forwards the record. It returns
// false when the worker discovered it is stale and must drain.
func (w *worker) handleEvent(ctx context.Context, ev types.Event) bool {
	snap := w.table.Snapshot()
	in, ok := snap.Get(w.interestID)
	if !ok || in.Generation != w.generation {
		w.drain()
		w.logger.Info().Msg("Generation superseded, draining")
		return false
	}

	rec, res := classifier.Classify(ev, in.Predicate)
	switch res {
	case classifier.Invalid:
		metrics.InvalidEventsTotal.Inc()
		return true
	case classifier.Rejected, classifier.Discarded:
		return true
	}

	rec.InterestID = w.interestID
	rec.TS = time.Now().UnixMilli()

	payload, err := w.decoder.Decode(ev)
	if err != nil {
		metrics.DecoderErrorsTotal.Inc()
		rec.Classification = types.ClassificationUnknown
		rec.Payload = nil
	} else {
		rec.Payload = payload
	}

	w.bus.Publish(&rec)

	// Blocking send, bounded channel: this suspension is the sole
	// backpressure toward the feed. Only hard shutdown may abandon it.
	select {
	case w.fanin <- &rec:
		metrics.RecordsIngestedTotal.WithLabelValues(rec.Topic, string(rec.Classification)).Inc()
	case <-ctx.Done():
		return false
	}
	return true
}
