package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion metrics
	RecordsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgertap_records_ingested_total",
			Help: "Total number of records admitted by topic and classification",
		},
		[]string{"topic", "classification"},
	)

	InvalidEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgertap_invalid_events_total",
			Help: "Total number of feed events discarded as malformed",
		},
	)

	DecoderErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgertap_decoder_errors_total",
			Help: "Total number of decoder failures yielding empty payloads",
		},
	)

	// Writer metrics
	BatchesCommittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgertap_batches_committed_total",
			Help: "Total number of batches committed to the stream-store",
		},
	)

	BatchesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgertap_batches_dropped_total",
			Help: "Total number of batches dropped after exhausting commit retries",
		},
	)

	BatchRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgertap_batch_retries_total",
			Help: "Total number of batch commit retries",
		},
	)

	BatchCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledgertap_batch_commit_duration_seconds",
			Help:    "Time taken to commit a batch to the stream-store in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FanInDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledgertap_fanin_depth",
			Help: "Current number of records queued on the fan-in channel",
		},
	)

	// Live bus metrics
	BusPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgertap_bus_published_total",
			Help: "Total number of records published to the live bus",
		},
	)

	BusDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgertap_bus_dropped_total",
			Help: "Total number of records dropped for lagging bus subscribers",
		},
	)

	BusSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledgertap_bus_subscribers",
			Help: "Current number of live bus subscribers",
		},
	)

	// Subscription metrics
	WorkersRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledgertap_workers_running",
			Help: "Current number of running subscription workers",
		},
	)

	WorkerReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgertap_worker_reconnects_total",
			Help: "Total number of worker reconnect attempts by interest",
		},
		[]string{"interest_id"},
	)

	InterestsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledgertap_interests_active",
			Help: "Current number of active interests",
		},
	)

	InterestMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgertap_interest_mutations_total",
			Help: "Total number of interest mutations by operation and status",
		},
		[]string{"op", "status"},
	)

	// Control-plane metrics
	ControlRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgertap_control_requests_total",
			Help: "Total number of control-plane requests by path and status",
		},
		[]string{"path", "status"},
	)

	ControlRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledgertap_control_request_duration_seconds",
			Help:    "Control-plane request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RecordsIngestedTotal)
	prometheus.MustRegister(InvalidEventsTotal)
	prometheus.MustRegister(DecoderErrorsTotal)
	prometheus.MustRegister(BatchesCommittedTotal)
	prometheus.MustRegister(BatchesDroppedTotal)
	prometheus.MustRegister(BatchRetriesTotal)
	prometheus.MustRegister(BatchCommitDuration)
	prometheus.MustRegister(FanInDepth)
	prometheus.MustRegister(BusPublishedTotal)
	prometheus.MustRegister(BusDroppedTotal)
	prometheus.MustRegister(BusSubscribers)
	prometheus.MustRegister(WorkersRunning)
	prometheus.MustRegister(WorkerReconnectsTotal)
	prometheus.MustRegister(InterestsActive)
	prometheus.MustRegister(InterestMutationsTotal)
	prometheus.MustRegister(ControlRequestsTotal)
	prometheus.MustRegister(ControlRequestDuration)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in the given histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(t.Duration().Seconds())
}
