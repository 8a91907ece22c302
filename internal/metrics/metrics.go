package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters.
type Metrics struct {
	blocksProcessed     *prometheus.CounterVec
	events              *prometheus.CounterVec
	duplicates          *prometheus.CounterVec
	anomalies           *prometheus.CounterVec
	decodeErrors        *prometheus.CounterVec
	txRetries           prometheus.Counter
	placeholdersCreated prometheus.Counter
	placeholdersMerged  prometheus.Counter
	swapsCompleted      prometheus.Counter
	swapsCancelled      prometheus.Counter
	alertsSent          prometheus.Counter
	alertsDropped       prometheus.Counter
	errors              prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = newMetrics()
		metrics.MustRegister(prometheus.DefaultRegisterer)
	})
	return metrics
}

func newMetrics() *Metrics {
	return &Metrics{
		blocksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swap_tower_blocks_processed_total",
			Help: "Total number of blocks processed",
		}, []string{"chain_id"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swap_tower_events_total",
			Help: "Escrow events applied, by kind",
		}, []string{"kind"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swap_tower_events_duplicate_total",
			Help: "Redelivered escrow events absorbed without effect",
		}, []string{"kind"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swap_tower_anomalies_total",
			Help: "Events recorded as anomalies, by reason",
		}, []string{"reason"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swap_tower_decode_errors_total",
			Help: "Escrow events that could not be decoded",
		}, []string{"kind"}),
		txRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swap_tower_tx_retries_total",
			Help: "Store transactions retried after a lock conflict",
		}),
		placeholdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swap_tower_placeholders_created_total",
			Help: "Swaps first observed through their destination leg",
		}),
		placeholdersMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swap_tower_placeholders_promoted_total",
			Help: "Placeholder swaps promoted once the source leg arrived",
		}),
		swapsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swap_tower_swaps_completed_total",
			Help: "Swaps completed by a source-side withdrawal",
		}),
		swapsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swap_tower_swaps_cancelled_total",
			Help: "Swaps cancelled on either leg",
		}),
		alertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swap_tower_alerts_sent_total",
			Help: "Total number of anomaly alerts sent to sinks",
		}),
		alertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swap_tower_alerts_dropped_total",
			Help: "Total number of anomaly alerts dropped (rate-limit)",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swap_tower_errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

// MustRegister registers every collector with reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.blocksProcessed,
		m.events,
		m.duplicates,
		m.anomalies,
		m.decodeErrors,
		m.txRetries,
		m.placeholdersCreated,
		m.placeholdersMerged,
		m.swapsCompleted,
		m.swapsCancelled,
		m.alertsSent,
		m.alertsDropped,
		m.errors,
	)
}

// NewUnregistered returns metrics that are not attached to any registry.
func NewUnregistered() *Metrics {
	return newMetrics()
}

// BlocksProcessed increments the blocks processed counter for a chain.
func (m *Metrics) BlocksProcessed(chainID uint64) {
	if m != nil {
		m.blocksProcessed.WithLabelValues(strconv.FormatUint(chainID, 10)).Inc()
	}
}

// Event counts an applied escrow event.
func (m *Metrics) Event(kind string) {
	if m != nil {
		m.events.WithLabelValues(kind).Inc()
	}
}

// Duplicate counts a redelivered event.
func (m *Metrics) Duplicate(kind string) {
	if m != nil {
		m.duplicates.WithLabelValues(kind).Inc()
	}
}

// Anomaly counts a recorded anomaly.
func (m *Metrics) Anomaly(reason string) {
	if m != nil {
		m.anomalies.WithLabelValues(reason).Inc()
	}
}

// DecodeError counts an undecodable event.
func (m *Metrics) DecodeError(kind string) {
	if m != nil {
		m.decodeErrors.WithLabelValues(kind).Inc()
	}
}

// TxRetry counts a retried store transaction.
func (m *Metrics) TxRetry() {
	if m != nil {
		m.txRetries.Inc()
	}
}

// PlaceholderCreated counts a swap created from its destination leg.
func (m *Metrics) PlaceholderCreated() {
	if m != nil {
		m.placeholdersCreated.Inc()
	}
}

// PlaceholderPromoted counts a placeholder that received its order hash.
func (m *Metrics) PlaceholderPromoted() {
	if m != nil {
		m.placeholdersMerged.Inc()
	}
}

// SwapCompleted increments the completed swaps counter.
func (m *Metrics) SwapCompleted() {
	if m != nil {
		m.swapsCompleted.Inc()
	}
}

// SwapCancelled increments the cancelled swaps counter.
func (m *Metrics) SwapCancelled() {
	if m != nil {
		m.swapsCancelled.Inc()
	}
}

// AlertsSent increments the alerts sent counter.
func (m *Metrics) AlertsSent() {
	if m != nil {
		m.alertsSent.Inc()
	}
}

// AlertsDropped increments the alerts dropped counter.
func (m *Metrics) AlertsDropped() {
	if m != nil {
		m.alertsDropped.Inc()
	}
}

// Errors increments the errors counter.
func (m *Metrics) Errors() {
	if m != nil {
		m.errors.Inc()
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
