package metrics

import (
	"errors"
	"time"

	"candlealert/internal/alert"
	"candlealert/internal/notify"
	"candlealert/pkg/binance"
	"candlealert/pkg/market"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics of the alerting pipeline.
type Metrics struct {
	Registry *prometheus.Registry

	StreamMessages *prometheus.CounterVec // labels: interval
	StreamDropped  *prometheus.CounterVec // labels: reason
	WSReconnects   prometheus.Counter
	WSConnected    prometheus.Gauge
	LastCandleTime prometheus.Gauge

	Upserts *prometheus.CounterVec // labels: result

	EvalDuration prometheus.Histogram

	AlertsQueued      *prometheus.CounterVec // labels: type
	AlertsSent        prometheus.Counter
	CandidatesSent    prometheus.Counter
	AlertsThrottled   *prometheus.CounterVec // labels: reason
	AlertsDiscarded   *prometheus.CounterVec // labels: reason
	DispatchFailures  prometheus.Counter
	PendingCandidates prometheus.Gauge

	CleanupDeleted prometheus.Counter
}

// New registers every metric on a private registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		StreamMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candlealert_stream_messages_total",
			Help: "Normalized candle messages accepted from the stream",
		}, []string{"interval"}),
		StreamDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candlealert_stream_dropped_total",
			Help: "Stream messages dropped before normalization",
		}, []string{"reason"}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candlealert_ws_reconnects_total",
			Help: "WebSocket disconnects followed by a reconnect attempt",
		}),
		WSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candlealert_ws_connected",
			Help: "1 while the stream connection is up",
		}),
		LastCandleTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candlealert_last_candle_timestamp_seconds",
			Help: "Wall clock time of the last accepted candle message",
		}),

		Upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candlealert_candle_upserts_total",
			Help: "Candle upserts by result (stored, throttled, failed)",
		}, []string{"result"}),

		EvalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candlealert_evaluation_duration_seconds",
			Help:    "Duration of one polling evaluation cycle",
			Buckets: prometheus.DefBuckets,
		}),

		AlertsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candlealert_alerts_queued_total",
			Help: "Alert candidates queued for consolidation",
		}, []string{"type"}),
		AlertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candlealert_alerts_sent_total",
			Help: "Alert messages dispatched",
		}),
		CandidatesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candlealert_candidates_sent_total",
			Help: "Alert candidates delivered inside dispatched messages",
		}),
		AlertsThrottled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candlealert_alerts_throttled_total",
			Help: "Candidates dropped by the throttler pre-check",
		}, []string{"reason"}),
		AlertsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candlealert_alerts_discarded_total",
			Help: "Candidates discarded at flush time",
		}, []string{"reason"}),
		DispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candlealert_dispatch_failures_total",
			Help: "Failed notifier dispatches",
		}),
		PendingCandidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candlealert_pending_candidates",
			Help: "Candidates waiting for the next consolidation flush",
		}),

		CleanupDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candlealert_cleanup_deleted_total",
			Help: "Candles removed by retention cleanup",
		}),
	}

	m.Registry.MustRegister(
		m.StreamMessages,
		m.StreamDropped,
		m.WSReconnects,
		m.WSConnected,
		m.LastCandleTime,
		m.Upserts,
		m.EvalDuration,
		m.AlertsQueued,
		m.AlertsSent,
		m.CandidatesSent,
		m.AlertsThrottled,
		m.AlertsDiscarded,
		m.DispatchFailures,
		m.PendingCandidates,
		m.CleanupDeleted,
	)

	return m
}

// StreamObserver feeds stream events into metrics and health.
type StreamObserver struct {
	m *Metrics
	h *HealthStatus
}

func NewStreamObserver(m *Metrics, h *HealthStatus) *StreamObserver {
	return &StreamObserver{m: m, h: h}
}

func (o *StreamObserver) Connected(url string) {
	o.m.WSConnected.Set(1)
	o.h.SetWSConnected(true)
}

func (o *StreamObserver) Disconnected(err error, retryIn time.Duration) {
	o.m.WSConnected.Set(0)
	o.m.WSReconnects.Inc()
	o.h.SetWSConnected(false)
}

func (o *StreamObserver) Accepted(c market.Candle) {
	now := time.Now()
	o.m.StreamMessages.WithLabelValues(c.Interval).Inc()
	o.m.LastCandleTime.Set(float64(now.Unix()))
	o.h.SetLastCandle(now, c)
}

func (o *StreamObserver) Dropped(err error) {
	o.m.StreamDropped.WithLabelValues(dropReason(err)).Inc()
}

func dropReason(err error) string {
	if errors.Is(err, binance.ErrMalformed) {
		return "malformed"
	}
	return "other"
}

// AlertObserver feeds consolidator events into metrics.
type AlertObserver struct {
	m *Metrics
	h *HealthStatus
}

func NewAlertObserver(m *Metrics, h *HealthStatus) *AlertObserver {
	return &AlertObserver{m: m, h: h}
}

func (o *AlertObserver) Queued(c alert.Candidate) {
	o.m.AlertsQueued.WithLabelValues(string(c.Type)).Inc()
}

func (o *AlertObserver) Sent(a notify.Alert, candidates int) {
	o.m.AlertsSent.Inc()
	o.m.CandidatesSent.Add(float64(candidates))
	o.h.SetLastAlert(a.CreatedAt, a.Title)
}

func (o *AlertObserver) Discarded(reason string, candidates int) {
	o.m.AlertsDiscarded.WithLabelValues(reason).Add(float64(candidates))
}

func (o *AlertObserver) DispatchFailed(error) {
	o.m.DispatchFailures.Inc()
}

func (o *AlertObserver) Pending(n int) {
	o.m.PendingCandidates.Set(float64(n))
}

// Evaluated records the duration of one engine cycle.
func (m *Metrics) Evaluated(d time.Duration) {
	m.EvalDuration.Observe(d.Seconds())
}

func (m *Metrics) Throttled(reason string) {
	m.AlertsThrottled.WithLabelValues(reason).Inc()
}

func (m *Metrics) Upserted(result string) {
	m.Upserts.WithLabelValues(result).Inc()
}

func (m *Metrics) CleanedUp(n int64) {
	m.CleanupDeleted.Add(float64(n))
}
