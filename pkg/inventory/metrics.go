package inventory

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "branchledger"

// Metrics holds the prometheus collectors of the service. A nil *Metrics is
// valid and records nothing.
// サービスのメトリクス
type Metrics struct {
	transfers             *prometheus.CounterVec
	stockMoves            *prometheus.CounterVec
	replacementsConfirmed prometheus.Counter
	operationErrors       *prometheus.CounterVec
	projectionReplays     prometheus.Counter
	httpDuration          *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg
// メトリクスを作成して登録
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transfers_total",
			Help:      "Committed transfers to branches.",
		}, []string{"reason_kind", "direct"}),
		stockMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stock_moves_total",
			Help:      "Committed in/out/return stock movements.",
		}, []string{"type"}),
		replacementsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "replacements_confirmed_total",
			Help:      "Confirmed pending replacements.",
		}),
		operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operation_errors_total",
			Help:      "Failed operations by error kind.",
		}, []string{"operation", "kind"}),
		projectionReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "projection_replays_total",
			Help:      "Full ledger replays performed by the branch projector.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	for _, c := range []prometheus.Collector{
		m.transfers, m.stockMoves, m.replacementsConfirmed, m.operationErrors, m.projectionReplays, m.httpDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) transferCommitted(kind ReasonKind, direct bool) {
	if m == nil {
		return
	}
	label := string(kind)
	if label == "" {
		label = "none"
	}
	m.transfers.WithLabelValues(label, strconv.FormatBool(direct)).Inc()
}

func (m *Metrics) stockMoveCommitted(t TransactionType) {
	if m == nil {
		return
	}
	m.stockMoves.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) replacementConfirmed() {
	if m == nil {
		return
	}
	m.replacementsConfirmed.Inc()
}

func (m *Metrics) operationFailed(operation string, err error) {
	if m == nil {
		return
	}
	m.operationErrors.WithLabelValues(operation, ErrorKind(err)).Inc()
}

func (m *Metrics) projectionReplayed() {
	if m == nil {
		return
	}
	m.projectionReplays.Inc()
}

// ObserveHTTPRequest records the latency of one HTTP request
// HTTPリクエストのレイテンシを記録
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
