package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts reconciliation outcomes. A nil *Metrics records nothing.
type Metrics struct {
	Moves             *prometheus.CounterVec
	Corrections       *prometheus.CounterVec
	NormalizeFailures *prometheus.CounterVec
	RepairRequests    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Moves: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "board_moves_total",
				Help: "Move commands handled, by board and result",
			},
			[]string{"board", "result"}, // result: applied/noop/failed
		),
		Corrections: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "board_position_corrections_total",
				Help: "Positions rewritten by the normalization pass",
			},
			[]string{"board", "source"}, // source: inline/sweep
		),
		NormalizeFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "board_normalize_failures_total",
				Help: "Lane normalizations that failed",
			},
			[]string{"board"},
		),
		RepairRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "board_repair_requests_total",
				Help: "Lanes handed to the maintenance worker, by outcome",
			},
			[]string{"board", "outcome"}, // outcome: queued/dropped/failed
		),
	}
}

func (m *Metrics) moved(board, result string) {
	if m == nil {
		return
	}
	m.Moves.WithLabelValues(board, result).Inc()
}

func (m *Metrics) corrected(board, source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Corrections.WithLabelValues(board, source).Add(float64(n))
}

func (m *Metrics) normalizeFailed(board string) {
	if m == nil {
		return
	}
	m.NormalizeFailures.WithLabelValues(board).Inc()
}

func (m *Metrics) repair(board, outcome string) {
	if m == nil {
		return
	}
	m.RepairRequests.WithLabelValues(board, outcome).Inc()
}
