package phylo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PoolMetrics instruments a CondLikelihoodStorage. A nil *PoolMetrics is a
// no-op.
type PoolMetrics struct {
	Created     prometheus.Counter
	Checkouts   prometheus.Counter
	Releases    prometheus.Counter
	StackFaults prometheus.Counter
	Stored      prometheus.Gauge
	CheckedOut  prometheus.Gauge
}

// NewPoolMetrics registers the pool collectors with reg under the given
// chain label. Register one set per chain.
func NewPoolMetrics(reg prometheus.Registerer, chain string) *PoolMetrics {
	f := promauto.With(reg)
	labels := prometheus.Labels{"chain": chain}
	return &PoolMetrics{
		Created: f.NewCounter(prometheus.CounterOpts{
			Name:        "phylo_cla_created_total",
			Help:        "Conditional likelihood buffers allocated",
			ConstLabels: labels,
		}),
		Checkouts: f.NewCounter(prometheus.CounterOpts{
			Name:        "phylo_cla_checkouts_total",
			Help:        "Conditional likelihood buffers handed out",
			ConstLabels: labels,
		}),
		Releases: f.NewCounter(prometheus.CounterOpts{
			Name:        "phylo_cla_releases_total",
			Help:        "Conditional likelihood buffers returned",
			ConstLabels: labels,
		}),
		StackFaults: f.NewCounter(prometheus.CounterOpts{
			Name:        "phylo_cla_stack_faults_total",
			Help:        "Requests that found the free stack empty",
			ConstLabels: labels,
		}),
		Stored: f.NewGauge(prometheus.GaugeOpts{
			Name:        "phylo_cla_stored",
			Help:        "Idle conditional likelihood buffers",
			ConstLabels: labels,
		}),
		CheckedOut: f.NewGauge(prometheus.GaugeOpts{
			Name:        "phylo_cla_checked_out",
			Help:        "Conditional likelihood buffers currently held",
			ConstLabels: labels,
		}),
	}
}

func (m *PoolMetrics) created() {
	if m != nil {
		m.Created.Inc()
	}
}

func (m *PoolMetrics) checkout() {
	if m != nil {
		m.Checkouts.Inc()
	}
}

func (m *PoolMetrics) release() {
	if m != nil {
		m.Releases.Inc()
	}
}

func (m *PoolMetrics) stackFault() {
	if m != nil {
		m.StackFaults.Inc()
	}
}

func (m *PoolMetrics) observe(s *CondLikelihoodStorage) {
	if m != nil {
		m.Stored.Set(float64(s.NumStored()))
		m.CheckedOut.Set(float64(len(s.checkedOut)))
	}
}
