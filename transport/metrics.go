package transport

import "github.com/prometheus/client_golang/prometheus"

// poolMetrics mirrors Pool.Stats() as prometheus gauges/counters, giving the
// "introspection and optional persistence" requirement in spec.md §4.3 a
// real scrape target instead of a log line, using github.com/prometheus/client_golang.
type poolMetrics struct {
	connCount   *prometheus.GaugeVec
	connActive  *prometheus.GaugeVec
	reqsTotal   *prometheus.GaugeVec
	errorsTotal *prometheus.GaugeVec
}

func newPoolMetrics(reg prometheus.Registerer) *poolMetrics {
	m := &poolMetrics{
		connCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "atp_pool_connections",
			Help: "Current number of connections in a host's pool.",
		}, []string{"host"}),
		connActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "atp_pool_active_connections",
			Help: "Connections with at least one in-flight call.",
		}, []string{"host"}),
		reqsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "atp_pool_requests_total",
			Help: "Total with_session calls dispatched for a host's pool.",
		}, []string{"host"}),
		errorsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "atp_pool_errors_total",
			Help: "Total with_session call errors for a host's pool.",
		}, []string{"host"}),
	}

	if reg != nil {
		reg.MustRegister(m.connCount, m.connActive, m.reqsTotal, m.errorsTotal)
	}

	return m
}

func (m *poolMetrics) observe(hostID string, s Stats) {
	m.connCount.WithLabelValues(hostID).Set(float64(s.Count))
	m.connActive.WithLabelValues(hostID).Set(float64(s.Active))
	m.reqsTotal.WithLabelValues(hostID).Set(float64(s.TotalReqs))
	m.errorsTotal.WithLabelValues(hostID).Set(float64(s.TotalErrors))
}
