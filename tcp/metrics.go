package tcp

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the Prometheus collectors this package exposes. Callers
// construct one with NewMetrics and register it with their own registry. A
// nil *Metrics is accepted wherever one is passed and disables reporting.
type Metrics struct {
	endpointsActive prometheus.Gauge
	connsOpened     prometheus.Counter
	connsAccepted   prometheus.Counter
	connsClosed     prometheus.Counter
	synDropped      prometheus.Counter
	poolExhausted   prometheus.Counter
	segsSent        prometheus.Counter
	segsReceived    prometheus.Counter
	segsRetransmit  prometheus.Counter
	segsDupAck      prometheus.Counter
	cwnd            prometheus.Gauge
	ssthresh        prometheus.Gauge
}

// NewMetrics creates the collector set and registers it with reg. Passing a
// nil reg is valid and simply leaves the collectors unregistered, useful in
// tests that only want to read counter values directly.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		endpointsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tcp", Name: "endpoints_active", Help: "Number of bound wildcard endpoints.",
		}),
		connsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcp", Name: "connections_opened_total", Help: "Connections spawned from an inbound SYN.",
		}),
		connsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcp", Name: "connections_accepted_total", Help: "Connections handed to the application via Accept.",
		}),
		connsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcp", Name: "connections_closed_total", Help: "Connections reclaimed back to the pool.",
		}),
		synDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcp", Name: "syn_dropped_total", Help: "Inbound SYNs dropped by the half-open rate limiter.",
		}),
		poolExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcp", Name: "pool_exhausted_total", Help: "Inbound SYNs dropped due to an empty connection pool.",
		}),
		segsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcp", Name: "segments_sent_total", Help: "Segments handed to the IP layer for transmission.",
		}),
		segsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcp", Name: "segments_received_total", Help: "Segments accepted from the IP layer.",
		}),
		segsRetransmit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcp", Name: "segments_retransmitted_total", Help: "Segments resent by fast retransmit or after RTO expiry.",
		}),
		segsDupAck: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcp", Name: "duplicate_acks_total", Help: "Duplicate ACKs observed, counted toward fast retransmit.",
		}),
		cwnd: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tcp", Name: "congestion_window_bytes", Help: "Most recently observed congestion window.",
		}),
		ssthresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tcp", Name: "slow_start_threshold_bytes", Help: "Most recently observed slow start threshold.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.endpointsActive, m.connsOpened, m.connsAccepted, m.connsClosed,
			m.synDropped, m.poolExhausted, m.segsSent, m.segsReceived, m.segsRetransmit,
			m.segsDupAck, m.cwnd, m.ssthresh)
	}
	return m
}
