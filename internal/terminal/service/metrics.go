package service

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts reconciliation outcomes per attempt stage.
type Metrics struct {
	processOutcomes *prometheus.CounterVec
	captureOutcomes *prometheus.CounterVec
	readerRetries   prometheus.Counter
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		processOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "givebox_terminal_process_total",
			Help: "Reader processing attempts by outcome.",
		}, []string{"outcome"}),
		captureOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "givebox_terminal_capture_total",
			Help: "Capture attempts by resulting donation status.",
		}, []string{"status"}),
		readerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "givebox_terminal_reader_retries_total",
			Help: "Reader timeouts absorbed by the in-process retry loop.",
		}),
	}
	registry.MustRegister(m.processOutcomes, m.captureOutcomes, m.readerRetries)
	return m
}

func (m *Metrics) ObserveProcess(outcome string) {
	if m == nil {
		return
	}
	m.processOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCapture(status string) {
	if m == nil {
		return
	}
	m.captureOutcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveReaderRetry() {
	if m == nil {
		return
	}
	m.readerRetries.Inc()
}
