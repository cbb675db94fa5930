package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hed1ad/nidsguard/pkg/scorer"
)

type metrics struct {
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	predictions *prometheus.CounterVec
	anomalies   prometheus.Counter
	reloads     *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "nidsguard", Subsystem: "http", Name: "requests_total", Help: "HTTP requests by handler and status code."},
			[]string{"handler", "code"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: "nidsguard", Subsystem: "http", Name: "request_duration_seconds", Help: "HTTP request latency by handler.", Buckets: prometheus.DefBuckets},
			[]string{"handler"},
		),
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "nidsguard", Name: "predictions_total", Help: "Scored connections by threat level."},
			[]string{"threat_level"},
		),
		anomalies: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: "nidsguard", Name: "anomalies_total", Help: "Scored connections flagged as anomalous."},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "nidsguard", Name: "model_reloads_total", Help: "Model reload attempts by result."},
			[]string{"result"},
		),
	}

	for _, c := range []prometheus.Collector{m.requests, m.latency, m.predictions, m.anomalies, m.reloads} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) observe(p *scorer.Prediction) {
	m.predictions.WithLabelValues(string(p.ThreatLevel)).Inc()
	if p.IsAnomaly {
		m.anomalies.Inc()
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.metrics.latency.WithLabelValues(name).Observe(time.Since(start).Seconds())
		s.metrics.requests.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
	})
}
