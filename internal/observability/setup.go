package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var (
	// Global logger instance
	Logger *zap.Logger

	// Metrics
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_decisions_total",
			Help: "Total number of moderation decisions by verdict",
		},
		[]string{"verdict", "degraded"},
	)

	decisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moderation_decision_duration_seconds",
			Help:    "Time spent producing one decision",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	sourceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signal_source_duration_seconds",
			Help:    "Latency of individual signal source calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "status"},
	)

	breakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "signal_source_breaker_open",
			Help: "Whether the source's circuit breaker is currently open",
		},
		[]string{"source"},
	)

	arbitrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbitrations_total",
			Help: "Gray-zone arbiter consultations by outcome",
		},
		[]string{"outcome"},
	)
)

func Init(ctx context.Context, addr string) error {
	// Initialize logger
	var err error
	Logger, err = zap.NewProduction()
	if err != nil {
		return err
	}

	// Register metrics
	prometheus.MustRegister(decisionsTotal)
	prometheus.MustRegister(decisionDuration)
	prometheus.MustRegister(sourceDuration)
	prometheus.MustRegister(breakerOpen)
	prometheus.MustRegister(arbitrationsTotal)

	// Setup OpenTelemetry (simplified setup)
	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	// Start Prometheus metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Error("metrics server failed")
		}
	}()

	return nil
}

// RecordDecision records one finished decision.
func RecordDecision(verdict string, degraded bool) {
	flag := "false"
	if degraded {
		flag = "true"
	}
	decisionsTotal.WithLabelValues(verdict, flag).Inc()
}

// StartDecision returns a function to record decision duration
func StartDecision() func(status string) {
	start := time.Now()
	return func(status string) {
		decisionDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}

// ObserveSource records one signal source call.
func ObserveSource(source, status string, elapsed time.Duration) {
	sourceDuration.WithLabelValues(source, status).Observe(elapsed.Seconds())
}

// SetBreakerOpen reflects a breaker state change.
func SetBreakerOpen(source string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	breakerOpen.WithLabelValues(source).Set(v)
}

// RecordArbitration records a gray-zone consultation outcome.
func RecordArbitration(outcome string) {
	arbitrationsTotal.WithLabelValues(outcome).Inc()
}
