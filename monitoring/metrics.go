package monitoring

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	gatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Outbound payment processor requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	gatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Latency of outbound payment processor requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"operation"},
	)

	tokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_token_refreshes_total",
			Help: "Access token exchanges by outcome",
		},
		[]string{"outcome"},
	)

	webhookVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_webhook_verifications_total",
			Help: "Inbound webhook digest checks by outcome",
		},
		[]string{"outcome"},
	)

	paymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_status_transitions_total",
			Help: "Payment records moving into a terminal status",
		},
		[]string{"status"},
	)

	reconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_items_total",
			Help: "Pending items visited by the reconciler",
		},
		[]string{"kind", "outcome"},
	)
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

func TrackGatewayCall(operation, outcome string, took time.Duration) {
	gatewayCalls.WithLabelValues(operation, outcome).Inc()
	gatewayLatency.WithLabelValues(operation).Observe(took.Seconds())
}

func TrackTokenRefresh(outcome string) {
	tokenRefreshes.WithLabelValues(outcome).Inc()
}

// TrackWebhookVerification records "verified", "rejected", "unconfigured" or "missing_digest".
func TrackWebhookVerification(outcome string) {
	webhookVerifications.WithLabelValues(outcome).Inc()
}

func TrackPaymentTransition(status string) {
	paymentTransitions.WithLabelValues(status).Inc()
}

func TrackReconcile(kind, outcome string) {
	reconcileRuns.WithLabelValues(kind, outcome).Inc()
}

// Serve exposes the default registry on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listener started", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
