package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackGatewayCall(t *testing.T) {
	before := testutil.ToFloat64(gatewayCalls.WithLabelValues("transactions.verify", OutcomeOK))

	TrackGatewayCall("transactions.verify", OutcomeOK, 120*time.Millisecond)

	after := testutil.ToFloat64(gatewayCalls.WithLabelValues("transactions.verify", OutcomeOK))
	assert.Equal(t, before+1, after)
}

func TestTrackWebhookVerification(t *testing.T) {
	before := testutil.ToFloat64(webhookVerifications.WithLabelValues("unconfigured"))

	TrackWebhookVerification("unconfigured")
	TrackWebhookVerification("unconfigured")

	assert.Equal(t, before+2, testutil.ToFloat64(webhookVerifications.WithLabelValues("unconfigured")))
}

func TestTrackTokenRefreshAndTransitions(t *testing.T) {
	refreshBefore := testutil.ToFloat64(tokenRefreshes.WithLabelValues(OutcomeOK))
	paidBefore := testutil.ToFloat64(paymentTransitions.WithLabelValues("paid"))

	TrackTokenRefresh(OutcomeOK)
	TrackPaymentTransition("paid")

	assert.Equal(t, refreshBefore+1, testutil.ToFloat64(tokenRefreshes.WithLabelValues(OutcomeOK)))
	assert.Equal(t, paidBefore+1, testutil.ToFloat64(paymentTransitions.WithLabelValues("paid")))
}
