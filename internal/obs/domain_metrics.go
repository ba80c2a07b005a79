package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentTransitionsTotal counts payment state machine transitions.
	PaymentTransitionsTotal *prometheus.CounterVec
	// PaymentAuthorizeTotal counts authorization outcomes.
	PaymentAuthorizeTotal *prometheus.CounterVec
	// OTPValidationsTotal counts OTP validation outcomes.
	OTPValidationsTotal *prometheus.CounterVec
	// WebhookDeliveriesTotal tracks webhook delivery outcomes.
	WebhookDeliveriesTotal *prometheus.CounterVec
	// WebhookAttemptLatency records delivery attempt latency in milliseconds.
	WebhookAttemptLatency *prometheus.HistogramVec
	// EmailSendsTotal counts transactional email dispatch outcomes.
	EmailSendsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_transitions_total",
			Help:      "Count of payment state transitions by source and target state.",
		}, []string{"from", "to"})
		PaymentAuthorizeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_authorize_total",
			Help:      "Count of authorization attempts by outcome.",
		}, []string{"result"})
		OTPValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_validations_total",
			Help:      "Count of OTP validations by outcome.",
		}, []string{"result"})
		WebhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Count of webhook delivery outcomes.",
		}, []string{"result"})
		WebhookAttemptLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_attempt_duration_ms",
			Help:      "Latency for webhook delivery attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})
		EmailSendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "email_sends_total",
			Help:      "Count of transactional email dispatch outcomes.",
		}, []string{"kind", "result"})

		reg.MustRegister(
			PaymentTransitionsTotal,
			PaymentAuthorizeTotal,
			OTPValidationsTotal,
			WebhookDeliveriesTotal,
			WebhookAttemptLatency,
			EmailSendsTotal,
		)
	})
}
