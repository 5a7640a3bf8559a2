// Package metrics содержит счётчики Prometheus бота.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "microanalysis_bot"

// Metrics набор счётчиков. Создаётся один раз и передаётся компонентам.
type Metrics struct {
	BootstrapAttempts *prometheus.CounterVec
	Commands          *prometheus.CounterVec
	Offers            *prometheus.CounterVec
	PreCheckouts      *prometheus.CounterVec
	Payments          *prometheus.CounterVec
	UpdateErrors      prometheus.Counter
}

// New регистрирует счётчики в reg. При reg == nil счётчики не регистрируются.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BootstrapAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bootstrap_attempts_total",
			Help:      "Connection attempts to the chat transport by result.",
		}, []string{"result"}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Handled commands by command and outcome.",
		}, []string{"command", "outcome"}),
		Offers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offers_total",
			Help:      "Premium offers sent to users.",
		}, []string{"result"}),
		PreCheckouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pre_checkouts_total",
			Help:      "Pre-checkout queries answered by decision.",
		}, []string{"decision"}),
		Payments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_completed_total",
			Help:      "Successful payments processed.",
		}, []string{"duplicate"}),
		UpdateErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_errors_total",
			Help:      "Inbound updates whose handling failed.",
		}),
	}
}
