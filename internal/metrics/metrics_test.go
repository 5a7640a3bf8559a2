package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.BootstrapAttempts.WithLabelValues("success").Inc()
	m.Commands.WithLabelValues("start", "ok").Inc()
	m.Offers.WithLabelValues("sent").Inc()
	m.PreCheckouts.WithLabelValues("approved").Inc()
	m.Payments.WithLabelValues("false").Inc()
	m.UpdateErrors.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 6)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BootstrapAttempts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpdateErrors))
}

func TestNew_NilRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		m := New(nil)
		m.UpdateErrors.Inc()
	})
}
