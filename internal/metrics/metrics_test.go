package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveCall("videos.list", OutcomeSuccess)
	c.ObserveCall("videos.list", OutcomeSuccess)
	c.ObserveCall("videos.list", OutcomeRetryable)
	c.AddQuota("videos.list", 3)
	c.Rotated()
	c.SampleWritten(4)
	c.SampleFailed()
	c.ObserveTick(2*time.Second, false)
	c.ObserveTick(0, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.APICalls.WithLabelValues("videos.list", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.APICalls.WithLabelValues("videos.list", OutcomeRetryable)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.QuotaUnits.WithLabelValues("videos.list")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CredentialRotations))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.SamplesWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SampleFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TicksFenced))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveCall("op", OutcomeSuccess)
		c.AddQuota("op", 1)
		c.Rotated()
		c.SampleWritten(1)
		c.SampleFailed()
		c.ObserveTick(time.Second, false)
		c.ChannelDeactivated()
		c.VideoDiscovered(1)
		c.ObserveRequest("/", "GET", "200", time.Millisecond)
	})
}
