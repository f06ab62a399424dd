package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivesocial/hive_sdk_go/pkg/metrics"
)

func TestRecorderRegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.New(reg)

	r.ObserveRequest("GET", "OK", 20*time.Millisecond)
	r.ObserveRequest("GET", "OK", 40*time.Millisecond)
	r.CacheLookup("miss")
	r.Retry()
	r.Mutation("error", true)
	r.Evict(3)
	r.SetEntries(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Requests.WithLabelValues("GET", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Rollbacks))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.Evictions))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.Entries))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *metrics.Recorder
	r.ObserveRequest("GET", "OK", time.Second)
	r.CacheLookup("fresh")
	r.Fetch("success")
	r.Retry()
	r.Discard()
	r.Evict(1)
	r.SetEntries(1)
	r.Mutation("success", false)
}
