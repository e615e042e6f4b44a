package metrics

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()
	m.Snapshots.Inc()
	m.CacheHits.WithLabelValues("blob").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Snapshots))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheHits.WithLabelValues("blob")))

	// Two instances never share a registry.
	other := New()
	assert.Equal(t, 0.0, testutil.ToFloat64(other.Snapshots))

	var buf bytes.Buffer
	require.NoError(t, m.Dump(&buf))
	assert.Contains(t, buf.String(), "strand_workingcopy_snapshots_total 1\n")
	assert.Contains(t, buf.String(), `strand_cache_hits_total{cache="blob"} 2`)
}

func TestOrNew(t *testing.T) {
	m := New()
	assert.Same(t, m, OrNew(m))
	assert.NotNil(t, OrNew(nil))
}
