package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(reg)
	s.Reclaimer.Rotations.Inc()
	s.Mask.Capacity.Set(128)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 8)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Reclaimer.Rotations))
	assert.Equal(t, 128.0, testutil.ToFloat64(s.Mask.Capacity))
}

func TestNewWithoutRegistry(t *testing.T) {
	assert.NotPanics(t, func() { New(nil) })
}
