package threshold

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldSpill(t *testing.T) {
	p := NewDefault()
	p.SpillThreshold = 100
	p.BulkLoadThreshold = 10
	require.False(t, p.ShouldSpill(50, 5))
	require.True(t, p.ShouldSpill(100, 5))
	require.True(t, p.ShouldSpill(50, 10))
}

func TestShouldSpillDisabled(t *testing.T) {
	p := Policy{SpillThreshold: 0, BulkLoadThreshold: 0}
	require.False(t, p.ShouldSpill(1_000_000, 1_000_000))
}

func TestShouldCompact(t *testing.T) {
	p := NewDefault()
	p.SegmentsPerLevel = 8
	require.False(t, p.ShouldCompact(7))
	require.True(t, p.ShouldCompact(8))
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	p := NewDefault()
	p.SegmentsPerLevel = 1
	require.Error(t, p.Validate())

	p = NewDefault()
	p.ParallelBuildExpansionFactor = 1.0
	require.Error(t, p.Validate())
}

func TestPoolSize(t *testing.T) {
	p := NewDefault()
	p.ParallelBuildExpansionFactor = 2.0
	require.Equal(t, 220, p.PoolSize(100, 20))
}
