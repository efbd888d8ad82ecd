// Package threshold centralizes the spill and compaction trigger policy
// from spec §4.13: when the insert coordinator should flush the memtable,
// and when the merge engine should compact a level.
package threshold

import "github.com/tapidb/tapi/internal/bm25/tapierr"

// Defaults per spec §4.13.
const (
	DefaultSpillThreshold              = 32_000_000
	DefaultBulkLoadThreshold           = 100_000
	DefaultSegmentsPerLevel            = 8
	DefaultMaxLevels                   = 8
	DefaultParallelBuildExpansionFactor = 1.5
)

// Policy holds the process-wide thresholds governing spill and compaction.
type Policy struct {
	SpillThreshold              int
	BulkLoadThreshold           int
	SegmentsPerLevel            int
	CompressSegments            bool
	MaxLevels                   int
	ParallelBuildExpansionFactor float64
}

// NewDefault returns the spec's default policy.
func NewDefault() Policy {
	return Policy{
		SpillThreshold:               DefaultSpillThreshold,
		BulkLoadThreshold:            DefaultBulkLoadThreshold,
		SegmentsPerLevel:             DefaultSegmentsPerLevel,
		CompressSegments:             true,
		MaxLevels:                    DefaultMaxLevels,
		ParallelBuildExpansionFactor: DefaultParallelBuildExpansionFactor,
	}
}

// Validate rejects out-of-range configuration at build/create time (spec
// §7 "misuse" errors are rejected at plan or build time, not silently
// clamped).
func (p Policy) Validate() error {
	if p.SegmentsPerLevel != 0 && (p.SegmentsPerLevel < 2 || p.SegmentsPerLevel > 64) {
		return tapierr.Misuse("segments_per_level must be 0 (disabled, not meaningful) or in [2,64]")
	}
	if p.MaxLevels < 1 {
		return tapierr.Misuse("max_levels must be ≥ 1")
	}
	if p.ParallelBuildExpansionFactor <= 1.0 {
		return tapierr.Misuse("parallel_build_expansion_factor must be > 1.0")
	}
	return nil
}

// ShouldSpill reports whether the memtable should be flushed after the
// given transaction, given its running posting count and terms added in
// the current transaction. A zero threshold disables that check.
func (p Policy) ShouldSpill(totalPostings, termsAddedThisTxn int) bool {
	if p.SpillThreshold > 0 && totalPostings >= p.SpillThreshold {
		return true
	}
	if p.BulkLoadThreshold > 0 && termsAddedThisTxn >= p.BulkLoadThreshold {
		return true
	}
	return false
}

// ShouldCompact reports whether level L has crossed segments_per_level and
// must be merged.
func (p Policy) ShouldCompact(levelCount int) bool {
	return p.SegmentsPerLevel > 0 && levelCount >= p.SegmentsPerLevel
}

// PoolSize computes the parallel-build/compaction page-pool capacity for a
// given number of heap pages, per spec §4.13's
// "heap_pages · expansion_factor + headroom".
func (p Policy) PoolSize(heapPages int, headroom int) int {
	return int(float64(heapPages)*p.ParallelBuildExpansionFactor) + headroom
}
