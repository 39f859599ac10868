package syncutils

import "math"

// SyncStatistics summarizes the synchronization directives emitted while
// tracking a frame.
type SyncStatistics struct {
	PassCount          int
	BarrierCount       int
	LayoutTransitions  int
	SemaphoreWaitCount int
	SignalCount        int
}

func (s *SyncStatistics) Clear() {
	s.PassCount = 0
	s.BarrierCount = 0
	s.LayoutTransitions = 0
	s.SemaphoreWaitCount = 0
	s.SignalCount = 0
}

func (s *SyncStatistics) AddStatistics(other *SyncStatistics) {
	s.PassCount += other.PassCount
	s.BarrierCount += other.BarrierCount
	s.LayoutTransitions += other.LayoutTransitions
	s.SemaphoreWaitCount += other.SemaphoreWaitCount
	s.SignalCount += other.SignalCount
}

// PoolStatistics summarizes the state of a transient memory block pool.
type PoolStatistics struct {
	BlockCount      int
	BlockBytes      int
	BindingCount    int
	BindingBytes    int
	AliasedBytes    int
	DedicatedBlocks int
}

func (s *PoolStatistics) Clear() {
	s.BlockCount = 0
	s.BlockBytes = 0
	s.BindingCount = 0
	s.BindingBytes = 0
	s.AliasedBytes = 0
	s.DedicatedBlocks = 0
}

func (s *PoolStatistics) AddStatistics(other *PoolStatistics) {
	s.BlockCount += other.BlockCount
	s.BlockBytes += other.BlockBytes
	s.BindingCount += other.BindingCount
	s.BindingBytes += other.BindingBytes
	s.AliasedBytes += other.AliasedBytes
	s.DedicatedBlocks += other.DedicatedBlocks
}

// DetailedPoolStatistics extends PoolStatistics with per-block extrema.
type DetailedPoolStatistics struct {
	PoolStatistics
	BlockSizeMin int
	BlockSizeMax int
}

func (s *DetailedPoolStatistics) Clear() {
	s.PoolStatistics.Clear()
	s.BlockSizeMin = math.MaxInt
	s.BlockSizeMax = 0
}

func (s *DetailedPoolStatistics) AddBlock(size int) {
	s.BlockCount++
	s.BlockBytes += size

	if size < s.BlockSizeMin {
		s.BlockSizeMin = size
	}

	if size > s.BlockSizeMax {
		s.BlockSizeMax = size
	}
}
