package frame

import "github.com/akervik/framegraph/syncutils"

// ResourceAccess is one declared access of a pass, kept for debugging,
// JSON dumps and transient lifetime computation.
type ResourceAccess struct {
	Resource   ResourceID
	AccessMask syncutils.AccessFlags
}

// MemoryBarrier is a memory dependency attached to a pass's pre-execution
// barrier. For images it can also carry a layout transition.
type MemoryBarrier struct {
	Resource      ResourceID
	SrcAccessMask syncutils.AccessFlags
	DstAccessMask syncutils.AccessFlags
	OldLayout     syncutils.ImageLayout
	NewLayout     syncutils.ImageLayout
}

// SemaphoreWaitKind distinguishes binary from timeline semaphore waits on
// external semaphores passed through to the submission layer.
type SemaphoreWaitKind uint32

const (
	SemaphoreWaitBinary SemaphoreWaitKind = iota
	SemaphoreWaitTimeline
)

var semaphoreWaitKindMapping = map[SemaphoreWaitKind]string{
	SemaphoreWaitBinary:   "SemaphoreWaitBinary",
	SemaphoreWaitTimeline: "SemaphoreWaitTimeline",
}

func (k SemaphoreWaitKind) String() string {
	return semaphoreWaitKindMapping[k]
}

// SemaphoreSignalKind distinguishes binary from timeline semaphore signals.
type SemaphoreSignalKind uint32

const (
	SemaphoreSignalBinary SemaphoreSignalKind = iota
	SemaphoreSignalTimeline
)

var semaphoreSignalKindMapping = map[SemaphoreSignalKind]string{
	SemaphoreSignalBinary:   "SemaphoreSignalBinary",
	SemaphoreSignalTimeline: "SemaphoreSignalTimeline",
}

func (k SemaphoreSignalKind) String() string {
	return semaphoreSignalKindMapping[k]
}

// ExternalSemaphoreWait asks the submission layer to wait on a semaphore it
// owns before the pass executes. Handle is opaque to this package.
type ExternalSemaphoreWait struct {
	Handle    uint64
	Kind      SemaphoreWaitKind
	Value     uint64
	DstStages syncutils.PipelineStageFlags
}

// ExternalSemaphoreSignal asks the submission layer to signal a semaphore it
// owns after the pass executes.
type ExternalSemaphoreSignal struct {
	Handle uint64
	Kind   SemaphoreSignalKind
	Value  uint64
}

// Pass is one unit of device work. It is created at registration and becomes
// immutable once the frame is flushed. Synchronization directives accumulate
// on the pass while later registrations are tracked: a pass can receive
// barriers on behalf of a dependency between two other passes when its
// existing execution barrier already covers the required stages.
type Pass struct {
	Name string
	// SNN identifies the pass.
	SNN syncutils.SubmissionNumber
	// FrameIndex is the index of the pass within its frame.
	FrameIndex int

	// Preds is the predecessor frontier of the pass: the highest serial per
	// queue ordered before it by barriers and semaphore waits at the time
	// its registration completed.
	Preds syncutils.QueueSerialNumbers

	// Accesses lists the declared resource accesses.
	Accesses []ResourceAccess

	// SrcStageMask and DstStageMask describe the execution dependency of
	// the pre-execution pipeline barrier, if any.
	SrcStageMask syncutils.PipelineStageFlags
	DstStageMask syncutils.PipelineStageFlags
	// MemoryBarriers are the memory dependencies of the pre-execution
	// barrier.
	MemoryBarriers []MemoryBarrier

	// WaitSerials are the per-queue timeline values the pass must wait for
	// before starting, with WaitDstStages the stages blocked by each wait.
	WaitSerials   syncutils.QueueSerialNumbers
	WaitDstStages [syncutils.MaxQueues]syncutils.PipelineStageFlags
	// SignalTimeline is set when a later pass on another queue waits on
	// this pass, so the queue timeline must be signalled after it.
	SignalTimeline bool

	ExternalWaits   []ExternalSemaphoreWait
	ExternalSignals []ExternalSemaphoreSignal
}

func newPass(name string, frameIndex int, snn syncutils.SubmissionNumber) *Pass {
	return &Pass{
		Name:       name,
		SNN:        snn,
		FrameIndex: frameIndex,
	}
}

// HasBarrier reports whether the pass carries a pre-execution barrier.
func (p *Pass) HasBarrier() bool {
	return p.SrcStageMask != 0 || p.DstStageMask != 0 || len(p.MemoryBarriers) > 0
}

// HasWaits reports whether the pass waits on queue timelines or external
// semaphores.
func (p *Pass) HasWaits() bool {
	return p.WaitSerials.HasNonZero() || len(p.ExternalWaits) > 0
}

// getOrCreateMemoryBarrier returns the pass's memory barrier for the given
// resource, creating it if the pass has none yet.
func (p *Pass) getOrCreateMemoryBarrier(id ResourceID) *MemoryBarrier {
	for i := range p.MemoryBarriers {
		if p.MemoryBarriers[i].Resource == id {
			return &p.MemoryBarriers[i]
		}
	}
	p.MemoryBarriers = append(p.MemoryBarriers, MemoryBarrier{Resource: id})
	return &p.MemoryBarriers[len(p.MemoryBarriers)-1]
}
