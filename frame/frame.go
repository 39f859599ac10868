package frame

import (
	"github.com/dolthub/swiss"
	"github.com/pkg/errors"

	"github.com/akervik/framegraph/syncutils"
)

// FrameState is the lifecycle state of a frame.
type FrameState uint32

const (
	// FrameStateBuilding accepts pass registrations and resource creation.
	FrameStateBuilding FrameState = iota
	// FrameStateFlushing runs the transient allocator and plan
	// construction; no further passes are accepted.
	FrameStateFlushing
	// FrameStateSubmitted means the plan has been handed to the caller.
	FrameStateSubmitted
	// FrameStateAbandoned means the frame was discarded before flush.
	FrameStateAbandoned
)

var frameStateMapping = map[FrameState]string{
	FrameStateBuilding:  "FrameStateBuilding",
	FrameStateFlushing:  "FrameStateFlushing",
	FrameStateSubmitted: "FrameStateSubmitted",
	FrameStateAbandoned: "FrameStateAbandoned",
}

func (s FrameState) String() string {
	return frameStateMapping[s]
}

// FrameCreateInfo configures a new frame.
type FrameCreateInfo struct {
	// HappensAfter makes the whole frame wait for the given serials before
	// any of its passes execute. Individual passes may still synchronize
	// with earlier frames through resource dependencies regardless.
	HappensAfter syncutils.QueueSerialNumbers
}

// Frame is a pass-graph batch under construction: an ordered collection of
// passes and the synchronization state accumulated while tracking their
// accesses. It is distinct from QueueSubmission, which batches consecutive
// passes for one queue submit call; the two kinds of batch are deliberately
// separate types.
type Frame struct {
	number     syncutils.FrameNumber
	baseSerial uint64
	state      FrameState

	initialWaits syncutils.QueueSerialNumbers

	passes      []*Pass
	temporaries []ResourceID

	// syncTable holds, per destination queue, the source serials already
	// ordered before subsequent passes on that queue, whether by semaphore
	// wait or pipeline barrier. It is the frame's redundancy-elimination
	// state, and the per-pass predecessor frontiers are snapshots of it.
	syncTable [syncutils.MaxQueues]syncutils.QueueSerialNumbers
	// semTable is the subset of syncTable established by timeline waits
	// alone. Semaphores make all writes visible, barriers only the
	// requested access types, so the two must stay distinguishable.
	semTable [syncutils.MaxQueues]syncutils.QueueSerialNumbers

	// savedTracking snapshots each resource's tracking state the first time
	// the frame touches it, so abandoning the frame can roll back. Its key
	// set doubles as the set of resources the frame has touched.
	savedTracking *swiss.Map[ResourceID, ResourceTrackingInfo]

	// semaphores lists the cross-queue dependencies realized as timeline
	// waits while tracking.
	semaphores []SemaphoreDep

	stats syncutils.SyncStatistics
}

func newFrame(number syncutils.FrameNumber, baseSerial uint64, info FrameCreateInfo) *Frame {
	f := &Frame{
		number:        number,
		baseSerial:    baseSerial,
		state:         FrameStateBuilding,
		initialWaits:  info.HappensAfter,
		savedTracking: swiss.NewMap[ResourceID, ResourceTrackingInfo](64),
	}
	// The frame-level wait is a timeline wait ordered before every pass of
	// the frame, on every queue.
	for q := 0; q < syncutils.MaxQueues; q++ {
		f.syncTable[q] = info.HappensAfter
		f.semTable[q] = info.HappensAfter
	}
	return f
}

// Number returns the frame's identifier.
func (f *Frame) Number() syncutils.FrameNumber {
	return f.number
}

// BaseSerial returns the serial the frame started after.
func (f *Frame) BaseSerial() uint64 {
	return f.baseSerial
}

// State returns the frame's lifecycle state.
func (f *Frame) State() FrameState {
	return f.state
}

// PassCount returns the number of registered passes.
func (f *Frame) PassCount() int {
	return len(f.passes)
}

// Pass returns the pass with the given frame index.
func (f *Frame) Pass(index int) *Pass {
	return f.passes[index]
}

// Statistics returns the synchronization statistics accumulated so far.
func (f *Frame) Statistics() syncutils.SyncStatistics {
	return f.stats
}

// localPassIndex converts a serial from the current frame into an index into
// the frame's pass list.
func (f *Frame) localPassIndex(serial uint64) int {
	return int(serial - f.baseSerial - 1)
}

// passBySerial returns the in-frame pass with the given serial, or nil for
// serials from earlier frames.
func (f *Frame) passBySerial(serial uint64) *Pass {
	if serial <= f.baseSerial {
		return nil
	}
	index := f.localPassIndex(serial)
	if index >= len(f.passes) {
		return nil
	}
	return f.passes[index]
}

// Validate checks per-pass barrier consistency: a pass with memory barriers
// must carry an execution dependency, wait stages must accompany wait
// serials, and pass serials must be dense within the frame.
func (f *Frame) Validate() error {
	for i, p := range f.passes {
		if p.SNN.Serial() != f.baseSerial+uint64(i)+1 {
			return errors.Errorf("pass %d carries serial %d, expected %d", i, p.SNN.Serial(), f.baseSerial+uint64(i)+1)
		}
		if len(p.MemoryBarriers) > 0 && (p.SrcStageMask == 0 || p.DstStageMask == 0) {
			return errors.Errorf("pass %s has memory barriers but no execution dependency", p.SNN)
		}
		for q := 0; q < syncutils.MaxQueues; q++ {
			if p.WaitSerials[q] != 0 && p.WaitDstStages[q] == 0 {
				return errors.Errorf("pass %s waits on queue %d with empty stage mask", p.SNN, q)
			}
			if p.WaitSerials[q] >= p.SNN.Serial() {
				return errors.Errorf("pass %s waits on a serial not ordered before it", p.SNN)
			}
		}
	}
	return nil
}

var _ syncutils.Validatable = &Frame{}
