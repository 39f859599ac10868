package frame

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/akervik/framegraph/syncutils"
)

// ResourceAccessDetails describes one declared access: which access types,
// at which stages, and for images the layout the access expects on entry and
// leaves behind on exit. Buffers leave both layouts at ImageLayoutUndefined.
type ResourceAccessDetails struct {
	AccessMask    syncutils.AccessFlags
	StageMask     syncutils.PipelineStageFlags
	InitialLayout syncutils.ImageLayout
	FinalLayout   syncutils.ImageLayout
}

// memoryDependencyDesc carries everything addMemoryDependency needs to emit
// either a pipeline barrier or timeline waits for one access.
type memoryDependencyDesc struct {
	srcStageMask syncutils.PipelineStageFlags
	dstStageMask syncutils.PipelineStageFlags

	resource      ResourceID
	srcAccessMask syncutils.AccessFlags
	dstAccessMask syncutils.AccessFlags

	isImage   bool
	oldLayout syncutils.ImageLayout
	newLayout syncutils.ImageLayout
}

// referenceResource registers an access to a resource within the given pass
// and updates the dependency graph. This is the meat of the automatic
// synchronization system: given the tracked state of the resource, it infers
// the necessary execution dependencies, memory barriers and layout
// transitions, then updates the tracked state.
func (c *Context) referenceResource(f *Frame, pass *Pass, id ResourceID, access ResourceAccessDetails) error {
	rec, err := c.arena.get(id)
	if err != nil {
		return err
	}

	q := pass.SNN.Queue()
	if !syncutils.CheckStageSupported(c.queues[q].Capabilities, access.StageMask) {
		return cerrors.Wrapf(syncutils.ConfigurationError,
			"pass %q declares stages %s on queue %d with capabilities %s",
			pass.Name, access.StageMask, q, c.queues[q].Capabilities)
	}

	if !f.savedTracking.Has(id) {
		f.savedTracking.Put(id, rec.tracking)
		f.temporaries = append(f.temporaries, id)
		rec.tracking.FirstAccess = pass.SNN
	}

	needLayoutTransition := rec.kind == ResourceKindImage && rec.tracking.Layout != access.InitialLayout

	// Layout transitions synchronize like writes.
	isWrite := access.AccessMask.IsWrite() || needLayoutTransition

	writesVisible := rec.tracking.VisibilityMask[q].Contains(access.AccessMask) ||
		rec.tracking.VisibilityMask[q].Contains(syncutils.AccessMemoryRead)

	// The passes to synchronize with: when writing over live readers, all of
	// them (write-after-read); otherwise the last writer (read-after-write,
	// write-after-write). A resource never has both a writer and readers
	// pending at the same time.
	var sources syncutils.QueueSerialNumbers
	if isWrite && rec.tracking.HasReaders() {
		sources = rec.tracking.Readers
	} else if rec.tracking.HasWriter() {
		sources = syncutils.QueueSerialsFromSubmission(rec.tracking.Writer)
	}

	// Record the ordering edges regardless of whether a new directive is
	// emitted below: an already-covered access still depends on its
	// sources, and RecordDependency is idempotent.
	for iq := 0; iq < syncutils.MaxQueues; iq++ {
		if sn := sources.Serial(iq); sn != 0 {
			c.tracker.RecordDependency(syncutils.NewSubmissionNumber(iq, sn), pass.SNN)
		}
	}

	// Visibility only covers read-after-write: a semaphore-consumed read
	// sets the full visibility mask for its queue, which must not let a
	// later write on that queue skip ordering against the live readers.
	if !writesVisible || needLayoutTransition || (isWrite && rec.tracking.HasReaders()) {
		viaSemaphore := c.addMemoryDependency(f, pass, sources, memoryDependencyDesc{
			srcStageMask:  rec.tracking.Stages,
			dstStageMask:  access.StageMask,
			resource:      id,
			srcAccessMask: rec.tracking.AvailabilityMask,
			dstAccessMask: access.AccessMask,
			isImage:       rec.kind == ResourceKindImage,
			oldLayout:     rec.tracking.Layout,
			newLayout:     access.InitialLayout,
		})

		// The dependency consumed the pending writes: they are now
		// available, and visible to this queue. A semaphore makes every
		// access type visible; a barrier only the requested ones.
		rec.tracking.AvailabilityMask = 0
		if viaSemaphore {
			rec.tracking.VisibilityMask[q] = ^syncutils.AccessFlags(0)
		} else {
			rec.tracking.VisibilityMask[q] |= access.AccessMask
		}

		if needLayoutTransition {
			mb := pass.getOrCreateMemoryBarrier(id)
			mb.OldLayout = rec.tracking.Layout
			mb.NewLayout = access.InitialLayout
			mb.DstAccessMask |= access.AccessMask
			pass.SrcStageMask |= defaultStages(rec.tracking.Stages)
			pass.DstStageMask |= access.StageMask
			f.stats.LayoutTransitions++
		}
	}

	if rec.kind == ResourceKindImage {
		rec.tracking.Layout = access.FinalLayout
	}

	if access.AccessMask.IsWrite() {
		// Writing resets what is visible and leaves data to be made
		// available.
		for iq := range rec.tracking.VisibilityMask {
			rec.tracking.VisibilityMask[iq] = 0
		}
		rec.tracking.AvailabilityMask |= access.AccessMask
	}

	if isWrite {
		rec.tracking.Stages = access.StageMask
		rec.tracking.ClearReaders()
		rec.tracking.Writer = pass.SNN
	} else {
		rec.tracking.Readers.JoinSerial(pass.SNN)
		// Keep reader stages in the source mask so a later
		// write-after-read covers them.
		rec.tracking.Stages |= access.StageMask
	}

	pass.Accesses = append(pass.Accesses, ResourceAccess{
		Resource:   id,
		AccessMask: access.AccessMask,
	})
	return nil
}

// addMemoryDependency realizes a dependency from the source passes onto
// dstPass. A single in-frame source on the destination's own queue becomes a
// pipeline barrier, possibly hoisted onto an earlier pass whose execution
// barrier already covers the stages; anything else becomes timeline waits.
// Returns true when the dependency is (or already was) realized with
// semaphores.
func (c *Context) addMemoryDependency(f *Frame, dstPass *Pass, sources syncutils.QueueSerialNumbers, desc memoryDependencyDesc) bool {
	q := dstPass.SNN.Queue()

	if !sources.IsSingleSourceSameQueueAndFrame(q, f.baseSerial) {
		// Multiple sources, a source on another queue, or a source in an
		// older frame: timeline waits.
		for iq := 0; iq < syncutils.MaxQueues; iq++ {
			sn := sources.Serial(iq)
			if sn == 0 {
				continue
			}
			if f.semTable[q].Serial(iq) >= sn {
				// Already waited on, directly or through a later serial.
				continue
			}
			f.semTable[q][iq] = sn
			f.syncTable[q][iq] = sn

			if dstPass.WaitSerials[iq] < sn {
				dstPass.WaitSerials[iq] = sn
			}
			dstPass.WaitDstStages[iq] |= desc.dstStageMask
			f.stats.SemaphoreWaitCount++
			f.semaphores = append(f.semaphores, SemaphoreDep{
				Src:          syncutils.NewSubmissionNumber(iq, sn),
				Dst:          dstPass.SNN,
				DstStageMask: desc.dstStageMask,
			})

			if src := f.passBySerial(sn); src != nil && iq == src.SNN.Queue() {
				if !src.SignalTimeline {
					src.SignalTimeline = true
					f.stats.SignalCount++
				}
			}

			c.logger.Debug("timeline wait",
				slog.String("src", syncutils.NewSubmissionNumber(iq, sn).String()),
				slog.String("dst", dstPass.SNN.String()),
				slog.String("dstStages", desc.dstStageMask.String()))
		}
		return true
	}

	srcSerial := sources.Serial(q)
	if srcSerial == 0 {
		// First access: nothing to synchronize with.
		return false
	}

	if f.semTable[q].Serial(q) >= srcSerial {
		// A timeline wait already orders the source before this queue's
		// subsequent passes and makes its writes visible; no barrier
		// needed. Layout transitions are handled by the caller.
		return true
	}

	srcStages := defaultStages(desc.srcStageMask)
	dstStages := desc.dstStageMask

	// Look for a pass between source and destination whose execution
	// barrier already covers the dependency; otherwise the barrier lands on
	// the destination. Only directly-contained stages count: transitive
	// stage ordering across multiple hops is deliberately not considered
	// (the classic under-approximation of pass-granularity sync).
	barrierPass := dstPass
	for i := f.barrierSearchStart(srcSerial); i < len(f.passes); i++ {
		p := f.passes[i]
		if p.SNN == dstPass.SNN {
			break
		}
		if p.SNN.Queue() == q && p.HasBarrier() && p.SrcStageMask.Contains(srcStages) && p.DstStageMask.Contains(dstStages) {
			barrierPass = p
			break
		}
	}

	barrierPass.SrcStageMask |= srcStages
	barrierPass.DstStageMask |= dstStages

	mb := barrierPass.getOrCreateMemoryBarrier(desc.resource)
	if mb.SrcAccessMask&desc.srcAccessMask != desc.srcAccessMask ||
		mb.DstAccessMask&desc.dstAccessMask != desc.dstAccessMask {
		f.stats.BarrierCount++
	}
	mb.SrcAccessMask |= desc.srcAccessMask
	mb.DstAccessMask |= desc.dstAccessMask
	if desc.isImage {
		mb.OldLayout = desc.oldLayout
		mb.NewLayout = desc.newLayout
	}

	// A pipeline barrier orders everything submitted to the queue up to the
	// source before every pass from the barrier onward.
	if f.syncTable[q][q] < srcSerial {
		f.syncTable[q][q] = srcSerial
	}

	c.logger.Debug("pipeline barrier",
		slog.String("src", syncutils.NewSubmissionNumber(q, srcSerial).String()),
		slog.String("dst", dstPass.SNN.String()),
		slog.String("at", barrierPass.SNN.String()),
		slog.String("srcStages", srcStages.String()),
		slog.String("dstStages", dstStages.String()))
	return false
}

// barrierSearchStart returns the index of the first pass after the barrier's
// source pass.
func (f *Frame) barrierSearchStart(srcSerial uint64) int {
	index := f.localPassIndex(srcSerial) + 1
	if index < 0 {
		return 0
	}
	return index
}

// defaultStages substitutes top-of-pipe for an empty stage mask so emitted
// barriers always carry a valid execution scope.
func defaultStages(stages syncutils.PipelineStageFlags) syncutils.PipelineStageFlags {
	if stages == 0 {
		return syncutils.StageTopOfPipe
	}
	return stages
}
