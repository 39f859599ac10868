package frame

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/akervik/framegraph/syncutils"
)

// SemaphoreDep is one cross-queue execution dependency realized as a
// timeline semaphore signal/wait pair.
type SemaphoreDep struct {
	// Src is the pass whose queue timeline must reach Src.Serial().
	Src syncutils.SubmissionNumber
	// Dst is the pass that waits.
	Dst syncutils.SubmissionNumber
	// DstStageMask is the stages blocked by the wait.
	DstStageMask syncutils.PipelineStageFlags
}

// MemoryBinding maps a resource to an offset within a pooled memory block.
type MemoryBinding struct {
	Resource ResourceID
	Name     string
	Block    int
	Offset   int
}

// QueueSubmission batches consecutive passes of one queue that can go into a
// single submit call: it opens with the union of the passes' timeline waits
// and closes with at most one timeline signal. This is the second kind of
// batch, distinct from Frame.
type QueueSubmission struct {
	Queue  int
	Passes []*Pass

	WaitSerials   syncutils.QueueSerialNumbers
	WaitDstStages [syncutils.MaxQueues]syncutils.PipelineStageFlags
	ExternalWaits []ExternalSemaphoreWait

	// SignalSerial is the timeline value to signal on the queue after the
	// batch, or invalid when nothing waits on it.
	SignalSerial    syncutils.SubmissionNumber
	ExternalSignals []ExternalSemaphoreSignal
}

// IsEmpty reports whether the submission carries neither passes nor signal
// operations.
func (s *QueueSubmission) IsEmpty() bool {
	return len(s.Passes) == 0 && !s.SignalSerial.IsValid() && len(s.ExternalSignals) == 0
}

// SubmissionPlan is the flushed form of a frame: everything the external
// command-recording and submission layer needs, in submission order per
// queue.
type SubmissionPlan struct {
	Frame      syncutils.FrameNumber
	BaseSerial uint64

	// PerQueue holds the ordered submissions of each queue.
	PerQueue [syncutils.MaxQueues][]QueueSubmission
	// Semaphores lists every cross-queue signal/wait pair of the frame.
	Semaphores []SemaphoreDep
	// Bindings maps each transient resource of the frame to pool memory.
	Bindings []MemoryBinding

	Statistics syncutils.SyncStatistics
}

// buildSubmissions slices the frame's pass list into per-queue submission
// batches. A pass that waits opens a new batch; a pass that signals closes
// one.
func buildSubmissions(f *Frame) [syncutils.MaxQueues][]QueueSubmission {
	var perQueue [syncutils.MaxQueues][]QueueSubmission

	var open [syncutils.MaxQueues]*QueueSubmission
	flush := func(q int) {
		if open[q] != nil && !open[q].IsEmpty() {
			perQueue[q] = append(perQueue[q], *open[q])
		}
		open[q] = nil
	}

	for _, p := range f.passes {
		q := p.SNN.Queue()
		if open[q] == nil {
			open[q] = &QueueSubmission{Queue: q}
			if len(perQueue[q]) == 0 {
				// The frame-level wait attaches to the first submission
				// of each queue.
				for iq := 0; iq < syncutils.MaxQueues; iq++ {
					if f.initialWaits[iq] != 0 {
						open[q].WaitSerials[iq] = f.initialWaits[iq]
						open[q].WaitDstStages[iq] = syncutils.StageAllCommands
					}
				}
			}
		} else if p.HasWaits() {
			flush(q)
			open[q] = &QueueSubmission{Queue: q}
		}

		batch := open[q]
		batch.Passes = append(batch.Passes, p)
		batch.WaitSerials.JoinAssign(p.WaitSerials)
		for iq := 0; iq < syncutils.MaxQueues; iq++ {
			batch.WaitDstStages[iq] |= p.WaitDstStages[iq]
		}
		batch.ExternalWaits = append(batch.ExternalWaits, p.ExternalWaits...)
		batch.ExternalSignals = append(batch.ExternalSignals, p.ExternalSignals...)

		if p.SignalTimeline || len(p.ExternalSignals) > 0 {
			batch.SignalSerial = p.SNN
			flush(q)
		}
	}
	for q := 0; q < syncutils.MaxQueues; q++ {
		// The last batch of each queue always signals the queue timeline.
		// Later frames wait on arbitrary serials of this frame, and a
		// timeline at value v covers every lower serial of the queue, so
		// signaling the last serial is enough.
		if open[q] != nil && len(open[q].Passes) > 0 && !open[q].SignalSerial.IsValid() {
			open[q].SignalSerial = open[q].Passes[len(open[q].Passes)-1].SNN
		}
		flush(q)
	}
	return perQueue
}

// BuildDumpString returns the plan as a JSON string for frame debugging.
func (plan *SubmissionPlan) BuildDumpString() string {
	writer := jwriter.NewWriter()
	plan.DumpJson(&writer)
	return string(writer.Bytes())
}

// DumpJson writes the plan in a machine-readable form for frame debugging.
func (plan *SubmissionPlan) DumpJson(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	obj.Name("Frame").Int(int(plan.Frame))
	obj.Name("BaseSerial").Int(int(plan.BaseSerial))

	queues := obj.Name("Queues").Array()
	for q := 0; q < syncutils.MaxQueues; q++ {
		queueArr := queues.Array()
		for i := range plan.PerQueue[q] {
			sub := &plan.PerQueue[q][i]
			subObj := queueArr.Object()
			waits := subObj.Name("WaitSerials").Array()
			for iq := 0; iq < syncutils.MaxQueues; iq++ {
				waits.Int(int(sub.WaitSerials[iq]))
			}
			waits.End()
			if sub.SignalSerial.IsValid() {
				subObj.Name("Signal").String(sub.SignalSerial.String())
			}
			passes := subObj.Name("Passes").Array()
			for _, p := range sub.Passes {
				passJsonData(passes.Object(), p)
			}
			passes.End()
			subObj.End()
		}
		queueArr.End()
	}
	queues.End()

	semaphores := obj.Name("Semaphores").Array()
	for i := range plan.Semaphores {
		dep := &plan.Semaphores[i]
		depObj := semaphores.Object()
		depObj.Name("Src").String(dep.Src.String())
		depObj.Name("Dst").String(dep.Dst.String())
		depObj.Name("DstStageMask").String(dep.DstStageMask.String())
		depObj.End()
	}
	semaphores.End()

	bindings := obj.Name("Bindings").Array()
	for i := range plan.Bindings {
		b := &plan.Bindings[i]
		bindObj := bindings.Object()
		bindObj.Name("Name").String(b.Name)
		bindObj.Name("Block").Int(b.Block)
		bindObj.Name("Offset").Int(b.Offset)
		bindObj.End()
	}
	bindings.End()
}

// DumpJson writes the frame's registered passes in a machine-readable form
// for frame debugging.
func (f *Frame) DumpJson(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	obj.Name("Frame").Int(int(f.number))
	obj.Name("BaseSerial").Int(int(f.baseSerial))
	obj.Name("State").String(f.state.String())

	passes := obj.Name("Passes").Array()
	for _, p := range f.passes {
		passJsonData(passes.Object(), p)
	}
	passes.End()
}

func passJsonData(obj jwriter.ObjectState, p *Pass) {
	defer obj.End()

	obj.Name("Name").String(p.Name)
	obj.Name("Snn").String(p.SNN.String())
	obj.Name("SrcStageMask").String(p.SrcStageMask.String())
	obj.Name("DstStageMask").String(p.DstStageMask.String())
	obj.Name("SignalTimeline").Bool(p.SignalTimeline)

	barriers := obj.Name("MemoryBarriers").Array()
	for i := range p.MemoryBarriers {
		mb := &p.MemoryBarriers[i]
		mbObj := barriers.Object()
		mbObj.Name("SrcAccessMask").String(mb.SrcAccessMask.String())
		mbObj.Name("DstAccessMask").String(mb.DstAccessMask.String())
		if mb.OldLayout != mb.NewLayout {
			mbObj.Name("OldLayout").String(mb.OldLayout.String())
			mbObj.Name("NewLayout").String(mb.NewLayout.String())
		}
		mbObj.End()
	}
	barriers.End()
}
