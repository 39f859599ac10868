package vulkan

import (
	"context"
	"time"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_timeline_semaphore"

	"github.com/akervik/framegraph/frame"
	"github.com/akervik/framegraph/syncutils"
)

// QueueTimelines holds one timeline semaphore per queue. The semaphore of
// queue q carries the serial of the last completed pass on q: signaling
// value v means every pass with serial v or lower on that queue has
// finished.
type QueueTimelines struct {
	device     core1_0.Device
	extension  khr_timeline_semaphore.Extension
	semaphores []core1_0.Semaphore
}

// NewQueueTimelines wraps existing timeline semaphores, one per queue in
// queue-index order. The semaphores must have been created with an initial
// value of 0.
func NewQueueTimelines(device core1_0.Device, extension khr_timeline_semaphore.Extension, semaphores []core1_0.Semaphore) (*QueueTimelines, error) {
	if len(semaphores) == 0 || len(semaphores) > syncutils.MaxQueues {
		return nil, cerrors.Wrapf(syncutils.ConfigurationError, "%d timeline semaphores provided, expected between 1 and %d", len(semaphores), syncutils.MaxQueues)
	}
	return &QueueTimelines{
		device:     device,
		extension:  extension,
		semaphores: semaphores,
	}, nil
}

// Semaphore returns the timeline semaphore of one queue.
func (t *QueueTimelines) Semaphore(queue int) core1_0.Semaphore {
	return t.semaphores[queue]
}

// WaitForTimelines blocks until every queue's timeline reaches its serial.
// Zero serials are skipped. The context's deadline bounds the wait.
func (t *QueueTimelines) WaitForTimelines(ctx context.Context, serials syncutils.QueueSerialNumbers) error {
	var semaphores []core1_0.Semaphore
	var values []uint64
	for q := 0; q < len(t.semaphores); q++ {
		if serials[q] == 0 {
			continue
		}
		semaphores = append(semaphores, t.semaphores[q])
		values = append(values, serials[q])
	}
	if len(semaphores) == 0 {
		return nil
	}

	timeout := common.NoTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	res, err := t.extension.WaitSemaphores(t.device, timeout, khr_timeline_semaphore.SemaphoreWaitInfo{
		Semaphores: semaphores,
		Values:     values,
	})
	if err != nil {
		return cerrors.Wrapf(err, "waiting for queue timelines %v", serials)
	}
	if res == core1_0.VKTimeout {
		return cerrors.Wrapf(ctx.Err(), "queue timelines %v not reached before deadline", serials)
	}
	return nil
}

var _ frame.TimelineWaiter = &QueueTimelines{}

// SubmitInfo assembles the core submit description for one batch: the
// timeline waits and signal of the batch paired with the caller's command
// buffers. External binary semaphore waits and signals are appended after
// the timeline entries, in batch order.
func (t *QueueTimelines) SubmitInfo(sub *frame.QueueSubmission, commandBuffers []core1_0.CommandBuffer) core1_0.SubmitInfo {
	var waitSemaphores []core1_0.Semaphore
	var waitValues []uint64
	var waitStages []core1_0.PipelineStageFlags
	for q := 0; q < len(t.semaphores); q++ {
		if sub.WaitSerials[q] == 0 {
			continue
		}
		waitSemaphores = append(waitSemaphores, t.semaphores[q])
		waitValues = append(waitValues, sub.WaitSerials[q])
		waitStages = append(waitStages, PipelineStageFlags(sub.WaitDstStages[q]))
	}

	var signalSemaphores []core1_0.Semaphore
	var signalValues []uint64
	if sub.SignalSerial.IsValid() {
		signalSemaphores = append(signalSemaphores, t.semaphores[sub.SignalSerial.Queue()])
		signalValues = append(signalValues, sub.SignalSerial.Serial())
	}

	return core1_0.SubmitInfo{
		CommandBuffers:   commandBuffers,
		WaitSemaphores:   waitSemaphores,
		WaitDstStageMask: waitStages,
		SignalSemaphores: signalSemaphores,
		NextOptions: common.NextOptions{
			Next: khr_timeline_semaphore.TimelineSemaphoreSubmitInfo{
				WaitSemaphoreValues:   waitValues,
				SignalSemaphoreValues: signalValues,
			},
		},
	}
}
