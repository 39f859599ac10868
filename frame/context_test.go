package frame_test

import (
	"context"
	"encoding/json"
	"testing"

	cerrors "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/akervik/framegraph/frame"
	"github.com/akervik/framegraph/syncutils"
	"github.com/akervik/framegraph/syncutils/alias"
)

func newTestContext(t *testing.T, queues ...frame.QueueInfo) *frame.Context {
	t.Helper()
	ctx, err := frame.NewContext(frame.ContextCreateOptions{
		Queues: queues,
	})
	require.NoError(t, err)
	return ctx
}

func colorWrite() frame.ResourceAccessDetails {
	return frame.ResourceAccessDetails{
		AccessMask:    syncutils.AccessColorAttachmentWrite,
		StageMask:     syncutils.StageColorAttachmentOutput,
		InitialLayout: syncutils.ImageLayoutColorAttachmentOptimal,
		FinalLayout:   syncutils.ImageLayoutColorAttachmentOptimal,
	}
}

func fragmentSample() frame.ResourceAccessDetails {
	return frame.ResourceAccessDetails{
		AccessMask:    syncutils.AccessShaderRead,
		StageMask:     syncutils.StageFragmentShader,
		InitialLayout: syncutils.ImageLayoutShaderReadOnlyOptimal,
		FinalLayout:   syncutils.ImageLayoutShaderReadOnlyOptimal,
	}
}

func transferWrite() frame.ResourceAccessDetails {
	return frame.ResourceAccessDetails{
		AccessMask: syncutils.AccessTransferWrite,
		StageMask:  syncutils.StageTransfer,
	}
}

func computeRead() frame.ResourceAccessDetails {
	return frame.ResourceAccessDetails{
		AccessMask: syncutils.AccessShaderRead,
		StageMask:  syncutils.StageComputeShader,
	}
}

func TestReadAfterWriteSameQueueUsesBarrier(t *testing.T) {
	ctx := newTestContext(t)
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))

	img, err := ctx.CreateImage(frame.ImageCreateInfo{
		Name:     "color",
		Size:     1024,
		Lifetime: frame.LifetimeTransient,
	})
	require.NoError(t, err)

	_, err = ctx.AddPass("draw", 0, func(b *frame.PassBuilder) {
		b.ReferenceImage(img, colorWrite())
	})
	require.NoError(t, err)

	readSnn, err := ctx.AddPass("post", 0, func(b *frame.PassBuilder) {
		b.ReferenceImage(img, fragmentSample())
	})
	require.NoError(t, err)

	plan, err := ctx.EndFrame()
	require.NoError(t, err)

	// Same-queue dependencies never use semaphores.
	require.Empty(t, plan.Semaphores)
	require.Len(t, plan.PerQueue[0], 1)
	require.Len(t, plan.PerQueue[0][0].Passes, 2)

	read := plan.PerQueue[0][0].Passes[1]
	require.Equal(t, readSnn, read.SNN)
	require.True(t, read.HasBarrier())
	require.True(t, read.SrcStageMask.Contains(syncutils.StageColorAttachmentOutput))
	require.True(t, read.DstStageMask.Contains(syncutils.StageFragmentShader))

	require.Len(t, read.MemoryBarriers, 1)
	mb := read.MemoryBarriers[0]
	require.True(t, mb.SrcAccessMask.Contains(syncutils.AccessColorAttachmentWrite))
	require.True(t, mb.DstAccessMask.Contains(syncutils.AccessShaderRead))
	require.Equal(t, syncutils.ImageLayoutColorAttachmentOptimal, mb.OldLayout)
	require.Equal(t, syncutils.ImageLayoutShaderReadOnlyOptimal, mb.NewLayout)
}

func TestCrossQueueDependencyUsesTimelineSemaphore(t *testing.T) {
	ctx := newTestContext(t,
		frame.QueueInfo{Capabilities: syncutils.QueueGraphics | syncutils.QueueCompute | syncutils.QueueTransfer},
		frame.QueueInfo{Capabilities: syncutils.QueueCompute | syncutils.QueueTransfer},
	)
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))

	buf, err := ctx.CreateBuffer(frame.BufferCreateInfo{
		Name:     "staging",
		Size:     4096,
		Lifetime: frame.LifetimeTransient,
	})
	require.NoError(t, err)

	writeSnn, err := ctx.AddPass("upload", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf, transferWrite())
	})
	require.NoError(t, err)

	readSnn, err := ctx.AddPass("consume", 1, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf, computeRead())
	})
	require.NoError(t, err)

	plan, err := ctx.EndFrame()
	require.NoError(t, err)

	require.Len(t, plan.Semaphores, 1)
	require.Equal(t, writeSnn, plan.Semaphores[0].Src)
	require.Equal(t, readSnn, plan.Semaphores[0].Dst)
	require.True(t, plan.Semaphores[0].DstStageMask.Contains(syncutils.StageComputeShader))

	// The producer's batch signals its timeline, the consumer's waits.
	require.Len(t, plan.PerQueue[0], 1)
	require.Equal(t, writeSnn, plan.PerQueue[0][0].SignalSerial)
	require.Len(t, plan.PerQueue[1], 1)
	require.Equal(t, writeSnn.Serial(), plan.PerQueue[1][0].WaitSerials[0])
	require.True(t, plan.PerQueue[1][0].WaitDstStages[0].Contains(syncutils.StageComputeShader))
}

func TestCoveredAccessEmitsNoNewSynchronization(t *testing.T) {
	ctx := newTestContext(t)
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))

	buf, err := ctx.CreateBuffer(frame.BufferCreateInfo{
		Name:     "data",
		Size:     256,
		Lifetime: frame.LifetimeTransient,
	})
	require.NoError(t, err)

	_, err = ctx.AddPass("produce", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf, transferWrite())
	})
	require.NoError(t, err)
	_, err = ctx.AddPass("consumeA", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf, computeRead())
	})
	require.NoError(t, err)
	_, err = ctx.AddPass("consumeB", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf, computeRead())
	})
	require.NoError(t, err)

	plan, err := ctx.EndFrame()
	require.NoError(t, err)

	// The second read is covered by the barrier emitted for the first.
	require.Equal(t, 1, plan.Statistics.BarrierCount)
	require.Empty(t, plan.Semaphores)
	third := plan.PerQueue[0][0].Passes[2]
	require.False(t, third.HasBarrier())
}

func TestWriteAfterReadSynchronizesAgainstAllReaders(t *testing.T) {
	ctx := newTestContext(t)
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))

	buf, err := ctx.CreateBuffer(frame.BufferCreateInfo{
		Name:     "scratch",
		Size:     512,
		Lifetime: frame.LifetimeTransient,
	})
	require.NoError(t, err)

	_, err = ctx.AddPass("produce", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf, transferWrite())
	})
	require.NoError(t, err)
	readSnn, err := ctx.AddPass("read", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf, computeRead())
	})
	require.NoError(t, err)
	writeSnn, err := ctx.AddPass("overwrite", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf, transferWrite())
	})
	require.NoError(t, err)

	plan, err := ctx.EndFrame()
	require.NoError(t, err)

	// The overwrite must be ordered after the reader, and the execution
	// dependency must cover the reader's stages.
	over := plan.PerQueue[0][0].Passes[int(writeSnn.Serial()-1)]
	require.True(t, over.HasBarrier())
	require.True(t, over.SrcStageMask.Contains(syncutils.StageComputeShader))
	require.True(t, readSnn.Serial() < writeSnn.Serial())
}

func TestWriteAfterCrossQueueReadStillSynchronizes(t *testing.T) {
	ctx := newTestContext(t,
		frame.QueueInfo{Capabilities: syncutils.QueueGraphics | syncutils.QueueCompute | syncutils.QueueTransfer},
		frame.QueueInfo{Capabilities: syncutils.QueueCompute | syncutils.QueueTransfer},
	)
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))

	buf, err := ctx.CreateBuffer(frame.BufferCreateInfo{
		Name:     "staging",
		Size:     512,
		Lifetime: frame.LifetimeTransient,
	})
	require.NoError(t, err)

	_, err = ctx.AddPass("upload", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf, transferWrite())
	})
	require.NoError(t, err)
	readSnn, err := ctx.AddPass("read", 1, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf, computeRead())
	})
	require.NoError(t, err)
	_, err = ctx.AddPass("overwrite", 1, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf, transferWrite())
	})
	require.NoError(t, err)

	plan, err := ctx.EndFrame()
	require.NoError(t, err)

	// The semaphore consumed by the read makes the upload's data visible to
	// every access type on queue 1; the overwrite must still be ordered
	// after the read itself.
	require.Len(t, plan.PerQueue[1], 1)
	require.Len(t, plan.PerQueue[1][0].Passes, 2)
	over := plan.PerQueue[1][0].Passes[1]
	require.True(t, over.HasBarrier())
	require.True(t, over.SrcStageMask.Contains(syncutils.StageComputeShader))
	require.True(t, over.DstStageMask.Contains(syncutils.StageTransfer))
	require.True(t, readSnn.Serial() < over.SNN.Serial())
}

func TestDisjointTransientsShareMemory(t *testing.T) {
	ctx := newTestContext(t)
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))

	ping, err := ctx.CreateImage(frame.ImageCreateInfo{
		Name:     "ping",
		Size:     2048,
		Lifetime: frame.LifetimeTransient,
	})
	require.NoError(t, err)

	chain, err := ctx.CreateBuffer(frame.BufferCreateInfo{
		Name:     "chain",
		Size:     256,
		Lifetime: frame.LifetimeTransient,
	})
	require.NoError(t, err)
	pong, err := ctx.CreateImage(frame.ImageCreateInfo{
		Name:     "pong",
		Size:     2048,
		Lifetime: frame.LifetimeTransient,
	})
	require.NoError(t, err)

	// ping's last use is the blur pass, and the compose pass depends on
	// blur through the chain buffer, so pong's first write is causally
	// ordered after ping's death and the allocator can alias them.
	_, err = ctx.AddPass("writePing", 0, func(b *frame.PassBuilder) {
		b.ReferenceImage(ping, colorWrite())
	})
	require.NoError(t, err)
	_, err = ctx.AddPass("blur", 0, func(b *frame.PassBuilder) {
		b.ReferenceImage(ping, fragmentSample())
		b.ReferenceBuffer(chain, transferWrite())
	})
	require.NoError(t, err)
	_, err = ctx.AddPass("compose", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(chain, computeRead())
		b.ReferenceImage(pong, colorWrite())
	})
	require.NoError(t, err)

	plan, err := ctx.EndFrame()
	require.NoError(t, err)

	require.Len(t, plan.Bindings, 3)
	byName := map[string]frame.MemoryBinding{}
	for _, b := range plan.Bindings {
		byName[b.Name] = b
	}
	require.Equal(t, byName["ping"].Block, byName["pong"].Block)
	require.NotEqual(t, byName["ping"].Block, byName["chain"].Block)
}

func TestOverlappingTransientsDoNotShareMemory(t *testing.T) {
	ctx := newTestContext(t)
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))

	a, err := ctx.CreateBuffer(frame.BufferCreateInfo{Name: "a", Size: 128, Lifetime: frame.LifetimeTransient})
	require.NoError(t, err)
	b, err := ctx.CreateBuffer(frame.BufferCreateInfo{Name: "b", Size: 128, Lifetime: frame.LifetimeTransient})
	require.NoError(t, err)

	_, err = ctx.AddPass("both", 0, func(pb *frame.PassBuilder) {
		pb.ReferenceBuffer(a, transferWrite())
		pb.ReferenceBuffer(b, transferWrite())
	})
	require.NoError(t, err)

	plan, err := ctx.EndFrame()
	require.NoError(t, err)

	require.Len(t, plan.Bindings, 2)
	require.NotEqual(t, plan.Bindings[0].Block, plan.Bindings[1].Block)
}

func TestTransientHandleStaleAfterFlush(t *testing.T) {
	ctx := newTestContext(t)
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))

	buf, err := ctx.CreateBuffer(frame.BufferCreateInfo{Name: "temp", Size: 64, Lifetime: frame.LifetimeTransient})
	require.NoError(t, err)
	_, err = ctx.AddPass("use", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf, transferWrite())
	})
	require.NoError(t, err)
	_, err = ctx.EndFrame()
	require.NoError(t, err)

	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))
	_, err = ctx.AddPass("useAgain", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf, computeRead())
	})
	require.Error(t, err)
	require.True(t, cerrors.Is(err, syncutils.StaleHandleError))
	require.NoError(t, ctx.AbandonFrame())
}

func TestQueueCapabilityMismatch(t *testing.T) {
	ctx := newTestContext(t,
		frame.QueueInfo{Capabilities: syncutils.QueueGraphics | syncutils.QueueTransfer},
		frame.QueueInfo{Capabilities: syncutils.QueueTransfer},
	)
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))

	buf, err := ctx.CreateBuffer(frame.BufferCreateInfo{Name: "b", Size: 64, Lifetime: frame.LifetimeTransient})
	require.NoError(t, err)

	_, err = ctx.AddPass("computeOnTransfer", 1, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf, computeRead())
	})
	require.Error(t, err)
	require.True(t, cerrors.Is(err, syncutils.ConfigurationError))
	require.NoError(t, ctx.AbandonFrame())
}

func TestAbandonFrameRestoresTracking(t *testing.T) {
	ctx := newTestContext(t)

	img, err := ctx.CreateImage(frame.ImageCreateInfo{
		Name:     "history",
		Size:     4096,
		Lifetime: frame.LifetimePersistent,
	})
	require.NoError(t, err)

	// Frame 1 establishes a layout.
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))
	_, err = ctx.AddPass("init", 0, func(b *frame.PassBuilder) {
		b.ReferenceImage(img, colorWrite())
	})
	require.NoError(t, err)
	_, err = ctx.EndFrame()
	require.NoError(t, err)

	// Frame 2 transitions the layout, then gets abandoned.
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))
	_, err = ctx.AddPass("sample", 0, func(b *frame.PassBuilder) {
		b.ReferenceImage(img, fragmentSample())
	})
	require.NoError(t, err)
	require.NoError(t, ctx.AbandonFrame())

	// Frame 3 accesses the image in the layout frame 1 left behind. If the
	// abandoned frame's transition had leaked into the tracking state, this
	// access would not need a transition and the barrier masks would be
	// wrong.
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))
	sampleSnn, err := ctx.AddPass("sampleForReal", 0, func(b *frame.PassBuilder) {
		b.ReferenceImage(img, fragmentSample())
	})
	require.NoError(t, err)
	plan, err := ctx.EndFrame()
	require.NoError(t, err)

	pass := plan.PerQueue[0][0].Passes[0]
	require.Equal(t, sampleSnn, pass.SNN)
	require.Len(t, pass.MemoryBarriers, 1)
	require.Equal(t, syncutils.ImageLayoutColorAttachmentOptimal, pass.MemoryBarriers[0].OldLayout)
	require.Equal(t, syncutils.ImageLayoutShaderReadOnlyOptimal, pass.MemoryBarriers[0].NewLayout)

	require.NoError(t, ctx.DestroyResource(img.ResourceID))
	require.NoError(t, ctx.Destroy())
}

func TestFrameLifecycleErrors(t *testing.T) {
	ctx := newTestContext(t)

	_, err := ctx.AddPass("noFrame", 0, func(b *frame.PassBuilder) {})
	require.True(t, cerrors.Is(err, syncutils.FrameStateError))

	_, err = ctx.EndFrame()
	require.True(t, cerrors.Is(err, syncutils.FrameStateError))
	require.True(t, cerrors.Is(ctx.AbandonFrame(), syncutils.FrameStateError))

	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))
	require.True(t, cerrors.Is(ctx.BeginFrame(frame.FrameCreateInfo{}), syncutils.FrameStateError))

	// Transient resources cannot exist outside a frame.
	require.NoError(t, ctx.AbandonFrame())
	_, err = ctx.CreateBuffer(frame.BufferCreateInfo{Name: "t", Size: 64, Lifetime: frame.LifetimeTransient})
	require.True(t, cerrors.Is(err, syncutils.FrameStateError))
}

func TestHappensAfterOrdersFrames(t *testing.T) {
	ctx := newTestContext(t)

	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))
	buf, err := ctx.CreateBuffer(frame.BufferCreateInfo{Name: "f1", Size: 64, Lifetime: frame.LifetimeTransient})
	require.NoError(t, err)
	lastSnn, err := ctx.AddPass("work", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf, transferWrite())
	})
	require.NoError(t, err)
	_, err = ctx.EndFrame()
	require.NoError(t, err)

	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{
		HappensAfter: syncutils.QueueSerialsFromSubmission(lastSnn),
	}))
	buf2, err := ctx.CreateBuffer(frame.BufferCreateInfo{Name: "f2", Size: 64, Lifetime: frame.LifetimeTransient})
	require.NoError(t, err)
	_, err = ctx.AddPass("work2", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf2, transferWrite())
	})
	require.NoError(t, err)
	plan, err := ctx.EndFrame()
	require.NoError(t, err)

	require.Len(t, plan.PerQueue[0], 1)
	require.Equal(t, lastSnn.Serial(), plan.PerQueue[0][0].WaitSerials[0])
}

func TestHappensAfterRejectsUnsubmittedSerials(t *testing.T) {
	ctx := newTestContext(t)
	err := ctx.BeginFrame(frame.FrameCreateInfo{
		HappensAfter: syncutils.QueueSerialNumbers{99, 0, 0, 0},
	})
	require.True(t, cerrors.Is(err, syncutils.ConfigurationError))
}

func TestExternalSemaphoresPassThrough(t *testing.T) {
	ctx := newTestContext(t)
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))

	buf, err := ctx.CreateBuffer(frame.BufferCreateInfo{Name: "swap", Size: 64, Lifetime: frame.LifetimeTransient})
	require.NoError(t, err)

	wait := frame.ExternalSemaphoreWait{
		Handle:    0xfeed,
		Kind:      frame.SemaphoreWaitBinary,
		DstStages: syncutils.StageColorAttachmentOutput,
	}
	signal := frame.ExternalSemaphoreSignal{
		Handle: 0xbeef,
		Kind:   frame.SemaphoreSignalBinary,
	}

	_, err = ctx.AddPass("present", 0, func(b *frame.PassBuilder) {
		b.WaitExternal(wait)
		b.ReferenceBuffer(buf, transferWrite())
		b.SignalExternal(signal)
	})
	require.NoError(t, err)

	plan, err := ctx.EndFrame()
	require.NoError(t, err)

	require.Len(t, plan.PerQueue[0], 1)
	sub := plan.PerQueue[0][0]
	require.Equal(t, []frame.ExternalSemaphoreWait{wait}, sub.ExternalWaits)
	require.Equal(t, []frame.ExternalSemaphoreSignal{signal}, sub.ExternalSignals)
	// An external signal closes the batch with a timeline signal too, so
	// NotifyCompleted can be driven off the same submission.
	require.True(t, sub.SignalSerial.IsValid())
}

func TestSubmissionBatchSplitsOnWaits(t *testing.T) {
	ctx := newTestContext(t,
		frame.QueueInfo{Capabilities: syncutils.QueueGraphics | syncutils.QueueCompute | syncutils.QueueTransfer},
		frame.QueueInfo{Capabilities: syncutils.QueueCompute | syncutils.QueueTransfer},
	)
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))

	shared, err := ctx.CreateBuffer(frame.BufferCreateInfo{Name: "shared", Size: 256, Lifetime: frame.LifetimeTransient})
	require.NoError(t, err)
	local, err := ctx.CreateBuffer(frame.BufferCreateInfo{Name: "local", Size: 256, Lifetime: frame.LifetimeTransient})
	require.NoError(t, err)

	// Two passes on queue 0 with no waits batch together, then a pass that
	// waits on queue 1 forces a new batch.
	_, err = ctx.AddPass("a", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(local, transferWrite())
	})
	require.NoError(t, err)
	_, err = ctx.AddPass("b", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(local, computeRead())
	})
	require.NoError(t, err)
	_, err = ctx.AddPass("produce", 1, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(shared, transferWrite())
	})
	require.NoError(t, err)
	_, err = ctx.AddPass("consume", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(shared, computeRead())
	})
	require.NoError(t, err)

	plan, err := ctx.EndFrame()
	require.NoError(t, err)

	require.Len(t, plan.PerQueue[0], 2)
	require.Len(t, plan.PerQueue[0][0].Passes, 2)
	require.Len(t, plan.PerQueue[0][1].Passes, 1)
	require.Equal(t, "consume", plan.PerQueue[0][1].Passes[0].Name)
	require.Len(t, plan.PerQueue[1], 1)
}

func TestNotifyCompletedAndWaitForSerials(t *testing.T) {
	ctx := newTestContext(t)
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))

	buf, err := ctx.CreateBuffer(frame.BufferCreateInfo{Name: "b", Size: 64, Lifetime: frame.LifetimeTransient})
	require.NoError(t, err)
	snn, err := ctx.AddPass("work", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf, transferWrite())
	})
	require.NoError(t, err)
	_, err = ctx.EndFrame()
	require.NoError(t, err)

	require.NoError(t, ctx.NotifyCompleted(0, snn.Serial()))
	require.Equal(t, snn.Serial(), ctx.Completed().Serial(0))

	// Already-reached serials need no waiter.
	require.NoError(t, ctx.WaitForSerials(context.Background(), syncutils.QueueSerialsFromSubmission(snn)))

	// Unreached serials without a waiter are a configuration error.
	err = ctx.WaitForSerials(context.Background(), syncutils.QueueSerialNumbers{snn.Serial() + 1, 0, 0, 0})
	require.True(t, cerrors.Is(err, syncutils.ConfigurationError))
}

type recordingWaiter struct {
	waited []syncutils.QueueSerialNumbers
}

func (w *recordingWaiter) WaitForTimelines(_ context.Context, serials syncutils.QueueSerialNumbers) error {
	w.waited = append(w.waited, serials)
	return nil
}

func TestWaitForSerialsAdvancesFrontier(t *testing.T) {
	waiter := &recordingWaiter{}
	ctx, err := frame.NewContext(frame.ContextCreateOptions{Waiter: waiter})
	require.NoError(t, err)

	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))
	buf, err := ctx.CreateBuffer(frame.BufferCreateInfo{Name: "b", Size: 64, Lifetime: frame.LifetimeTransient})
	require.NoError(t, err)
	snn, err := ctx.AddPass("work", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf, transferWrite())
	})
	require.NoError(t, err)
	_, err = ctx.EndFrame()
	require.NoError(t, err)

	serials := syncutils.QueueSerialsFromSubmission(snn)
	require.NoError(t, ctx.WaitForSerials(context.Background(), serials))
	require.Equal(t, []syncutils.QueueSerialNumbers{serials}, waiter.waited)
	require.Equal(t, snn.Serial(), ctx.Completed().Serial(0))
}

func TestPersistentResourceTracksAcrossFrames(t *testing.T) {
	ctx := newTestContext(t)

	img, err := ctx.CreateImage(frame.ImageCreateInfo{
		Name:     "shadowMap",
		Size:     8192,
		Lifetime: frame.LifetimePersistent,
	})
	require.NoError(t, err)

	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))
	writeSnn, err := ctx.AddPass("render", 0, func(b *frame.PassBuilder) {
		b.ReferenceImage(img, colorWrite())
	})
	require.NoError(t, err)
	_, err = ctx.EndFrame()
	require.NoError(t, err)

	// The cross-frame read sees the write through a timeline wait: the
	// source lies in an earlier frame, so a barrier cannot express it.
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))
	_, err = ctx.AddPass("sample", 0, func(b *frame.PassBuilder) {
		b.ReferenceImage(img, fragmentSample())
	})
	require.NoError(t, err)
	plan, err := ctx.EndFrame()
	require.NoError(t, err)

	require.Len(t, plan.Semaphores, 1)
	require.Equal(t, writeSnn, plan.Semaphores[0].Src)

	require.NoError(t, ctx.DestroyResource(img.ResourceID))
	require.NoError(t, ctx.Destroy())
}

func TestDestroyResourceErrors(t *testing.T) {
	ctx := newTestContext(t)
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))

	buf, err := ctx.CreateBuffer(frame.BufferCreateInfo{Name: "t", Size: 64, Lifetime: frame.LifetimeTransient})
	require.NoError(t, err)
	err = ctx.DestroyResource(buf.ResourceID)
	require.True(t, cerrors.Is(err, syncutils.ConfigurationError))

	require.NoError(t, ctx.AbandonFrame())
	err = ctx.DestroyResource(buf.ResourceID)
	require.True(t, cerrors.Is(err, syncutils.StaleHandleError))
}

func TestDestroyReportsLeaks(t *testing.T) {
	ctx := newTestContext(t)
	_, err := ctx.CreateBuffer(frame.BufferCreateInfo{Name: "kept", Size: 64, Lifetime: frame.LifetimePersistent})
	require.NoError(t, err)
	require.Error(t, ctx.Destroy())
}

func TestPoolBudgetFailsFlush(t *testing.T) {
	ctx, err := frame.NewContext(frame.ContextCreateOptions{
		PoolOptions: alias.PoolCreateOptions{MaxBytes: 128},
	})
	require.NoError(t, err)

	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))
	buf, err := ctx.CreateBuffer(frame.BufferCreateInfo{Name: "huge", Size: 1024, Lifetime: frame.LifetimeTransient})
	require.NoError(t, err)
	_, err = ctx.AddPass("use", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(buf, transferWrite())
	})
	require.NoError(t, err)

	_, err = ctx.EndFrame()
	require.True(t, cerrors.Is(err, syncutils.ExhaustedPoolError))
}

func TestFailedFlushRollsBackFrameState(t *testing.T) {
	ctx, err := frame.NewContext(frame.ContextCreateOptions{
		PoolOptions: alias.PoolCreateOptions{MaxBytes: 512},
	})
	require.NoError(t, err)

	persistent, err := ctx.CreateBuffer(frame.BufferCreateInfo{Name: "history", Size: 256, Lifetime: frame.LifetimePersistent})
	require.NoError(t, err)

	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))
	huge, err := ctx.CreateBuffer(frame.BufferCreateInfo{Name: "huge", Size: 1024, Lifetime: frame.LifetimeTransient})
	require.NoError(t, err)
	_, err = ctx.AddPass("use", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(persistent, transferWrite())
		b.ReferenceBuffer(huge, transferWrite())
	})
	require.NoError(t, err)

	_, err = ctx.EndFrame()
	require.True(t, cerrors.Is(err, syncutils.ExhaustedPoolError))

	// The failed flush drops the frame and its transients so the caller can
	// retry with a smaller frame.
	require.Nil(t, ctx.CurrentFrame())
	err = ctx.DestroyResource(huge.ResourceID)
	require.True(t, cerrors.Is(err, syncutils.StaleHandleError))

	// The persistent resource's tracking was rolled back: the retry does
	// not synchronize against passes that were never submitted.
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))
	small, err := ctx.CreateBuffer(frame.BufferCreateInfo{Name: "small", Size: 128, Lifetime: frame.LifetimeTransient})
	require.NoError(t, err)
	_, err = ctx.AddPass("retry", 0, func(b *frame.PassBuilder) {
		b.ReferenceBuffer(persistent, transferWrite())
		b.ReferenceBuffer(small, transferWrite())
	})
	require.NoError(t, err)
	plan, err := ctx.EndFrame()
	require.NoError(t, err)
	require.Zero(t, plan.Statistics.BarrierCount)
	require.Empty(t, plan.Semaphores)

	require.NoError(t, ctx.DestroyResource(persistent.ResourceID))
	require.NoError(t, ctx.Destroy())
}

func TestDenseGraphMatchesDefault(t *testing.T) {
	for _, flags := range []frame.ContextCreateFlags{0, frame.ContextCreateDenseGraph} {
		ctx, err := frame.NewContext(frame.ContextCreateOptions{Flags: flags})
		require.NoError(t, err)

		require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))
		buf, err := ctx.CreateBuffer(frame.BufferCreateInfo{Name: "b", Size: 64, Lifetime: frame.LifetimeTransient})
		require.NoError(t, err)
		_, err = ctx.AddPass("w", 0, func(b *frame.PassBuilder) {
			b.ReferenceBuffer(buf, transferWrite())
		})
		require.NoError(t, err)
		_, err = ctx.AddPass("r", 0, func(b *frame.PassBuilder) {
			b.ReferenceBuffer(buf, computeRead())
		})
		require.NoError(t, err)

		plan, err := ctx.EndFrame()
		require.NoError(t, err)
		require.Equal(t, 1, plan.Statistics.BarrierCount)
	}
}

func TestPlanJsonDump(t *testing.T) {
	ctx := newTestContext(t)
	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))

	img, err := ctx.CreateImage(frame.ImageCreateInfo{Name: "color", Size: 1024, Lifetime: frame.LifetimeTransient})
	require.NoError(t, err)
	_, err = ctx.AddPass("draw", 0, func(b *frame.PassBuilder) {
		b.ReferenceImage(img, colorWrite())
	})
	require.NoError(t, err)
	_, err = ctx.AddPass("post", 0, func(b *frame.PassBuilder) {
		b.ReferenceImage(img, fragmentSample())
	})
	require.NoError(t, err)

	plan, err := ctx.EndFrame()
	require.NoError(t, err)

	dump := plan.BuildDumpString()
	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(dump), &parsed))
	require.Equal(t, float64(1), parsed["Frame"])

	queues, ok := parsed["Queues"].([]any)
	require.True(t, ok)
	require.Len(t, queues, syncutils.MaxQueues)

	bindings, ok := parsed["Bindings"].([]any)
	require.True(t, ok)
	require.Len(t, bindings, 1)
}

func TestBuildFrameDumpString(t *testing.T) {
	ctx := newTestContext(t)

	_, err := ctx.BuildFrameDumpString()
	require.ErrorIs(t, err, syncutils.FrameStateError)

	require.NoError(t, ctx.BeginFrame(frame.FrameCreateInfo{}))
	img, err := ctx.CreateImage(frame.ImageCreateInfo{Name: "color", Size: 1024, Lifetime: frame.LifetimeTransient})
	require.NoError(t, err)
	_, err = ctx.AddPass("draw", 0, func(b *frame.PassBuilder) {
		b.ReferenceImage(img, colorWrite())
	})
	require.NoError(t, err)

	dump, err := ctx.BuildFrameDumpString()
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(dump), &parsed))
	require.Equal(t, "FrameStateBuilding", parsed["State"])

	passes, ok := parsed["Passes"].([]any)
	require.True(t, ok)
	require.Len(t, passes, 1)
}
