package vulkan

import (
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/akervik/framegraph/frame"
)

// wholeSize is VK_WHOLE_SIZE: the barrier covers the buffer from Offset to
// its end.
const wholeSize = -1

// ResourceResolver maps tracked resource handles to the Vulkan objects the
// caller created for them. Transient resources are typically resolved
// through the frame's memory bindings.
type ResourceResolver interface {
	// Image returns the Vulkan image for a tracked image resource, with the
	// subresource range its barriers should cover.
	Image(id frame.ResourceID) (core1_0.Image, core1_0.ImageSubresourceRange, bool)
	// Buffer returns the Vulkan buffer for a tracked buffer resource.
	Buffer(id frame.ResourceID) (core1_0.Buffer, bool)
}

// PassBarrier is the pre-execution pipeline barrier of one pass, translated
// into the argument lists of CmdPipelineBarrier.
type PassBarrier struct {
	SrcStageMask core1_0.PipelineStageFlags
	DstStageMask core1_0.PipelineStageFlags

	MemoryBarriers       []core1_0.MemoryBarrier
	BufferMemoryBarriers []core1_0.BufferMemoryBarrier
	ImageMemoryBarriers  []core1_0.ImageMemoryBarrier
}

// IsEmpty reports whether recording the barrier would be a no-op.
func (b *PassBarrier) IsEmpty() bool {
	return b.SrcStageMask == 0 && b.DstStageMask == 0 &&
		len(b.MemoryBarriers) == 0 && len(b.BufferMemoryBarriers) == 0 && len(b.ImageMemoryBarriers) == 0
}

// BuildPassBarrier translates a pass's synchronization directives into
// Vulkan barrier structures. Memory barriers on resources the resolver
// cannot map degrade to global memory barriers, which is always correct,
// just coarser.
func BuildPassBarrier(p *frame.Pass, resolver ResourceResolver) PassBarrier {
	out := PassBarrier{
		SrcStageMask: PipelineStageFlags(p.SrcStageMask),
		DstStageMask: PipelineStageFlags(p.DstStageMask),
	}

	for i := range p.MemoryBarriers {
		mb := &p.MemoryBarriers[i]
		srcAccess := AccessFlags(mb.SrcAccessMask)
		dstAccess := AccessFlags(mb.DstAccessMask)

		if image, subresource, ok := resolver.Image(mb.Resource); ok {
			// Queue family index -1 is VK_QUEUE_FAMILY_IGNORED: ownership
			// transfers are handled through timeline semaphores, not
			// barriers.
			out.ImageMemoryBarriers = append(out.ImageMemoryBarriers, core1_0.ImageMemoryBarrier{
				SrcAccessMask:       srcAccess,
				DstAccessMask:       dstAccess,
				OldLayout:           ImageLayout(mb.OldLayout),
				NewLayout:           ImageLayout(mb.NewLayout),
				SrcQueueFamilyIndex: -1,
				DstQueueFamilyIndex: -1,
				Image:               image,
				SubresourceRange:    subresource,
			})
			continue
		}
		if buffer, ok := resolver.Buffer(mb.Resource); ok {
			out.BufferMemoryBarriers = append(out.BufferMemoryBarriers, core1_0.BufferMemoryBarrier{
				SrcAccessMask:       srcAccess,
				DstAccessMask:       dstAccess,
				SrcQueueFamilyIndex: -1,
				DstQueueFamilyIndex: -1,
				Buffer:              buffer,
				Offset:              0,
				Size:                wholeSize,
			})
			continue
		}
		out.MemoryBarriers = append(out.MemoryBarriers, core1_0.MemoryBarrier{
			SrcAccessMask: srcAccess,
			DstAccessMask: dstAccess,
		})
	}

	return out
}
