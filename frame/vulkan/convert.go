package vulkan

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"

	"github.com/akervik/framegraph/syncutils"
)

var accessMapping = map[syncutils.AccessFlags]core1_0.AccessFlags{
	syncutils.AccessIndirectCommandRead:         core1_0.AccessIndirectCommandRead,
	syncutils.AccessIndexRead:                   core1_0.AccessIndexRead,
	syncutils.AccessVertexAttributeRead:         core1_0.AccessVertexAttributeRead,
	syncutils.AccessUniformRead:                 core1_0.AccessUniformRead,
	syncutils.AccessInputAttachmentRead:         core1_0.AccessInputAttachmentRead,
	syncutils.AccessShaderRead:                  core1_0.AccessShaderRead,
	syncutils.AccessShaderWrite:                 core1_0.AccessShaderWrite,
	syncutils.AccessColorAttachmentRead:         core1_0.AccessColorAttachmentRead,
	syncutils.AccessColorAttachmentWrite:        core1_0.AccessColorAttachmentWrite,
	syncutils.AccessDepthStencilAttachmentRead:  core1_0.AccessDepthStencilAttachmentRead,
	syncutils.AccessDepthStencilAttachmentWrite: core1_0.AccessDepthStencilAttachmentWrite,
	syncutils.AccessTransferRead:                core1_0.AccessTransferRead,
	syncutils.AccessTransferWrite:               core1_0.AccessTransferWrite,
	syncutils.AccessHostRead:                    core1_0.AccessHostRead,
	syncutils.AccessHostWrite:                   core1_0.AccessHostWrite,
	syncutils.AccessMemoryRead:                  core1_0.AccessMemoryRead,
	syncutils.AccessMemoryWrite:                 core1_0.AccessMemoryWrite,
}

var stageMapping = map[syncutils.PipelineStageFlags]core1_0.PipelineStageFlags{
	syncutils.StageTopOfPipe:             core1_0.PipelineStageTopOfPipe,
	syncutils.StageDrawIndirect:          core1_0.PipelineStageDrawIndirect,
	syncutils.StageVertexInput:           core1_0.PipelineStageVertexInput,
	syncutils.StageVertexShader:          core1_0.PipelineStageVertexShader,
	syncutils.StageFragmentShader:        core1_0.PipelineStageFragmentShader,
	syncutils.StageEarlyFragmentTests:    core1_0.PipelineStageEarlyFragmentTests,
	syncutils.StageLateFragmentTests:     core1_0.PipelineStageLateFragmentTests,
	syncutils.StageColorAttachmentOutput: core1_0.PipelineStageColorAttachmentOutput,
	syncutils.StageComputeShader:         core1_0.PipelineStageComputeShader,
	syncutils.StageTransfer:              core1_0.PipelineStageTransfer,
	syncutils.StageBottomOfPipe:          core1_0.PipelineStageBottomOfPipe,
	syncutils.StageHost:                  core1_0.PipelineStageHost,
	syncutils.StageAllGraphics:           core1_0.PipelineStageAllGraphics,
	syncutils.StageAllCommands:           core1_0.PipelineStageAllCommands,
}

var imageLayoutMapping = map[syncutils.ImageLayout]core1_0.ImageLayout{
	syncutils.ImageLayoutUndefined:                     core1_0.ImageLayoutUndefined,
	syncutils.ImageLayoutGeneral:                       core1_0.ImageLayoutGeneral,
	syncutils.ImageLayoutColorAttachmentOptimal:        core1_0.ImageLayoutColorAttachmentOptimal,
	syncutils.ImageLayoutDepthStencilAttachmentOptimal: core1_0.ImageLayoutDepthStencilAttachmentOptimal,
	syncutils.ImageLayoutShaderReadOnlyOptimal:         core1_0.ImageLayoutShaderReadOnlyOptimal,
	syncutils.ImageLayoutTransferSrcOptimal:            core1_0.ImageLayoutTransferSrcOptimal,
	syncutils.ImageLayoutTransferDstOptimal:            core1_0.ImageLayoutTransferDstOptimal,
	syncutils.ImageLayoutPresentSrc:                    khr_swapchain.ImageLayoutPresentSrc,
}

// AccessFlags converts a tracked access mask into its Vulkan counterpart.
func AccessFlags(flags syncutils.AccessFlags) core1_0.AccessFlags {
	var out core1_0.AccessFlags
	for bit, vk := range accessMapping {
		if flags&bit != 0 {
			out |= vk
		}
	}
	return out
}

// PipelineStageFlags converts a tracked stage mask into its Vulkan
// counterpart.
func PipelineStageFlags(flags syncutils.PipelineStageFlags) core1_0.PipelineStageFlags {
	var out core1_0.PipelineStageFlags
	for bit, vk := range stageMapping {
		if flags&bit != 0 {
			out |= vk
		}
	}
	return out
}

// ImageLayout converts a tracked image layout into its Vulkan counterpart.
func ImageLayout(layout syncutils.ImageLayout) core1_0.ImageLayout {
	return imageLayoutMapping[layout]
}
