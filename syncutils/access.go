package syncutils

import "strings"

// AccessFlags is a bitmask of memory access types, modeled on
// VkAccessFlagBits. Access masks appear in two roles: declared accesses on
// pass registrations, and availability/visibility tracking state on
// resources.
type AccessFlags uint32

const (
	AccessIndirectCommandRead AccessFlags = 1 << iota
	AccessIndexRead
	AccessVertexAttributeRead
	AccessUniformRead
	AccessInputAttachmentRead
	AccessShaderRead
	AccessShaderWrite
	AccessColorAttachmentRead
	AccessColorAttachmentWrite
	AccessDepthStencilAttachmentRead
	AccessDepthStencilAttachmentWrite
	AccessTransferRead
	AccessTransferWrite
	AccessHostRead
	AccessHostWrite
	AccessMemoryRead
	AccessMemoryWrite

	// AccessWriteMask selects all write access types.
	AccessWriteMask = AccessShaderWrite | AccessColorAttachmentWrite |
		AccessDepthStencilAttachmentWrite | AccessTransferWrite |
		AccessHostWrite | AccessMemoryWrite
)

var accessFlagsMapping = map[AccessFlags]string{
	AccessIndirectCommandRead:         "AccessIndirectCommandRead",
	AccessIndexRead:                   "AccessIndexRead",
	AccessVertexAttributeRead:         "AccessVertexAttributeRead",
	AccessUniformRead:                 "AccessUniformRead",
	AccessInputAttachmentRead:         "AccessInputAttachmentRead",
	AccessShaderRead:                  "AccessShaderRead",
	AccessShaderWrite:                 "AccessShaderWrite",
	AccessColorAttachmentRead:         "AccessColorAttachmentRead",
	AccessColorAttachmentWrite:        "AccessColorAttachmentWrite",
	AccessDepthStencilAttachmentRead:  "AccessDepthStencilAttachmentRead",
	AccessDepthStencilAttachmentWrite: "AccessDepthStencilAttachmentWrite",
	AccessTransferRead:                "AccessTransferRead",
	AccessTransferWrite:               "AccessTransferWrite",
	AccessHostRead:                    "AccessHostRead",
	AccessHostWrite:                   "AccessHostWrite",
	AccessMemoryRead:                  "AccessMemoryRead",
	AccessMemoryWrite:                 "AccessMemoryWrite",
}

func (f AccessFlags) String() string {
	return flagsString(uint32(f), func(bit uint32) string {
		return accessFlagsMapping[AccessFlags(bit)]
	})
}

// IsWrite reports whether the mask contains any write access type. Layout
// transitions are treated as writes separately, by the dependency tracker.
func (f AccessFlags) IsWrite() bool {
	return f&AccessWriteMask != 0
}

// Contains reports whether every bit of other is set in f.
func (f AccessFlags) Contains(other AccessFlags) bool {
	return f&other == other
}

// PipelineStageFlags is a bitmask of pipeline stages, modeled on
// VkPipelineStageFlagBits.
type PipelineStageFlags uint32

const (
	StageTopOfPipe PipelineStageFlags = 1 << iota
	StageDrawIndirect
	StageVertexInput
	StageVertexShader
	StageFragmentShader
	StageEarlyFragmentTests
	StageLateFragmentTests
	StageColorAttachmentOutput
	StageComputeShader
	StageTransfer
	StageBottomOfPipe
	StageHost
	StageAllGraphics
	StageAllCommands
)

var pipelineStageFlagsMapping = map[PipelineStageFlags]string{
	StageTopOfPipe:             "StageTopOfPipe",
	StageDrawIndirect:          "StageDrawIndirect",
	StageVertexInput:           "StageVertexInput",
	StageVertexShader:          "StageVertexShader",
	StageFragmentShader:        "StageFragmentShader",
	StageEarlyFragmentTests:    "StageEarlyFragmentTests",
	StageLateFragmentTests:     "StageLateFragmentTests",
	StageColorAttachmentOutput: "StageColorAttachmentOutput",
	StageComputeShader:         "StageComputeShader",
	StageTransfer:              "StageTransfer",
	StageBottomOfPipe:          "StageBottomOfPipe",
	StageHost:                  "StageHost",
	StageAllGraphics:           "StageAllGraphics",
	StageAllCommands:           "StageAllCommands",
}

func (f PipelineStageFlags) String() string {
	return flagsString(uint32(f), func(bit uint32) string {
		return pipelineStageFlagsMapping[PipelineStageFlags(bit)]
	})
}

// Contains reports whether every bit of other is set in f.
func (f PipelineStageFlags) Contains(other PipelineStageFlags) bool {
	return f&other == other
}

// ImageLayout describes the memory layout an image is kept in, modeled on
// VkImageLayout. A mismatch between the tracked layout and the layout an
// access requires forces a layout transition, which synchronizes like a
// write.
type ImageLayout uint32

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutGeneral
	ImageLayoutColorAttachmentOptimal
	ImageLayoutDepthStencilAttachmentOptimal
	ImageLayoutShaderReadOnlyOptimal
	ImageLayoutTransferSrcOptimal
	ImageLayoutTransferDstOptimal
	ImageLayoutPresentSrc
)

var imageLayoutMapping = map[ImageLayout]string{
	ImageLayoutUndefined:                     "ImageLayoutUndefined",
	ImageLayoutGeneral:                       "ImageLayoutGeneral",
	ImageLayoutColorAttachmentOptimal:        "ImageLayoutColorAttachmentOptimal",
	ImageLayoutDepthStencilAttachmentOptimal: "ImageLayoutDepthStencilAttachmentOptimal",
	ImageLayoutShaderReadOnlyOptimal:         "ImageLayoutShaderReadOnlyOptimal",
	ImageLayoutTransferSrcOptimal:            "ImageLayoutTransferSrcOptimal",
	ImageLayoutTransferDstOptimal:            "ImageLayoutTransferDstOptimal",
	ImageLayoutPresentSrc:                    "ImageLayoutPresentSrc",
}

func (l ImageLayout) String() string {
	return imageLayoutMapping[l]
}

// QueueFlags describes the capabilities of a queue.
type QueueFlags uint32

const (
	QueueGraphics QueueFlags = 1 << iota
	QueueCompute
	QueueTransfer
)

var queueFlagsMapping = map[QueueFlags]string{
	QueueGraphics: "QueueGraphics",
	QueueCompute:  "QueueCompute",
	QueueTransfer: "QueueTransfer",
}

func (f QueueFlags) String() string {
	return flagsString(uint32(f), func(bit uint32) string {
		return queueFlagsMapping[QueueFlags(bit)]
	})
}

// stageCapabilities maps each pipeline stage to the queue capabilities that
// can execute it. Stages that any queue can execute map to zero.
var stageCapabilities = map[PipelineStageFlags]QueueFlags{
	StageDrawIndirect:          QueueGraphics | QueueCompute,
	StageVertexInput:           QueueGraphics,
	StageVertexShader:          QueueGraphics,
	StageFragmentShader:        QueueGraphics,
	StageEarlyFragmentTests:    QueueGraphics,
	StageLateFragmentTests:     QueueGraphics,
	StageColorAttachmentOutput: QueueGraphics,
	StageComputeShader:         QueueCompute,
	StageTransfer:              QueueGraphics | QueueCompute | QueueTransfer,
	StageAllGraphics:           QueueGraphics,
}

// CheckStageSupported reports whether a queue with the given capabilities can
// execute all stages in the mask.
func CheckStageSupported(capabilities QueueFlags, stages PipelineStageFlags) bool {
	for bit := PipelineStageFlags(1); bit <= stages; bit <<= 1 {
		if stages&bit == 0 {
			continue
		}
		required, ok := stageCapabilities[bit]
		if !ok || required == 0 {
			continue
		}
		if capabilities&required == 0 {
			return false
		}
	}
	return true
}

func flagsString(flags uint32, name func(bit uint32) string) string {
	if flags == 0 {
		return "0"
	}
	var parts []string
	for bit := uint32(1); bit != 0 && bit <= flags; bit <<= 1 {
		if flags&bit != 0 {
			if n := name(bit); n != "" {
				parts = append(parts, n)
			}
		}
	}
	return strings.Join(parts, "|")
}
