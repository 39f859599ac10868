package syncutils_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akervik/framegraph/syncutils"
)

func TestAccessFlagsIsWrite(t *testing.T) {
	require.False(t, syncutils.AccessShaderRead.IsWrite())
	require.False(t, (syncutils.AccessShaderRead | syncutils.AccessTransferRead).IsWrite())
	require.True(t, syncutils.AccessShaderWrite.IsWrite())
	require.True(t, (syncutils.AccessShaderRead | syncutils.AccessColorAttachmentWrite).IsWrite())
	require.True(t, syncutils.AccessMemoryWrite.IsWrite())
}

func TestAccessFlagsContains(t *testing.T) {
	mask := syncutils.AccessShaderRead | syncutils.AccessUniformRead

	require.True(t, mask.Contains(syncutils.AccessShaderRead))
	require.True(t, mask.Contains(mask))
	require.True(t, mask.Contains(0))
	require.False(t, mask.Contains(syncutils.AccessShaderWrite))
	require.False(t, mask.Contains(mask|syncutils.AccessTransferRead))
}

func TestAccessFlagsString(t *testing.T) {
	require.Equal(t, "AccessShaderRead", syncutils.AccessShaderRead.String())

	combined := (syncutils.AccessShaderRead | syncutils.AccessShaderWrite).String()
	require.Contains(t, combined, "AccessShaderRead")
	require.Contains(t, combined, "AccessShaderWrite")
}

func TestCheckStageSupported(t *testing.T) {
	graphics := syncutils.QueueGraphics | syncutils.QueueTransfer
	compute := syncutils.QueueCompute | syncutils.QueueTransfer

	require.True(t, syncutils.CheckStageSupported(graphics, syncutils.StageFragmentShader))
	require.True(t, syncutils.CheckStageSupported(graphics, syncutils.StageTransfer))
	require.True(t, syncutils.CheckStageSupported(compute, syncutils.StageComputeShader))
	require.False(t, syncutils.CheckStageSupported(compute, syncutils.StageFragmentShader))
	require.False(t, syncutils.CheckStageSupported(compute, syncutils.StageColorAttachmentOutput))

	// Stages with no capability requirement pass everywhere.
	require.True(t, syncutils.CheckStageSupported(compute, syncutils.StageTopOfPipe))
	require.True(t, syncutils.CheckStageSupported(graphics, syncutils.StageTopOfPipe|syncutils.StageBottomOfPipe))
}

func TestAlignUp(t *testing.T) {
	require.Equal(t, 0, syncutils.AlignUp(0, 16))
	require.Equal(t, 16, syncutils.AlignUp(1, 16))
	require.Equal(t, 16, syncutils.AlignUp(16, 16))
	require.Equal(t, 32, syncutils.AlignUp(17, 16))
	require.Equal(t, 16, syncutils.AlignDown(17, 16))
}
