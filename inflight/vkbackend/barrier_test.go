package vkbackend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/walterhackin/graphics-course/inflight"
)

func TestImageBarriersMergeStages(t *testing.T) {
	batch := []inflight.Barrier{
		{
			Name:   "intermediate",
			Image:  core1_0.Image{},
			Aspect: core1_0.ImageAspectColor,
			Src: inflight.ResourceState{
				Stage:  core1_0.PipelineStageComputeShader,
				Access: core1_0.AccessShaderWrite,
				Layout: core1_0.ImageLayoutGeneral,
			},
			Dst: inflight.ResourceState{
				Stage:  core1_0.PipelineStageFragmentShader,
				Access: core1_0.AccessShaderRead,
				Layout: core1_0.ImageLayoutShaderReadOnlyOptimal,
			},
		},
		{
			Name:   "backbuffer 0",
			Image:  core1_0.Image{},
			Aspect: core1_0.ImageAspectColor,
			Src: inflight.ResourceState{
				Stage:  core1_0.PipelineStageColorAttachmentOutput,
				Layout: core1_0.ImageLayoutUndefined,
			},
			Dst: inflight.ResourceState{
				Stage:  core1_0.PipelineStageColorAttachmentOutput,
				Access: core1_0.AccessColorAttachmentWrite,
				Layout: core1_0.ImageLayoutColorAttachmentOptimal,
			},
		},
	}

	src, dst, barriers := imageBarriers(batch)
	assert.Equal(t, core1_0.PipelineStageComputeShader|core1_0.PipelineStageColorAttachmentOutput, src)
	assert.Equal(t, core1_0.PipelineStageFragmentShader|core1_0.PipelineStageColorAttachmentOutput, dst)
	require.Len(t, barriers, 2)

	first := barriers[0]
	assert.Equal(t, core1_0.AccessShaderWrite, first.SrcAccessMask)
	assert.Equal(t, core1_0.AccessShaderRead, first.DstAccessMask)
	assert.Equal(t, core1_0.ImageLayoutGeneral, first.OldLayout)
	assert.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, first.NewLayout)
	assert.Equal(t, -1, first.SrcQueueFamilyIndex)
	assert.Equal(t, -1, first.DstQueueFamilyIndex)
	assert.Equal(t, core1_0.ImageAspectColor, first.SubresourceRange.AspectMask)
	assert.Equal(t, 1, first.SubresourceRange.LevelCount)
	assert.Equal(t, 1, first.SubresourceRange.LayerCount)

	assert.Equal(t, core1_0.ImageLayoutUndefined, barriers[1].OldLayout)
	assert.Equal(t, core1_0.AccessFlags(0), barriers[1].SrcAccessMask)
}

func TestImageBarriersEmptyStagesFallBack(t *testing.T) {
	src, dst, barriers := imageBarriers([]inflight.Barrier{
		{
			Image: core1_0.Image{},
			Src:   inflight.ResourceState{Layout: core1_0.ImageLayoutColorAttachmentOptimal},
			Dst:   inflight.ResourceState{Layout: khr_swapchain.ImageLayoutPresentSrc},
		},
	})

	assert.Equal(t, core1_0.PipelineStageTopOfPipe, src)
	assert.Equal(t, core1_0.PipelineStageBottomOfPipe, dst)
	require.Len(t, barriers, 1)
	assert.Equal(t, khr_swapchain.ImageLayoutPresentSrc, barriers[0].NewLayout)
}

type foreignHandle struct{}

func (foreignHandle) Initialized() bool { return true }

func TestHandleAssertions(t *testing.T) {
	assert.NotPanics(t, func() { asImage(core1_0.Image{}) })
	assert.NotPanics(t, func() { asSemaphore(core1_0.Semaphore{}) })
	assert.Panics(t, func() { asImage(foreignHandle{}) })
	assert.Panics(t, func() { asImageView(core1_0.Image{}) })
	assert.Panics(t, func() { asSampler(nil) })
}
