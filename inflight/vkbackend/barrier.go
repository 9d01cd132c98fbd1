package vkbackend

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/walterhackin/graphics-course/inflight"
)

// imageBarriers converts a batch from the state tracker into the arguments of
// a single vkCmdPipelineBarrier. Stages of the batch are merged; an empty
// source or destination mask falls back to the top or bottom of the pipe.
func imageBarriers(batch []inflight.Barrier) (core1_0.PipelineStageFlags, core1_0.PipelineStageFlags, []core1_0.ImageMemoryBarrier) {
	var srcStages, dstStages core1_0.PipelineStageFlags
	barriers := make([]core1_0.ImageMemoryBarrier, 0, len(batch))

	for _, barrier := range batch {
		srcStages |= barrier.Src.Stage
		dstStages |= barrier.Dst.Stage

		barriers = append(barriers, core1_0.ImageMemoryBarrier{
			SrcAccessMask:       barrier.Src.Access,
			DstAccessMask:       barrier.Dst.Access,
			OldLayout:           barrier.Src.Layout,
			NewLayout:           barrier.Dst.Layout,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               asImage(barrier.Image),
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     barrier.Aspect,
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		})
	}

	if srcStages == 0 {
		srcStages = core1_0.PipelineStageTopOfPipe
	}
	if dstStages == 0 {
		dstStages = core1_0.PipelineStageBottomOfPipe
	}
	return srcStages, dstStages, barriers
}

// The engine passes backend objects around as inflight.Handle. Everything it
// hands back to this package was created here, so a mismatch is a bug.

func asImage(h inflight.Handle) core1_0.Image {
	image, ok := h.(core1_0.Image)
	if !ok {
		panic(errors.AssertionFailedf("handle %T is not an image", h))
	}
	return image
}

func asImageView(h inflight.Handle) core1_0.ImageView {
	view, ok := h.(core1_0.ImageView)
	if !ok {
		panic(errors.AssertionFailedf("handle %T is not an image view", h))
	}
	return view
}

func asSampler(h inflight.Handle) core1_0.Sampler {
	sampler, ok := h.(core1_0.Sampler)
	if !ok {
		panic(errors.AssertionFailedf("handle %T is not a sampler", h))
	}
	return sampler
}

func asSemaphore(h inflight.Handle) core1_0.Semaphore {
	semaphore, ok := h.(core1_0.Semaphore)
	if !ok {
		panic(errors.AssertionFailedf("handle %T is not a semaphore", h))
	}
	return semaphore
}
