package vkbackend

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// The helpers below record into a throwaway command buffer and block until
// the graphics queue is idle. They are for startup uploads only.

func (c *Context) beginSingleTimeCommands() (core1_0.CommandBuffer, error) {
	buffers, _, err := c.deviceDriver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        c.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return core1_0.CommandBuffer{}, err
	}

	buffer := buffers[0]
	_, err = c.deviceDriver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	return buffer, err
}

func (c *Context) endSingleTimeCommands(buffer core1_0.CommandBuffer) error {
	defer c.deviceDriver.FreeCommandBuffers(buffer)

	_, err := c.deviceDriver.EndCommandBuffer(buffer)
	if err != nil {
		return err
	}

	_, err = c.deviceDriver.QueueSubmit(c.graphicsQueue, nil,
		core1_0.SubmitInfo{
			CommandBuffers: []core1_0.CommandBuffer{buffer},
		},
	)
	if err != nil {
		return err
	}

	_, err = c.deviceDriver.QueueWaitIdle(c.graphicsQueue)
	return err
}

// transitionImageLayout moves a freshly uploaded image through the two
// layouts an upload needs.
func (c *Context) transitionImageLayout(buffer core1_0.CommandBuffer, image core1_0.Image, oldLayout core1_0.ImageLayout, newLayout core1_0.ImageLayout) error {
	var sourceStage, destStage core1_0.PipelineStageFlags
	var sourceAccess, destAccess core1_0.AccessFlags

	if oldLayout == core1_0.ImageLayoutUndefined && newLayout == core1_0.ImageLayoutTransferDstOptimal {
		sourceAccess = 0
		destAccess = core1_0.AccessTransferWrite
		sourceStage = core1_0.PipelineStageTopOfPipe
		destStage = core1_0.PipelineStageTransfer
	} else if oldLayout == core1_0.ImageLayoutTransferDstOptimal && newLayout == core1_0.ImageLayoutShaderReadOnlyOptimal {
		sourceAccess = core1_0.AccessTransferWrite
		destAccess = core1_0.AccessShaderRead
		sourceStage = core1_0.PipelineStageTransfer
		destStage = core1_0.PipelineStageFragmentShader
	} else {
		return errors.Newf("unexpected layout transition: %s -> %s", oldLayout, newLayout)
	}

	return c.deviceDriver.CmdPipelineBarrier(buffer, sourceStage, destStage, 0, nil, nil, []core1_0.ImageMemoryBarrier{
		{
			OldLayout:           oldLayout,
			NewLayout:           newLayout,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               image,
			SubresourceRange:    colorSubresource(),
			SrcAccessMask:       sourceAccess,
			DstAccessMask:       destAccess,
		},
	})
}

// uploadImage copies tightly packed RGBA pixels into image and leaves it
// ready for sampling.
func (c *Context) uploadImage(image core1_0.Image, width, height int, pixels []byte) error {
	stagingBuffer, stagingMemory, err := c.createBuffer(len(pixels), core1_0.BufferUsageTransferSrc, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if stagingBuffer.Initialized() {
		defer c.deviceDriver.DestroyBuffer(stagingBuffer, nil)
	}
	if stagingMemory.Initialized() {
		defer c.deviceDriver.FreeMemory(stagingMemory, nil)
	}
	if err != nil {
		return errors.Wrap(err, "create staging buffer")
	}

	if err := c.writeData(stagingMemory, 0, pixels); err != nil {
		return errors.Wrap(err, "fill staging buffer")
	}

	buffer, err := c.beginSingleTimeCommands()
	if err != nil {
		return err
	}

	if err := c.recordUpload(buffer, stagingBuffer, image, width, height); err != nil {
		c.deviceDriver.FreeCommandBuffers(buffer)
		return err
	}

	return c.endSingleTimeCommands(buffer)
}

func (c *Context) recordUpload(buffer core1_0.CommandBuffer, staging core1_0.Buffer, image core1_0.Image, width, height int) error {
	err := c.transitionImageLayout(buffer, image, core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal)
	if err != nil {
		return err
	}

	err = c.deviceDriver.CmdCopyBufferToImage(buffer, staging, image, core1_0.ImageLayoutTransferDstOptimal,
		core1_0.BufferImageCopy{
			BufferOffset:      0,
			BufferRowLength:   0,
			BufferImageHeight: 0,

			ImageSubresource: core1_0.ImageSubresourceLayers{
				AspectMask:     core1_0.ImageAspectColor,
				MipLevel:       0,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			ImageOffset: core1_0.Offset3D{X: 0, Y: 0, Z: 0},
			ImageExtent: core1_0.Extent3D{Width: width, Height: height, Depth: 1},
		},
	)
	if err != nil {
		return err
	}

	return c.transitionImageLayout(buffer, image, core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal)
}
