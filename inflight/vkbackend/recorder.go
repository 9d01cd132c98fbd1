package vkbackend

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/walterhackin/graphics-course/inflight"
)

// Recorder is the command buffer of one frame slot. Descriptor sets are
// allocated from the slot's own pool while recording and released together
// by Reset.
type Recorder struct {
	ctx       *Context
	swapchain *Swapchain
	slot      int

	buffer         core1_0.CommandBuffer
	descriptorPool core1_0.DescriptorPool
}

var _ inflight.CommandBuffer = (*Recorder)(nil)

func (r *Recorder) Reset() error {
	if _, err := r.ctx.deviceDriver.ResetCommandBuffer(r.buffer, 0); err != nil {
		return errors.Wrapf(err, "reset command buffer of slot %d", r.slot)
	}
	if _, err := r.ctx.deviceDriver.ResetDescriptorPool(r.descriptorPool, 0); err != nil {
		return errors.Wrapf(err, "reset descriptor pool of slot %d", r.slot)
	}
	return nil
}

func (r *Recorder) Begin() error {
	_, err := r.ctx.deviceDriver.BeginCommandBuffer(r.buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	return err
}

func (r *Recorder) End() error {
	_, err := r.ctx.deviceDriver.EndCommandBuffer(r.buffer)
	return err
}

func (r *Recorder) PipelineBarrier(batch []inflight.Barrier) error {
	src, dst, barriers := imageBarriers(batch)
	return r.ctx.deviceDriver.CmdPipelineBarrier(r.buffer, src, dst, 0, nil, nil, barriers)
}

func (r *Recorder) BindPipeline(pipeline inflight.Pipeline) {
	p := asPipeline(pipeline)
	r.ctx.deviceDriver.CmdBindPipeline(r.buffer, p.bindPoint, p.pipeline)
}

func (r *Recorder) BindDescriptors(pipeline inflight.Pipeline, bindings []inflight.Binding) error {
	p := asPipeline(pipeline)

	sets, _, err := r.ctx.deviceDriver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: r.descriptorPool,
		SetLayouts:     []core1_0.DescriptorSetLayout{p.setLayout},
	})
	if err != nil {
		return errors.Wrapf(err, "allocate descriptor set for %s", p.name)
	}

	writes := make([]core1_0.WriteDescriptorSet, 0, len(bindings))
	for _, binding := range bindings {
		write, err := descriptorWrite(sets[0], binding)
		if err != nil {
			return errors.Wrapf(err, "bind %s", p.name)
		}
		writes = append(writes, write)
	}

	if err := r.ctx.deviceDriver.UpdateDescriptorSets(writes, nil); err != nil {
		return errors.Wrapf(err, "update descriptor set for %s", p.name)
	}

	r.ctx.deviceDriver.CmdBindDescriptorSets(r.buffer, p.bindPoint, p.layout, 0, sets, nil)
	return nil
}

func (r *Recorder) PushParameters(pipeline inflight.Pipeline, params inflight.FrameParameters) {
	p := asPipeline(pipeline)
	r.ctx.deviceDriver.CmdPushConstants(r.buffer, p.layout, p.pushStages, 0, params.Bytes())
}

func (r *Recorder) Dispatch(groupsX, groupsY, groupsZ int) {
	r.ctx.deviceDriver.CmdDispatch(r.buffer, groupsX, groupsY, groupsZ)
}

// BeginRendering starts the render pass on target's framebuffer and sets the
// dynamic viewport and scissor to area.
func (r *Recorder) BeginRendering(target inflight.SwapchainImage, area inflight.Extent) error {
	framebuffer, err := r.swapchain.framebuffer(target.Index)
	if err != nil {
		return err
	}

	extent := core1_0.Extent2D{Width: area.Width, Height: area.Height}
	err = r.ctx.deviceDriver.CmdBeginRenderPass(r.buffer, core1_0.SubpassContentsInline,
		core1_0.RenderPassBeginInfo{
			RenderPass:  r.swapchain.renderPass,
			Framebuffer: framebuffer,
			RenderArea: core1_0.Rect2D{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: extent,
			},
		})
	if err != nil {
		return err
	}

	r.ctx.deviceDriver.CmdSetViewport(r.buffer, core1_0.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(area.Width),
		Height:   float32(area.Height),
		MinDepth: 0,
		MaxDepth: 1,
	})
	r.ctx.deviceDriver.CmdSetScissor(r.buffer, core1_0.Rect2D{
		Offset: core1_0.Offset2D{X: 0, Y: 0},
		Extent: extent,
	})
	return nil
}

func (r *Recorder) Draw(vertexCount, instanceCount int) {
	r.ctx.deviceDriver.CmdDraw(r.buffer, vertexCount, instanceCount, 0, 0)
}

func (r *Recorder) EndRendering() {
	r.ctx.deviceDriver.CmdEndRenderPass(r.buffer)
}

func descriptorType(kind inflight.BindingKind) (core1_0.DescriptorType, error) {
	switch kind {
	case inflight.BindingStorageImage:
		return core1_0.DescriptorTypeStorageImage, nil
	case inflight.BindingSampledImage:
		return core1_0.DescriptorTypeSampledImage, nil
	case inflight.BindingSampler:
		return core1_0.DescriptorTypeSampler, nil
	}
	return 0, errors.Newf("unsupported binding kind %s", kind)
}

// descriptorWrite describes how binding is written into set.
func descriptorWrite(set core1_0.DescriptorSet, binding inflight.Binding) (core1_0.WriteDescriptorSet, error) {
	typ, err := descriptorType(binding.Kind)
	if err != nil {
		return core1_0.WriteDescriptorSet{}, err
	}

	info := core1_0.DescriptorImageInfo{}
	if binding.Kind == inflight.BindingSampler {
		info.Sampler = asSampler(binding.Sampler)
	} else {
		info.ImageView = asImageView(binding.View)
		info.ImageLayout = binding.Layout
	}

	return core1_0.WriteDescriptorSet{
		DstSet:          set,
		DstBinding:      binding.Index,
		DstArrayElement: 0,
		DescriptorType:  typ,
		ImageInfo:       []core1_0.DescriptorImageInfo{info},
	}, nil
}
