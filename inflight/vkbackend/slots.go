package vkbackend

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/walterhackin/graphics-course/inflight"
)

// Descriptor capacity of one frame slot: one set per pass, and within those
// sets one storage image, two sampled images and a sampler.
const (
	setsPerSlot          = 2
	storageImagesPerSlot = 1
	sampledImagesPerSlot = 2
	samplersPerSlot      = 1
)

// SlotFactory creates the per-slot objects of an inflight.FrameSlotPool and
// keeps track of them for Destroy.
type SlotFactory struct {
	ctx       *Context
	swapchain *Swapchain

	recorders []*Recorder
	fences    []*Fence
}

var _ inflight.SlotFactory = (*SlotFactory)(nil)

// NewSlotFactory returns a factory whose recorders render into swapchain.
func NewSlotFactory(ctx *Context, swapchain *Swapchain) *SlotFactory {
	return &SlotFactory{ctx: ctx, swapchain: swapchain}
}

func (f *SlotFactory) NewSlot(index int) (inflight.CommandBuffer, inflight.Fence, error) {
	driver := f.ctx.deviceDriver

	buffers, _, err := driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        f.ctx.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "allocate command buffer")
	}

	pool, _, err := driver.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: setsPerSlot,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{Type: core1_0.DescriptorTypeStorageImage, DescriptorCount: storageImagesPerSlot},
			{Type: core1_0.DescriptorTypeSampledImage, DescriptorCount: sampledImagesPerSlot},
			{Type: core1_0.DescriptorTypeSampler, DescriptorCount: samplersPerSlot},
		},
	})
	if err != nil {
		driver.FreeCommandBuffers(buffers...)
		return nil, nil, errors.Wrap(err, "create descriptor pool")
	}
	recorder := &Recorder{
		ctx:            f.ctx,
		swapchain:      f.swapchain,
		slot:           index,
		buffer:         buffers[0],
		descriptorPool: pool,
	}
	f.recorders = append(f.recorders, recorder)

	fence, _, err := driver.CreateFence(nil, core1_0.FenceCreateInfo{
		Flags: core1_0.FenceCreateSignaled,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "create in-flight fence")
	}
	done := &Fence{ctx: f.ctx, fence: fence}
	f.fences = append(f.fences, done)

	return recorder, done, nil
}

// Destroy releases every object the factory created. The slots must be
// drained first.
func (f *SlotFactory) Destroy() {
	driver := f.ctx.deviceDriver
	for _, fence := range f.fences {
		driver.DestroyFence(fence.fence, nil)
	}
	for _, recorder := range f.recorders {
		driver.DestroyDescriptorPool(recorder.descriptorPool, nil)
		driver.FreeCommandBuffers(recorder.buffer)
	}
	f.fences = nil
	f.recorders = nil
}

// Fence wraps a core1_0.Fence.
type Fence struct {
	ctx   *Context
	fence core1_0.Fence
}

var _ inflight.Fence = (*Fence)(nil)

func (f *Fence) Signaled() (bool, error) {
	res, err := f.ctx.deviceDriver.WaitForFences(true, 0, f.fence)
	if res == core1_0.VKTimeout {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *Fence) Wait() error {
	_, err := f.ctx.deviceDriver.WaitForFences(true, common.NoTimeout, f.fence)
	return err
}

func (f *Fence) Reset() error {
	_, err := f.ctx.deviceDriver.ResetFences(f.fence)
	return err
}

// Queue submits frame slots to the graphics queue.
type Queue struct {
	ctx *Context
}

var _ inflight.Queue = (*Queue)(nil)

func NewQueue(ctx *Context) *Queue {
	return &Queue{ctx: ctx}
}

func (q *Queue) Submit(commands inflight.CommandBuffer, wait inflight.Handle, waitStage core1_0.PipelineStageFlags, signal inflight.Handle, fence inflight.Fence) error {
	recorder, ok := commands.(*Recorder)
	if !ok {
		return errors.AssertionFailedf("cannot submit %T", commands)
	}
	done, ok := fence.(*Fence)
	if !ok {
		return errors.AssertionFailedf("cannot signal %T", fence)
	}

	info := core1_0.SubmitInfo{
		CommandBuffers:   []core1_0.CommandBuffer{recorder.buffer},
		SignalSemaphores: []core1_0.Semaphore{asSemaphore(signal)},
	}
	if wait != nil {
		info.WaitSemaphores = []core1_0.Semaphore{asSemaphore(wait)}
		info.WaitDstStageMask = []core1_0.PipelineStageFlags{waitStage}
	}

	_, err := q.ctx.deviceDriver.QueueSubmit(q.ctx.graphicsQueue, &done.fence, info)
	return err
}

func (q *Queue) WaitIdle() error {
	_, err := q.ctx.deviceDriver.QueueWaitIdle(q.ctx.graphicsQueue)
	return err
}
