package inflight

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// DefaultFramesInFlight bounds how far the CPU may run ahead of the GPU.
const DefaultFramesInFlight = 2

// CommandBuffer records the commands of one frame. Implementations belong to
// exactly one frame slot.
type CommandBuffer interface {
	BarrierRecorder

	// Reset returns the buffer and its per-frame allocations to an empty,
	// re-recordable state. The GPU must be done with the previous recording.
	Reset() error
	Begin() error
	End() error

	BindPipeline(pipeline Pipeline)
	BindDescriptors(pipeline Pipeline, bindings []Binding) error
	PushParameters(pipeline Pipeline, params FrameParameters)
	Dispatch(groupsX, groupsY, groupsZ int)

	BeginRendering(target SwapchainImage, area Extent) error
	Draw(vertexCount, instanceCount int)
	EndRendering()
}

// Fence is a CPU-observable completion signal.
type Fence interface {
	// Signaled reports, without blocking, whether the GPU has finished.
	Signaled() (bool, error)
	// Wait blocks until the GPU has finished. There is no timeout.
	Wait() error
	Reset() error
}

// Queue accepts recorded command buffers.
type Queue interface {
	Submit(commands CommandBuffer, wait Handle, waitStage core1_0.PipelineStageFlags, signal Handle, fence Fence) error
	WaitIdle() error
}

// SlotFactory creates the GPU objects of one frame slot. Fences must be
// created signaled so the first acquisition of every slot does not block.
type SlotFactory interface {
	NewSlot(index int) (commands CommandBuffer, done Fence, err error)
}

// FrameSlot is one reusable bundle of per-frame recording state.
type FrameSlot struct {
	Index    int
	Commands CommandBuffer

	done Fence
	uses uint64
}

// Uses counts how many times the slot has been handed out.
func (s *FrameSlot) Uses() uint64 {
	return s.uses
}

// AcquireStatus tells whether AcquireNext had to block on the GPU.
type AcquireStatus int

const (
	SlotReady AcquireStatus = iota
	SlotWaited
)

func (s AcquireStatus) String() string {
	if s == SlotWaited {
		return "Waited"
	}
	return "Ready"
}

// FrameSlotPool hands out a fixed number of frame slots in round-robin order.
type FrameSlotPool struct {
	slots    []*FrameSlot
	queue    Queue
	acquired uint64
}

func NewFrameSlotPool(count int, factory SlotFactory, queue Queue) (*FrameSlotPool, error) {
	if count < 1 {
		return nil, errors.Newf("frame slot pool needs at least one slot, got %d", count)
	}

	pool := &FrameSlotPool{queue: queue}
	for i := 0; i < count; i++ {
		commands, done, err := factory.NewSlot(i)
		if err != nil {
			return nil, errors.Wrapf(err, "create frame slot %d", i)
		}
		pool.slots = append(pool.slots, &FrameSlot{
			Index:    i,
			Commands: commands,
			done:     done,
		})
	}
	return pool, nil
}

// Len is the number of slots, the maximum number of frames in flight.
func (p *FrameSlotPool) Len() int {
	return len(p.slots)
}

// Acquired counts calls to AcquireNext that returned a slot.
func (p *FrameSlotPool) Acquired() uint64 {
	return p.acquired
}

// AcquireNext returns slot frame mod Len. It blocks the calling thread until
// the GPU has finished the work last submitted from that slot, then resets
// the slot's command buffer. This is the only place the CPU waits for the GPU
// while frames are being produced.
func (p *FrameSlotPool) AcquireNext(frame uint64) (*FrameSlot, AcquireStatus, error) {
	slot := p.slots[frame%uint64(len(p.slots))]

	status := SlotReady
	signaled, err := slot.done.Signaled()
	if err != nil {
		return nil, status, errors.Wrapf(err, "query frame slot %d", slot.Index)
	}
	if !signaled {
		status = SlotWaited
		Logger().Debug("waiting for frame slot", "slot", slot.Index, "frame", frame)
		if err := slot.done.Wait(); err != nil {
			return nil, status, errors.Wrapf(err, "wait for frame slot %d", slot.Index)
		}
	}

	if err := slot.Commands.Reset(); err != nil {
		return nil, status, errors.Wrapf(err, "reset frame slot %d", slot.Index)
	}

	p.acquired++
	slot.uses++
	return slot, status, nil
}

// Submit ends the slot's recording and queues it. Execution waits for wait at
// the color-attachment-output stage; completion signals the slot's fence and
// signal, which presentation should wait on. The slot's fence does not cover
// the presentation engine's use of signal, so the caller owns that semaphore
// and must not hand it out again before the image it was presented with has
// been acquired anew.
//
// The fence is reset here rather than in AcquireNext so that a slot whose
// frame was dropped before submission stays signaled.
func (p *FrameSlotPool) Submit(slot *FrameSlot, wait, signal Handle) (Handle, error) {
	if err := slot.Commands.End(); err != nil {
		return nil, errors.Wrapf(err, "end frame slot %d", slot.Index)
	}

	if err := slot.done.Reset(); err != nil {
		return nil, errors.Wrapf(err, "reset fence of frame slot %d", slot.Index)
	}

	err := p.queue.Submit(slot.Commands, wait, core1_0.PipelineStageColorAttachmentOutput, signal, slot.done)
	if err != nil {
		return nil, errors.Wrapf(err, "submit frame slot %d", slot.Index)
	}
	return signal, nil
}

// Drain waits for the GPU to finish every slot's work. Nothing may be
// destroyed while a slot is still executing.
func (p *FrameSlotPool) Drain() error {
	for _, slot := range p.slots {
		if err := slot.done.Wait(); err != nil {
			return errors.Wrapf(err, "drain frame slot %d", slot.Index)
		}
	}
	return errors.Wrap(p.queue.WaitIdle(), "drain queue")
}
