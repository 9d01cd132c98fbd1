package inflight

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// ResourceID identifies an image registered with a ResourceStateTracker.
type ResourceID = uuid.UUID

// ResourceState is where an image was last used: the pipeline stage, the
// kind of memory access and the image layout.
type ResourceState struct {
	Stage  core1_0.PipelineStageFlags
	Access core1_0.AccessFlags
	Layout core1_0.ImageLayout
}

func (s ResourceState) String() string {
	return fmt.Sprintf("{%s %s %s}", s.Stage, s.Access, s.Layout)
}

// Barrier moves one image from Src to Dst.
type Barrier struct {
	Resource ResourceID
	Name     string
	Image    Handle
	Aspect   core1_0.ImageAspectFlags
	Src      ResourceState
	Dst      ResourceState
}

// BarrierRecorder emits a batch of barriers as a single command.
type BarrierRecorder interface {
	PipelineBarrier(barriers []Barrier) error
}

type trackedResource struct {
	name    string
	image   Handle
	aspect  core1_0.ImageAspectFlags
	state   ResourceState
	pending int // index into ResourceStateTracker.pending, or -1
}

// ResourceStateTracker records the last known state of every image that takes
// part in explicit synchronization and queues the barriers that move them to
// newly requested states. It is not safe for concurrent use; it belongs to
// the thread that records commands.
type ResourceStateTracker struct {
	resources map[ResourceID]*trackedResource
	pending   []Barrier
}

func NewResourceStateTracker() *ResourceStateTracker {
	return &ResourceStateTracker{
		resources: make(map[ResourceID]*trackedResource),
	}
}

// Track registers an image with its state at creation time.
func (t *ResourceStateTracker) Track(name string, image Handle, aspect core1_0.ImageAspectFlags, initial ResourceState) ResourceID {
	id := uuid.New()
	t.resources[id] = &trackedResource{
		name:    name,
		image:   image,
		aspect:  aspect,
		state:   initial,
		pending: -1,
	}
	return id
}

// Untrack forgets an image. The image must have no barrier waiting for a flush.
func (t *ResourceStateTracker) Untrack(id ResourceID) {
	res := t.mustGet(id)
	if res.pending >= 0 {
		panic(errors.AssertionFailedf("untracking %s (%s) with an unflushed barrier", res.name, id))
	}
	delete(t.resources, id)
}

// State returns the recorded state of a tracked image.
func (t *ResourceStateTracker) State(id ResourceID) (ResourceState, bool) {
	res, ok := t.resources[id]
	if !ok {
		return ResourceState{}, false
	}
	return res.state, true
}

// Len is the number of tracked images.
func (t *ResourceStateTracker) Len() int {
	return len(t.resources)
}

// Transition requests that the image be in target before the next command
// that follows a Flush. The recorded state changes immediately, so asking
// for the same target again before the flush queues nothing. Asking for a
// different target rewrites the destination of the barrier already queued
// for this image. Reports whether the pending set changed.
func (t *ResourceStateTracker) Transition(id ResourceID, target ResourceState) bool {
	res := t.mustGet(id)
	if !planTransition(res.state, target) {
		return false
	}

	if res.pending >= 0 {
		t.pending[res.pending].Dst = target
	} else {
		res.pending = len(t.pending)
		t.pending = append(t.pending, Barrier{
			Resource: id,
			Name:     res.name,
			Image:    res.image,
			Aspect:   res.aspect,
			Src:      res.state,
			Dst:      target,
		})
	}
	res.state = target
	return true
}

// Pending returns a copy of the barriers queued since the last flush.
func (t *ResourceStateTracker) Pending() []Barrier {
	return append([]Barrier(nil), t.pending...)
}

// Flush emits every pending barrier as one batch and clears the set. It does
// nothing when no barrier is pending.
func (t *ResourceStateTracker) Flush(recorder BarrierRecorder) error {
	if len(t.pending) == 0 {
		return nil
	}

	batch := t.pending
	t.pending = nil
	for _, barrier := range batch {
		if res, ok := t.resources[barrier.Resource]; ok {
			res.pending = -1
		}
	}

	return errors.Wrap(recorder.PipelineBarrier(batch), "flush barriers")
}

func (t *ResourceStateTracker) mustGet(id ResourceID) *trackedResource {
	res, ok := t.resources[id]
	if !ok {
		panic(errors.AssertionFailedf("resource %s is not tracked", id))
	}
	return res
}

// planTransition reports whether moving from current to target needs a barrier.
func planTransition(current, target ResourceState) bool {
	return current != target
}
