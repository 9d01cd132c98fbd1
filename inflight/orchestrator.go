package inflight

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// FrameState is a step of the per-frame state machine.
type FrameState int

const (
	FrameStarted FrameState = iota
	SlotAcquired
	ImageAcquired
	ImageStale
	ComputeRecorded
	GraphicsRecorded
	Submitted
	Presented
	PresentFailed
)

var frameStateNames = map[FrameState]string{
	FrameStarted:     "FrameStarted",
	SlotAcquired:     "SlotAcquired",
	ImageAcquired:    "ImageAcquired",
	ImageStale:       "ImageStale",
	ComputeRecorded:  "ComputeRecorded",
	GraphicsRecorded: "GraphicsRecorded",
	Submitted:        "Submitted",
	Presented:        "Presented",
	PresentFailed:    "PresentFailed",
}

func (s FrameState) String() string {
	if name, ok := frameStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("FrameState(%d)", int(s))
}

// Image states used by the two passes.
var (
	intermediateInitial = ResourceState{
		Stage:  core1_0.PipelineStageTopOfPipe,
		Layout: core1_0.ImageLayoutUndefined,
	}
	intermediateWritable = ResourceState{
		Stage:  core1_0.PipelineStageComputeShader,
		Access: core1_0.AccessShaderWrite,
		Layout: core1_0.ImageLayoutGeneral,
	}
	intermediateReadable = ResourceState{
		Stage:  core1_0.PipelineStageFragmentShader,
		Access: core1_0.AccessShaderRead,
		Layout: core1_0.ImageLayoutShaderReadOnlyOptimal,
	}
	// Backbuffers start and end at color-attachment output, the stage the
	// submission waits on the image-available semaphore at.
	backbufferInitial = ResourceState{
		Stage:  core1_0.PipelineStageColorAttachmentOutput,
		Layout: core1_0.ImageLayoutUndefined,
	}
	backbufferWritable = ResourceState{
		Stage:  core1_0.PipelineStageColorAttachmentOutput,
		Access: core1_0.AccessColorAttachmentWrite,
		Layout: core1_0.ImageLayoutColorAttachmentOptimal,
	}
	backbufferPresentable = ResourceState{
		Stage:  core1_0.PipelineStageColorAttachmentOutput,
		Layout: khr_swapchain.ImageLayoutPresentSrc,
	}
)

// IntermediateImage is the compute output sampled by the graphics pass.
type IntermediateImage interface {
	Image() Handle
	View() Handle
	Extent() Extent
	// Resize rebuilds the image at a new extent. The GPU must be idle.
	Resize(extent Extent) error
}

// Scene is what the two passes bind: both pipelines, the compute output and
// the static texture with its sampler.
type Scene struct {
	Compute      Pipeline
	Graphics     Pipeline
	Intermediate IntermediateImage
	Texture      Handle
	Sampler      Handle
}

// Options configures a FrameOrchestrator. The starting resolution is taken
// from the swapchain.
type Options struct {
	VSync         bool
	WorkgroupSize int
	// CPULoad is slept at the start of every frame to stand in for game
	// logic, so that CPU and GPU overlap is visible.
	CPULoad time.Duration
	// Clock returns the time elapsed since the renderer started.
	Clock      func() time.Duration
	FirstFrame uint64
}

func (o Options) withDefaults() Options {
	if o.WorkgroupSize <= 0 {
		o.WorkgroupSize = 32
	}
	if o.Clock == nil {
		start := hrtime.Now()
		o.Clock = func() time.Duration {
			return hrtime.Since(start)
		}
	}
	return o
}

// FrameReport describes what happened to one iteration of DrawFrame.
type FrameReport struct {
	Frame      uint64
	Slot       int
	SlotStatus AcquireStatus
	State      FrameState
	Params     FrameParameters
	Recreated  bool
	Resolution Extent
}

// FrameOrchestrator records, submits and presents one frame per DrawFrame
// call. It is driven from a single thread.
type FrameOrchestrator struct {
	window    Window
	slots     *FrameSlotPool
	swapchain *SwapchainController
	tracker   *ResourceStateTracker
	scene     Scene
	opts      Options

	resolution   Extent
	frame        uint64
	needRecreate bool

	intermediate ResourceID
	backbuffers  []ResourceID
	generation   int
}

func NewFrameOrchestrator(window Window, slots *FrameSlotPool, swapchain *SwapchainController, tracker *ResourceStateTracker, scene Scene, opts Options) *FrameOrchestrator {
	opts = opts.withDefaults()
	o := &FrameOrchestrator{
		window:     window,
		slots:      slots,
		swapchain:  swapchain,
		tracker:    tracker,
		scene:      scene,
		opts:       opts,
		resolution: swapchain.Resolution(),
		frame:      opts.FirstFrame,
	}
	o.trackIntermediate()
	o.trackBackbuffers()
	return o
}

// Frame is the number of the next frame to be drawn.
func (o *FrameOrchestrator) Frame() uint64 {
	return o.frame
}

// Resolution is the resolution frames are currently rendered at.
func (o *FrameOrchestrator) Resolution() Extent {
	return o.resolution
}

// NeedsRecreate reports whether a stale surface is waiting to be rebuilt.
func (o *FrameOrchestrator) NeedsRecreate() bool {
	return o.needRecreate
}

// Run draws frames until the window asks to close, then waits for the GPU to
// finish everything in flight.
func (o *FrameOrchestrator) Run() error {
	for !o.window.ShouldClose() {
		o.window.Poll()
		if o.window.ShouldClose() {
			break
		}
		if _, err := o.DrawFrame(); err != nil {
			return err
		}
	}
	return o.Drain()
}

// Drain blocks until all submitted GPU work has completed.
func (o *FrameOrchestrator) Drain() error {
	return o.slots.Drain()
}

// DrawFrame runs one iteration of the per-frame state machine. A stale
// swapchain is not an error: the frame is dropped and the swapchain is
// rebuilt at the end of the iteration when the window has a drawable area.
func (o *FrameOrchestrator) DrawFrame() (FrameReport, error) {
	report := FrameReport{Frame: o.frame, State: FrameStarted, Slot: -1}

	if o.opts.CPULoad > 0 {
		time.Sleep(o.opts.CPULoad)
	}

	slot, status, err := o.slots.AcquireNext(o.frame)
	if err != nil {
		return report, err
	}
	report.Slot = slot.Index
	report.SlotStatus = status
	report.State = SlotAcquired

	image, ok, err := o.swapchain.AcquireNext()
	if err != nil {
		return report, err
	}

	if !ok {
		report.State = ImageStale
		o.needRecreate = true
		Logger().Debug("frame dropped: swapchain stale at acquire", "frame", o.frame)
	} else {
		report.State = ImageAcquired
		if o.generation != o.swapchain.Generation() {
			o.trackBackbuffers()
		}
		report.Params = o.parameters()

		if err := o.record(slot.Commands, image, report.Params, &report); err != nil {
			return report, err
		}

		renderDone, err := o.slots.Submit(slot, image.Available, image.RenderDone)
		if err != nil {
			return report, err
		}
		report.State = Submitted

		presented, err := o.swapchain.Present(renderDone, image)
		if err != nil {
			return report, err
		}
		if presented {
			report.State = Presented
		} else {
			report.State = PresentFailed
			o.needRecreate = true
			Logger().Debug("swapchain stale at present", "frame", o.frame)
		}
	}

	if o.needRecreate {
		recreated, err := o.recreate()
		if err != nil {
			return report, err
		}
		report.Recreated = recreated
	}

	report.Resolution = o.resolution
	o.frame++
	return report, nil
}

func (o *FrameOrchestrator) parameters() FrameParameters {
	elapsed := o.opts.Clock()
	pointer := o.window.PointerPosition()
	return FrameParameters{
		SizeX:  uint32(o.resolution.Width),
		SizeY:  uint32(o.resolution.Height),
		Time:   float32(elapsed.Milliseconds()) / 1000,
		MouseX: pointer.X(),
		MouseY: pointer.Y(),
	}
}

func (o *FrameOrchestrator) record(cmd CommandBuffer, image SwapchainImage, params FrameParameters, report *FrameReport) error {
	if err := cmd.Begin(); err != nil {
		return errors.Wrap(err, "begin frame commands")
	}

	if err := o.recordCompute(cmd, params); err != nil {
		return errors.Wrap(err, "record compute pass")
	}
	report.State = ComputeRecorded

	if err := o.recordGraphics(cmd, image, params); err != nil {
		return errors.Wrap(err, "record graphics pass")
	}
	report.State = GraphicsRecorded
	return nil
}

func (o *FrameOrchestrator) recordCompute(cmd CommandBuffer, params FrameParameters) error {
	o.tracker.Transition(o.intermediate, intermediateWritable)
	if err := o.tracker.Flush(cmd); err != nil {
		return err
	}

	compute := o.scene.Compute
	cmd.BindPipeline(compute)
	err := cmd.BindDescriptors(compute, []Binding{
		{
			Index:  0,
			Kind:   BindingStorageImage,
			View:   o.scene.Intermediate.View(),
			Layout: intermediateWritable.Layout,
		},
	})
	if err != nil {
		return err
	}
	cmd.PushParameters(compute, params)

	size := o.opts.WorkgroupSize
	cmd.Dispatch(groupCount(o.resolution.Width, size), groupCount(o.resolution.Height, size), 1)

	o.tracker.Transition(o.intermediate, intermediateReadable)
	return o.tracker.Flush(cmd)
}

func (o *FrameOrchestrator) recordGraphics(cmd CommandBuffer, image SwapchainImage, params FrameParameters) error {
	graphics := o.scene.Graphics
	cmd.BindPipeline(graphics)
	err := cmd.BindDescriptors(graphics, []Binding{
		{
			Index:  0,
			Kind:   BindingSampledImage,
			View:   o.scene.Intermediate.View(),
			Layout: intermediateReadable.Layout,
		},
		{
			Index:  1,
			Kind:   BindingSampledImage,
			View:   o.scene.Texture,
			Layout: core1_0.ImageLayoutShaderReadOnlyOptimal,
		},
		{
			Index:   2,
			Kind:    BindingSampler,
			Sampler: o.scene.Sampler,
		},
	})
	if err != nil {
		return err
	}
	cmd.PushParameters(graphics, params)

	backbuffer := o.backbuffers[image.Index]
	o.tracker.Transition(backbuffer, backbufferWritable)
	if err := o.tracker.Flush(cmd); err != nil {
		return err
	}

	if err := cmd.BeginRendering(image, o.resolution); err != nil {
		return err
	}
	// Full-screen triangle, vertices generated in the vertex shader.
	cmd.Draw(3, 1)
	cmd.EndRendering()

	o.tracker.Transition(backbuffer, backbufferPresentable)
	return o.tracker.Flush(cmd)
}

func (o *FrameOrchestrator) recreate() (bool, error) {
	if o.window.DrawableSize().Empty() {
		Logger().Debug("swapchain recreation postponed: drawable area is zero", "frame", o.frame)
		return false, nil
	}

	resolution, recreated, err := o.swapchain.Recreate(o.resolution, o.opts.VSync)
	if err != nil {
		return false, err
	}
	if !recreated {
		return false, nil
	}
	o.needRecreate = false
	o.trackBackbuffers()

	if resolution != o.resolution {
		Logger().Info("resolution changed", "from", o.resolution.String(), "to", resolution.String())
		if err := o.resizeIntermediate(resolution); err != nil {
			return true, err
		}
		o.resolution = resolution
	}
	return true, nil
}

func (o *FrameOrchestrator) resizeIntermediate(resolution Extent) error {
	if err := o.slots.Drain(); err != nil {
		return err
	}
	if err := o.scene.Intermediate.Resize(resolution); err != nil {
		return errors.Wrapf(err, "resize intermediate image to %s", resolution)
	}
	o.tracker.Untrack(o.intermediate)
	o.trackIntermediate()
	return nil
}

func (o *FrameOrchestrator) trackIntermediate() {
	o.intermediate = o.tracker.Track("intermediate", o.scene.Intermediate.Image(), core1_0.ImageAspectColor, intermediateInitial)
}

func (o *FrameOrchestrator) trackBackbuffers() {
	for _, id := range o.backbuffers {
		o.tracker.Untrack(id)
	}
	o.backbuffers = o.backbuffers[:0]

	for _, image := range o.swapchain.Images() {
		name := fmt.Sprintf("backbuffer %d", image.Index)
		o.backbuffers = append(o.backbuffers, o.tracker.Track(name, image.Image, core1_0.ImageAspectColor, backbufferInitial))
	}
	o.generation = o.swapchain.Generation()
}

func groupCount(pixels, groupSize int) int {
	return (pixels + groupSize - 1) / groupSize
}
