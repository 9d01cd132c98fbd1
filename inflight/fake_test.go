package inflight

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type fakeHandle struct {
	name string
}

func (h *fakeHandle) Initialized() bool { return h != nil }

func handle(name string) *fakeHandle { return &fakeHandle{name: name} }

// fakeGPU is a simulated GPU timeline. Submissions complete in order, either
// when a fence is waited on or when the test advances the timeline.
type fakeGPU struct {
	events       []string
	submissions  []*fakeSubmission
	completed    int
	autoComplete bool
}

type fakeSubmission struct {
	id        int
	commands  *fakeCommands
	wait      Handle
	waitStage core1_0.PipelineStageFlags
	signal    Handle
	fence     *fakeFence
}

func (g *fakeGPU) log(format string, args ...any) {
	g.events = append(g.events, fmt.Sprintf(format, args...))
}

func (g *fakeGPU) Submit(commands CommandBuffer, wait Handle, waitStage core1_0.PipelineStageFlags, signal Handle, fence Fence) error {
	s := &fakeSubmission{
		id:        len(g.submissions),
		commands:  commands.(*fakeCommands),
		wait:      wait,
		waitStage: waitStage,
		signal:    signal,
		fence:     fence.(*fakeFence),
	}
	s.fence.pending = s
	g.submissions = append(g.submissions, s)
	g.log("submit %d slot %d", s.id, s.commands.slot)
	if g.autoComplete {
		g.completeThrough(s.id)
	}
	return nil
}

func (g *fakeGPU) WaitIdle() error {
	g.completeThrough(len(g.submissions) - 1)
	g.log("idle")
	return nil
}

func (g *fakeGPU) completeThrough(id int) {
	for g.completed <= id && g.completed < len(g.submissions) {
		s := g.submissions[g.completed]
		if s.fence.pending == s {
			s.fence.signaled = true
		}
		g.log("complete %d", s.id)
		g.completed++
	}
}

// index of the first event equal to event, or -1.
func (g *fakeGPU) indexOf(event string) int {
	for i, e := range g.events {
		if e == event {
			return i
		}
	}
	return -1
}

func (g *fakeGPU) NewSlot(index int) (CommandBuffer, Fence, error) {
	commands := &fakeCommands{slot: index}
	fence := &fakeFence{gpu: g, name: fmt.Sprintf("slot %d", index), signaled: true}
	return commands, fence, nil
}

type fakeFence struct {
	gpu      *fakeGPU
	name     string
	signaled bool
	pending  *fakeSubmission
	waits    int
}

func (f *fakeFence) Signaled() (bool, error) { return f.signaled, nil }

func (f *fakeFence) Wait() error {
	f.waits++
	if !f.signaled && f.pending != nil {
		f.gpu.completeThrough(f.pending.id)
	}
	f.gpu.log("waited %s", f.name)
	return nil
}

func (f *fakeFence) Reset() error {
	f.signaled = false
	return nil
}

type fakePipeline struct {
	name      string
	bindPoint core1_0.PipelineBindPoint
}

func (p *fakePipeline) Name() string                         { return p.name }
func (p *fakePipeline) BindPoint() core1_0.PipelineBindPoint { return p.bindPoint }

type fakeCommands struct {
	slot      int
	ops       []string
	barriers  [][]Barrier
	bindings  map[string][]Binding
	pushed    map[string]FrameParameters
	rendering []SwapchainImage
	resets    int
	recording bool
}

func (c *fakeCommands) op(format string, args ...any) {
	c.ops = append(c.ops, fmt.Sprintf(format, args...))
}

func (c *fakeCommands) PipelineBarrier(barriers []Barrier) error {
	var names []string
	for _, b := range barriers {
		names = append(names, b.Name)
	}
	c.barriers = append(c.barriers, append([]Barrier(nil), barriers...))
	c.op("barrier %s", strings.Join(names, ","))
	return nil
}

func (c *fakeCommands) Reset() error {
	c.resets++
	c.ops = nil
	c.barriers = nil
	c.bindings = map[string][]Binding{}
	c.pushed = map[string]FrameParameters{}
	c.rendering = nil
	c.recording = false
	return nil
}

func (c *fakeCommands) Begin() error {
	c.recording = true
	c.op("begin")
	return nil
}

func (c *fakeCommands) End() error {
	c.recording = false
	c.op("end")
	return nil
}

func (c *fakeCommands) BindPipeline(pipeline Pipeline) {
	c.op("bind %s", pipeline.Name())
}

func (c *fakeCommands) BindDescriptors(pipeline Pipeline, bindings []Binding) error {
	c.bindings[pipeline.Name()] = bindings
	c.op("descriptors %s", pipeline.Name())
	return nil
}

func (c *fakeCommands) PushParameters(pipeline Pipeline, params FrameParameters) {
	c.pushed[pipeline.Name()] = params
	c.op("push %s", pipeline.Name())
}

func (c *fakeCommands) Dispatch(groupsX, groupsY, groupsZ int) {
	c.op("dispatch %dx%dx%d", groupsX, groupsY, groupsZ)
}

func (c *fakeCommands) BeginRendering(target SwapchainImage, area Extent) error {
	c.rendering = append(c.rendering, target)
	c.op("begin rendering %d %s", target.Index, area)
	return nil
}

func (c *fakeCommands) Draw(vertexCount, instanceCount int) {
	c.op("draw %d %d", vertexCount, instanceCount)
}

func (c *fakeCommands) EndRendering() {
	c.op("end rendering")
}

// fakeSurface scripts the answers of a native swapchain.
type fakeSurface struct {
	drawable   Extent
	imageCount int
	// accepted maps a requested extent to the one the surface reports.
	accepted func(desired Extent) Extent

	staleAcquires []bool
	stalePresents []bool

	builds        int
	lastDesired   Extent
	nextImage     int
	acquireSignal []Handle
	presentWaits  []Handle
	presented     []int
	semaphores    int
	destroyed     int
	imagesAlive   bool
}

func newFakeSurface(drawable Extent) *fakeSurface {
	return &fakeSurface{drawable: drawable, imageCount: 3}
}

// semaphoresPerBuild is the image-available ring, one longer than the image
// set, plus one render-done semaphore per image.
func (s *fakeSurface) semaphoresPerBuild() int {
	return 2*s.imageCount + 1
}

func (s *fakeSurface) DrawableSize() Extent { return s.drawable }

func (s *fakeSurface) CreateImages(desired Extent, vsync bool) ([]SwapchainImage, Extent, error) {
	s.builds++
	s.lastDesired = desired
	s.nextImage = 0
	s.imagesAlive = true

	actual := desired
	if s.accepted != nil {
		actual = s.accepted(desired)
	}

	var images []SwapchainImage
	for i := 0; i < s.imageCount; i++ {
		images = append(images, SwapchainImage{
			Index: i,
			Image: handle(fmt.Sprintf("image %d/%d", s.builds, i)),
			View:  handle(fmt.Sprintf("view %d/%d", s.builds, i)),
		})
	}
	return images, actual, nil
}

func (s *fakeSurface) AcquireImage(signal Handle) (int, bool, error) {
	if len(s.staleAcquires) > 0 {
		stale := s.staleAcquires[0]
		s.staleAcquires = s.staleAcquires[1:]
		if stale {
			return 0, true, nil
		}
	}
	s.acquireSignal = append(s.acquireSignal, signal)
	index := s.nextImage
	s.nextImage = (s.nextImage + 1) % s.imageCount
	return index, false, nil
}

func (s *fakeSurface) PresentImage(index int, wait Handle) (bool, error) {
	s.presentWaits = append(s.presentWaits, wait)
	if len(s.stalePresents) > 0 {
		stale := s.stalePresents[0]
		s.stalePresents = s.stalePresents[1:]
		if stale {
			return true, nil
		}
	}
	s.presented = append(s.presented, index)
	return false, nil
}

func (s *fakeSurface) CreateSemaphore() (Handle, error) {
	s.semaphores++
	return handle(fmt.Sprintf("semaphore %d", s.semaphores)), nil
}

func (s *fakeSurface) DestroySemaphore(Handle) { s.destroyed++ }

func (s *fakeSurface) DestroyImages() { s.imagesAlive = false }

type fakeWindow struct {
	drawable   Extent
	pointer    mgl32.Vec2
	polls      int
	closeAfter int
}

func (w *fakeWindow) Poll()                       { w.polls++ }
func (w *fakeWindow) ShouldClose() bool           { return w.closeAfter > 0 && w.polls >= w.closeAfter }
func (w *fakeWindow) DrawableSize() Extent        { return w.drawable }
func (w *fakeWindow) PointerPosition() mgl32.Vec2 { return w.pointer }

type fakeIntermediate struct {
	image   Handle
	view    Handle
	extent  Extent
	resizes []Extent
}

func (i *fakeIntermediate) Image() Handle  { return i.image }
func (i *fakeIntermediate) View() Handle   { return i.view }
func (i *fakeIntermediate) Extent() Extent { return i.extent }

func (i *fakeIntermediate) Resize(extent Extent) error {
	i.resizes = append(i.resizes, extent)
	i.extent = extent
	i.image = handle(fmt.Sprintf("intermediate %s", extent))
	i.view = handle(fmt.Sprintf("intermediate view %s", extent))
	return nil
}

// rig wires an orchestrator to fakes.
type rig struct {
	gpu          *fakeGPU
	surface      *fakeSurface
	window       *fakeWindow
	intermediate *fakeIntermediate
	pool         *FrameSlotPool
	swapchain    *SwapchainController
	tracker      *ResourceStateTracker
	orchestrator *FrameOrchestrator
	elapsed      time.Duration
}

func newRig(resolution Extent, slots int) (*rig, error) {
	r := &rig{
		gpu:     &fakeGPU{},
		surface: newFakeSurface(resolution),
		window:  &fakeWindow{drawable: resolution},
		intermediate: &fakeIntermediate{
			image:  handle("intermediate"),
			view:   handle("intermediate view"),
			extent: resolution,
		},
		tracker: NewResourceStateTracker(),
	}

	var err error
	r.pool, err = NewFrameSlotPool(slots, r.gpu, r.gpu)
	if err != nil {
		return nil, err
	}
	r.swapchain, err = NewSwapchainController(r.surface, resolution, true)
	if err != nil {
		return nil, err
	}

	scene := Scene{
		Compute:      &fakePipeline{name: "texture", bindPoint: core1_0.PipelineBindPointCompute},
		Graphics:     &fakePipeline{name: "image", bindPoint: core1_0.PipelineBindPointGraphics},
		Intermediate: r.intermediate,
		Texture:      handle("texture"),
		Sampler:      handle("sampler"),
	}
	r.orchestrator = NewFrameOrchestrator(r.window, r.pool, r.swapchain, r.tracker, scene, Options{
		VSync: true,
		Clock: func() time.Duration { return r.elapsed },
	})
	return r, nil
}

// resize changes the drawable area of both the window and the surface.
func (r *rig) resize(extent Extent) {
	r.window.drawable = extent
	r.surface.drawable = extent
}

func (r *rig) commands(slot int) *fakeCommands {
	return r.pool.slots[slot].Commands.(*fakeCommands)
}
