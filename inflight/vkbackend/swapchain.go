package vkbackend

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/walterhackin/graphics-course/inflight"
)

// Swapchain implements inflight.SurfaceBackend for the context's window
// surface. It also owns the render pass the graphics pipeline draws with and
// one framebuffer per swapchain image.
type Swapchain struct {
	ctx *Context

	swapchain    khr_swapchain.Swapchain
	format       core1_0.Format
	images       []core1_0.Image
	views        []core1_0.ImageView
	framebuffers []core1_0.Framebuffer
	renderPass   core1_0.RenderPass
}

var _ inflight.SurfaceBackend = (*Swapchain)(nil)

func NewSwapchain(ctx *Context) *Swapchain {
	return &Swapchain{ctx: ctx}
}

func (s *Swapchain) DrawableSize() inflight.Extent {
	return s.ctx.DrawableSize()
}

// RenderPass is valid once the first image set has been created.
func (s *Swapchain) RenderPass() core1_0.RenderPass {
	return s.renderPass
}

func (s *Swapchain) CreateImages(desired inflight.Extent, vsync bool) ([]inflight.SwapchainImage, inflight.Extent, error) {
	if _, err := s.ctx.deviceDriver.DeviceWaitIdle(); err != nil {
		return nil, inflight.Extent{}, errors.Wrap(err, "wait for device idle")
	}
	s.DestroyImages()

	support, err := s.ctx.querySwapchainSupport(s.ctx.physicalDevice)
	if err != nil {
		return nil, inflight.Extent{}, errors.Wrap(err, "query surface")
	}
	if len(support.Formats) == 0 {
		return nil, inflight.Extent{}, errors.New("surface reports no formats")
	}

	surfaceFormat := chooseSurfaceFormat(support.Formats)
	presentMode := presentModeFor(vsync, support.PresentModes)
	extent := swapExtent(support.Capabilities, s.ctx.DrawableSize(), desired)

	if s.renderPass.Initialized() && surfaceFormat.Format != s.format {
		return nil, inflight.Extent{}, errors.Newf("surface format changed from %s to %s", s.format, surfaceFormat.Format)
	}

	sharingMode := core1_0.SharingModeExclusive
	var queueFamilyIndices []int
	families := s.ctx.families
	if *families.GraphicsFamily != *families.PresentFamily {
		sharingMode = core1_0.SharingModeConcurrent
		queueFamilyIndices = append(queueFamilyIndices, *families.GraphicsFamily, *families.PresentFamily)
	}

	swapchain, _, err := s.ctx.swapchainExtension.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: s.ctx.surface,

		MinImageCount:    imageCountFor(support.Capabilities),
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: queueFamilyIndices,

		PreTransform:   support.Capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,
	})
	if err != nil {
		return nil, inflight.Extent{}, errors.Wrap(err, "create swapchain")
	}
	s.swapchain = swapchain
	s.format = surfaceFormat.Format

	if !s.renderPass.Initialized() {
		if err := s.createRenderPass(); err != nil {
			return nil, inflight.Extent{}, errors.Wrap(err, "create render pass")
		}
	}

	images, err := s.createImageViews(extent)
	if err != nil {
		s.DestroyImages()
		return nil, inflight.Extent{}, err
	}

	inflight.Logger().Debug("swapchain created", "format", s.format.String(), "presentMode", presentMode.String(), "extent", extent)
	return images, inflight.Extent{Width: extent.Width, Height: extent.Height}, nil
}

func (s *Swapchain) createImageViews(extent core1_0.Extent2D) ([]inflight.SwapchainImage, error) {
	images, _, err := s.ctx.swapchainExtension.GetSwapchainImages(s.swapchain)
	if err != nil {
		return nil, errors.Wrap(err, "get swapchain images")
	}
	s.images = images

	result := make([]inflight.SwapchainImage, 0, len(images))
	for i, image := range images {
		view, err := s.ctx.createImageView(image, s.format)
		if err != nil {
			return nil, errors.Wrapf(err, "create view of swapchain image %d", i)
		}
		s.views = append(s.views, view)

		framebuffer, _, err := s.ctx.deviceDriver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
			RenderPass:  s.renderPass,
			Layers:      1,
			Attachments: []core1_0.ImageView{view},
			Width:       extent.Width,
			Height:      extent.Height,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "create framebuffer of swapchain image %d", i)
		}
		s.framebuffers = append(s.framebuffers, framebuffer)

		result = append(result, inflight.SwapchainImage{Index: i, Image: image, View: view})
	}
	return result, nil
}

// createRenderPass builds a pass with a single color attachment. Layout
// transitions of the attachment are recorded as explicit barriers, so the
// pass keeps it in the color-attachment layout throughout.
func (s *Swapchain) createRenderPass() error {
	renderPass, _, err := s.ctx.deviceDriver.CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         s.format,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpDontCare,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutColorAttachmentOptimal,
				FinalLayout:    core1_0.ImageLayoutColorAttachmentOptimal,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 0,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
			},
		},
	})
	if err != nil {
		return err
	}

	s.renderPass = renderPass
	return nil
}

func (s *Swapchain) framebuffer(index int) (core1_0.Framebuffer, error) {
	if index < 0 || index >= len(s.framebuffers) {
		return core1_0.Framebuffer{}, errors.AssertionFailedf("no framebuffer for swapchain image %d of %d", index, len(s.framebuffers))
	}
	return s.framebuffers[index], nil
}

func (s *Swapchain) AcquireImage(signal inflight.Handle) (int, bool, error) {
	semaphore := asSemaphore(signal)
	index, res, err := s.ctx.swapchainExtension.AcquireNextImage(s.swapchain, common.NoTimeout, &semaphore, nil)
	if res == khr_swapchain.VKErrorOutOfDate {
		return 0, true, nil
	} else if err != nil {
		return 0, false, err
	}
	return index, false, nil
}

func (s *Swapchain) PresentImage(index int, wait inflight.Handle) (bool, error) {
	res, err := s.ctx.swapchainExtension.QueuePresent(s.ctx.presentQueue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{asSemaphore(wait)},
		Swapchains:     []khr_swapchain.Swapchain{s.swapchain},
		ImageIndices:   []int{index},
	})
	if presentStale(res) {
		return true, nil
	} else if err != nil {
		return false, err
	}
	return false, nil
}

// presentStale reports whether a present result calls for a rebuild. A
// suboptimal image was still presented but no longer matches the surface.
func presentStale(res common.VkResult) bool {
	return res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal
}

func (s *Swapchain) CreateSemaphore() (inflight.Handle, error) {
	semaphore, _, err := s.ctx.deviceDriver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return nil, err
	}
	return semaphore, nil
}

func (s *Swapchain) DestroySemaphore(semaphore inflight.Handle) {
	s.ctx.deviceDriver.DestroySemaphore(asSemaphore(semaphore), nil)
}

// DestroyImages releases the swapchain with its views and framebuffers. The
// render pass survives for the next image set.
func (s *Swapchain) DestroyImages() {
	driver := s.ctx.deviceDriver
	for _, framebuffer := range s.framebuffers {
		driver.DestroyFramebuffer(framebuffer, nil)
	}
	s.framebuffers = nil

	for _, view := range s.views {
		driver.DestroyImageView(view, nil)
	}
	s.views = nil
	s.images = nil

	if s.swapchain.Initialized() {
		s.ctx.swapchainExtension.DestroySwapchain(s.swapchain, nil)
		s.swapchain = khr_swapchain.Swapchain{}
	}
}

// Destroy releases the image set and the render pass.
func (s *Swapchain) Destroy() {
	s.DestroyImages()
	if s.renderPass.Initialized() {
		s.ctx.deviceDriver.DestroyRenderPass(s.renderPass, nil)
		s.renderPass = core1_0.RenderPass{}
	}
}

func chooseSurfaceFormat(availableFormats []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, format := range availableFormats {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}

	return availableFormats[0]
}

// presentModeFor picks FIFO for vsync. Without vsync it prefers mailbox, then
// immediate, and falls back to FIFO, which every surface supports.
func presentModeFor(vsync bool, availablePresentModes []khr_surface.PresentMode) khr_surface.PresentMode {
	if vsync {
		return khr_surface.PresentModeFIFO
	}

	for _, preferred := range []khr_surface.PresentMode{khr_surface.PresentModeMailbox, khr_surface.PresentModeImmediate} {
		for _, presentMode := range availablePresentModes {
			if presentMode == preferred {
				return presentMode
			}
		}
	}

	return khr_surface.PresentModeFIFO
}

// swapExtent is the surface's current extent when it dictates one. Otherwise
// it is the drawable area, or desired when the drawable is empty, clamped to
// what the surface allows.
func swapExtent(capabilities *khr_surface.SurfaceCapabilities, drawable, desired inflight.Extent) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	size := drawable
	if size.Empty() {
		size = desired
	}

	return core1_0.Extent2D{
		Width:  clamp(size.Width, capabilities.MinImageExtent.Width, capabilities.MaxImageExtent.Width),
		Height: clamp(size.Height, capabilities.MinImageExtent.Height, capabilities.MaxImageExtent.Height),
	}
}

func imageCountFor(capabilities *khr_surface.SurfaceCapabilities) int {
	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < imageCount {
		imageCount = capabilities.MaxImageCount
	}
	return imageCount
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
