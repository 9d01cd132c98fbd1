package inflight

import (
	"github.com/cockroachdb/errors"
)

// SwapchainImage is one presentable image together with the semaphore that
// signals when it may be rendered to and the one its presentation waits on.
type SwapchainImage struct {
	Index      int
	Image      Handle
	View       Handle
	Available  Handle
	RenderDone Handle
}

// SurfaceBackend owns the native swapchain of a window surface.
type SurfaceBackend interface {
	// DrawableSize is the window's current drawable area in pixels.
	DrawableSize() Extent
	// CreateImages destroys any existing image set and builds a new one. The
	// returned extent is what the surface actually accepted. Only Index,
	// Image and View are filled in.
	CreateImages(desired Extent, vsync bool) ([]SwapchainImage, Extent, error)
	// AcquireImage asks for the next image, signaling the given semaphore
	// when it is available. stale reports that the image set must be rebuilt.
	AcquireImage(signal Handle) (index int, stale bool, err error)
	// PresentImage queues an image for display once wait has signaled. A
	// suboptimal surface reports stale even though the image was presented.
	PresentImage(index int, wait Handle) (stale bool, err error)
	CreateSemaphore() (Handle, error)
	DestroySemaphore(semaphore Handle)
	DestroyImages()
}

// SwapchainController exposes acquisition, presentation and recreation of the
// presentable image set. Staleness is reported as a boolean, never an error.
type SwapchainController struct {
	backend    SurfaceBackend
	images     []SwapchainImage
	semaphores []Handle
	// renderDone[i] is signaled by the frame rendering image i. It is only
	// reused once image i has been acquired again, which implies the
	// presentation that waited on it is finished.
	renderDone []Handle
	next       int
	resolution Extent
	vsync      bool
	generation int
}

// NewSwapchainController builds the first image set. A window without a
// drawable area at this point cannot be rendered to at all.
func NewSwapchainController(backend SurfaceBackend, desired Extent, vsync bool) (*SwapchainController, error) {
	c := &SwapchainController{backend: backend}
	if backend.DrawableSize().Empty() {
		return nil, errors.Wrap(ErrZeroDrawable, "create swapchain")
	}
	if err := c.build(desired, vsync); err != nil {
		return nil, err
	}
	return c, nil
}

// Resolution is the extent of the current image set.
func (c *SwapchainController) Resolution() Extent {
	return c.resolution
}

// VSync reports the presentation policy of the current image set.
func (c *SwapchainController) VSync() bool {
	return c.vsync
}

// Generation increases every time the image set is rebuilt.
func (c *SwapchainController) Generation() int {
	return c.generation
}

// Images returns the current image set. The Available and RenderDone fields
// are not set; they are only meaningful for an image returned by AcquireNext.
func (c *SwapchainController) Images() []SwapchainImage {
	return append([]SwapchainImage(nil), c.images...)
}

// AcquireNext returns the next presentable image. ok is false when the
// surface is stale and the image set must be recreated before it is used
// again.
func (c *SwapchainController) AcquireNext() (image SwapchainImage, ok bool, err error) {
	semaphore := c.semaphores[c.next]

	index, stale, err := c.backend.AcquireImage(semaphore)
	if err != nil {
		return SwapchainImage{}, false, errors.Wrap(err, "acquire swapchain image")
	}
	if stale {
		return SwapchainImage{}, false, nil
	}
	if index < 0 || index >= len(c.images) {
		panic(errors.AssertionFailedf("swapchain returned image %d of %d", index, len(c.images)))
	}

	c.next = (c.next + 1) % len(c.semaphores)
	image = c.images[index]
	image.Available = semaphore
	image.RenderDone = c.renderDone[index]
	return image, true, nil
}

// Present queues image for display once wait has signaled. ok is false when
// the surface turned out to be stale.
func (c *SwapchainController) Present(wait Handle, image SwapchainImage) (ok bool, err error) {
	stale, err := c.backend.PresentImage(image.Index, wait)
	if err != nil {
		return false, errors.Wrap(err, "present swapchain image")
	}
	return !stale, nil
}

// Recreate rebuilds the image set against the current surface and returns
// the resolution the surface accepted, which callers must adopt. When the
// window has no drawable area the rebuild is skipped, the previous
// resolution is returned and recreated is false.
func (c *SwapchainController) Recreate(desired Extent, vsync bool) (resolution Extent, recreated bool, err error) {
	if c.backend.DrawableSize().Empty() {
		return c.resolution, false, nil
	}
	if err := c.build(desired, vsync); err != nil {
		return c.resolution, false, err
	}
	return c.resolution, true, nil
}

// Destroy releases the image set and the semaphores. The GPU must be idle.
func (c *SwapchainController) Destroy() {
	c.destroySemaphores()
	c.backend.DestroyImages()
	c.images = nil
}

func (c *SwapchainController) build(desired Extent, vsync bool) error {
	images, actual, err := c.backend.CreateImages(desired, vsync)
	if err != nil {
		return errors.Wrapf(err, "create swapchain images at %s", desired)
	}
	if len(images) == 0 {
		return errors.AssertionFailedf("swapchain created without images")
	}

	c.destroySemaphores()
	for i := 0; i <= len(images); i++ {
		semaphore, err := c.backend.CreateSemaphore()
		if err != nil {
			return errors.Wrap(err, "create image-available semaphore")
		}
		c.semaphores = append(c.semaphores, semaphore)
	}
	for range images {
		semaphore, err := c.backend.CreateSemaphore()
		if err != nil {
			return errors.Wrap(err, "create render-done semaphore")
		}
		c.renderDone = append(c.renderDone, semaphore)
	}

	c.images = images
	c.next = 0
	c.resolution = actual
	c.vsync = vsync
	c.generation++
	Logger().Info("swapchain built", "requested", desired.String(), "resolution", actual.String(), "images", len(images), "vsync", vsync)
	return nil
}

func (c *SwapchainController) destroySemaphores() {
	for _, semaphore := range c.semaphores {
		c.backend.DestroySemaphore(semaphore)
	}
	for _, semaphore := range c.renderDone {
		c.backend.DestroySemaphore(semaphore)
	}
	c.semaphores = nil
	c.renderDone = nil
}
