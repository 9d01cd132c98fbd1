package vkbackend

import (
	"image"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/walterhackin/graphics-course/inflight"
)

// Texture is a sampled, device-local RGBA image.
type Texture struct {
	ctx    *Context
	image  core1_0.Image
	memory core1_0.DeviceMemory
	view   core1_0.ImageView
}

// UploadTexture creates a texture from img and blocks until the pixels are
// on the GPU.
func UploadTexture(ctx *Context, img *image.RGBA) (*Texture, error) {
	size := img.Bounds().Size()
	if size.X == 0 || size.Y == 0 {
		return nil, errors.New("upload texture: image is empty")
	}

	t := &Texture{ctx: ctx}
	var err error
	t.image, t.memory, err = ctx.createImage(size.X, size.Y, core1_0.FormatR8G8B8A8UnsignedNormalized,
		core1_0.ImageUsageTransferDst|core1_0.ImageUsageSampled)
	if err != nil {
		return nil, errors.Wrap(err, "create texture image")
	}

	if err := ctx.uploadImage(t.image, size.X, size.Y, packedPixels(img)); err != nil {
		t.Destroy()
		return nil, errors.Wrap(err, "upload texture")
	}

	t.view, err = ctx.createImageView(t.image, core1_0.FormatR8G8B8A8UnsignedNormalized)
	if err != nil {
		t.Destroy()
		return nil, errors.Wrap(err, "create texture view")
	}
	return t, nil
}

// packedPixels returns the pixels of img without row padding.
func packedPixels(img *image.RGBA) []byte {
	size := img.Bounds().Size()
	rowBytes := size.X * 4
	if img.Stride == rowBytes {
		return img.Pix[:rowBytes*size.Y]
	}

	pixels := make([]byte, 0, rowBytes*size.Y)
	for y := 0; y < size.Y; y++ {
		start := y * img.Stride
		pixels = append(pixels, img.Pix[start:start+rowBytes]...)
	}
	return pixels
}

func (t *Texture) View() core1_0.ImageView {
	return t.view
}

func (t *Texture) Destroy() {
	driver := t.ctx.deviceDriver
	if t.view.Initialized() {
		driver.DestroyImageView(t.view, nil)
		t.view = core1_0.ImageView{}
	}
	if t.image.Initialized() {
		driver.DestroyImage(t.image, nil)
		t.image = core1_0.Image{}
	}
	if t.memory.Initialized() {
		driver.FreeMemory(t.memory, nil)
		t.memory = core1_0.DeviceMemory{}
	}
}

// Intermediate is the storage image the compute pass writes and the graphics
// pass samples. It starts in an undefined layout.
type Intermediate struct {
	ctx    *Context
	extent inflight.Extent
	image  core1_0.Image
	memory core1_0.DeviceMemory
	view   core1_0.ImageView
}

var _ inflight.IntermediateImage = (*Intermediate)(nil)

func NewIntermediate(ctx *Context, extent inflight.Extent) (*Intermediate, error) {
	i := &Intermediate{ctx: ctx}
	if err := i.Resize(extent); err != nil {
		return nil, err
	}
	return i, nil
}

func (i *Intermediate) Image() inflight.Handle { return i.image }
func (i *Intermediate) View() inflight.Handle  { return i.view }
func (i *Intermediate) Extent() inflight.Extent {
	return i.extent
}

// Resize destroys the image and builds a new one. The GPU must be idle.
func (i *Intermediate) Resize(extent inflight.Extent) error {
	if extent.Empty() {
		return errors.Newf("intermediate image cannot be %s", extent)
	}
	i.Destroy()

	var err error
	i.image, i.memory, err = i.ctx.createImage(extent.Width, extent.Height, intermediateFormat,
		core1_0.ImageUsageStorage|core1_0.ImageUsageSampled|core1_0.ImageUsageTransferSrc)
	if err != nil {
		return errors.Wrapf(err, "create intermediate image %s", extent)
	}

	i.view, err = i.ctx.createImageView(i.image, intermediateFormat)
	if err != nil {
		i.Destroy()
		return errors.Wrapf(err, "create intermediate view %s", extent)
	}

	i.extent = extent
	return nil
}

func (i *Intermediate) Destroy() {
	driver := i.ctx.deviceDriver
	if i.view.Initialized() {
		driver.DestroyImageView(i.view, nil)
		i.view = core1_0.ImageView{}
	}
	if i.image.Initialized() {
		driver.DestroyImage(i.image, nil)
		i.image = core1_0.Image{}
	}
	if i.memory.Initialized() {
		driver.FreeMemory(i.memory, nil)
		i.memory = core1_0.DeviceMemory{}
	}
}

// NewSampler creates the linear, repeating sampler the graphics pass reads
// both images with.
func NewSampler(ctx *Context) (core1_0.Sampler, error) {
	sampler, _, err := ctx.deviceDriver.CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		AddressModeU: core1_0.SamplerAddressModeRepeat,
		AddressModeV: core1_0.SamplerAddressModeRepeat,
		AddressModeW: core1_0.SamplerAddressModeRepeat,

		BorderColor: core1_0.BorderColorIntOpaqueBlack,

		MipmapMode: core1_0.SamplerMipmapModeLinear,
		MinLod:     0,
		MaxLod:     1,
	})
	return sampler, errors.Wrap(err, "create sampler")
}

// DestroySampler releases a sampler made by NewSampler.
func DestroySampler(ctx *Context, sampler core1_0.Sampler) {
	if sampler.Initialized() {
		ctx.deviceDriver.DestroySampler(sampler, nil)
	}
}
