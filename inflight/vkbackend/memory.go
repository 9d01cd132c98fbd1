package vkbackend

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

func (c *Context) createBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (core1_0.Buffer, core1_0.DeviceMemory, error) {
	buffer, _, err := c.deviceDriver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}

	memRequirements := c.deviceDriver.GetBufferMemoryRequirements(buffer)
	memoryTypeIndex, err := c.findMemoryType(memRequirements.MemoryTypeBits, properties)
	if err != nil {
		return buffer, core1_0.DeviceMemory{}, err
	}

	memory, _, err := c.deviceDriver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return buffer, core1_0.DeviceMemory{}, err
	}

	_, err = c.deviceDriver.BindBufferMemory(buffer, memory, 0)
	return buffer, memory, err
}

func (c *Context) createImage(width, height int, format core1_0.Format, usage core1_0.ImageUsageFlags) (core1_0.Image, core1_0.DeviceMemory, error) {
	image, _, err := c.deviceDriver.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        format,
		Tiling:        core1_0.ImageTilingOptimal,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         usage,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       core1_0.Samples1,
	})
	if err != nil {
		return core1_0.Image{}, core1_0.DeviceMemory{}, err
	}

	memReqs := c.deviceDriver.GetImageMemoryRequirements(image)
	memoryIndex, err := c.findMemoryType(memReqs.MemoryTypeBits, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		c.deviceDriver.DestroyImage(image, nil)
		return core1_0.Image{}, core1_0.DeviceMemory{}, err
	}

	imageMemory, _, err := c.deviceDriver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryIndex,
	})
	if err != nil {
		c.deviceDriver.DestroyImage(image, nil)
		return core1_0.Image{}, core1_0.DeviceMemory{}, err
	}

	_, err = c.deviceDriver.BindImageMemory(image, imageMemory, 0)
	if err != nil {
		c.deviceDriver.DestroyImage(image, nil)
		c.deviceDriver.FreeMemory(imageMemory, nil)
		return core1_0.Image{}, core1_0.DeviceMemory{}, err
	}

	return image, imageMemory, nil
}

func (c *Context) createImageView(image core1_0.Image, format core1_0.Format) (core1_0.ImageView, error) {
	imageView, _, err := c.deviceDriver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:            image,
		ViewType:         core1_0.ImageViewType2D,
		Format:           format,
		SubresourceRange: colorSubresource(),
	})
	return imageView, err
}

func colorSubresource() core1_0.ImageSubresourceRange {
	return core1_0.ImageSubresourceRange{
		AspectMask:     core1_0.ImageAspectColor,
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

func (c *Context) findMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	memProperties := c.instanceDriver.GetPhysicalDeviceMemoryProperties(c.physicalDevice)
	for i, memoryType := range memProperties.MemoryTypes {
		typeBit := uint32(1 << i)

		if (typeFilter&typeBit) != 0 && (memoryType.PropertyFlags&properties) == properties {
			return i, nil
		}
	}

	return 0, errors.Newf("no memory type matches filter %#x with properties %s", typeFilter, properties)
}

// writeData copies data into host-visible memory.
func (c *Context) writeData(memory core1_0.DeviceMemory, offset int, data []byte) error {
	memoryPtr, _, err := c.deviceDriver.MapMemory(memory, offset, len(data), 0)
	if err != nil {
		return err
	}
	defer c.deviceDriver.UnmapMemory(memory)

	dataBuffer := unsafe.Slice((*byte)(memoryPtr), len(data))
	copy(dataBuffer, data)
	return nil
}
