package vkbackend

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vkngwrapper/core/v3/core1_0"
)

func TestHasGraphicsAndCompute(t *testing.T) {
	assert.True(t, hasGraphicsAndCompute(core1_0.QueueGraphics|core1_0.QueueCompute|core1_0.QueueTransfer))
	assert.False(t, hasGraphicsAndCompute(core1_0.QueueGraphics))
	assert.False(t, hasGraphicsAndCompute(core1_0.QueueCompute))
}

func TestSupportsWorkgroup(t *testing.T) {
	// The guaranteed minimum limits.
	minimum := &core1_0.PhysicalDeviceLimits{
		MaxComputeWorkGroupSize:        [3]int{128, 128, 64},
		MaxComputeWorkGroupInvocations: 128,
	}
	assert.True(t, supportsWorkgroup(minimum, 8))
	assert.False(t, supportsWorkgroup(minimum, 16))
	assert.False(t, supportsWorkgroup(minimum, 32))

	desktop := &core1_0.PhysicalDeviceLimits{
		MaxComputeWorkGroupSize:        [3]int{1024, 1024, 64},
		MaxComputeWorkGroupInvocations: 1024,
	}
	assert.True(t, supportsWorkgroup(desktop, 32))
	assert.False(t, supportsWorkgroup(desktop, 33))

	narrow := &core1_0.PhysicalDeviceLimits{
		MaxComputeWorkGroupSize:        [3]int{1024, 16, 64},
		MaxComputeWorkGroupInvocations: 1024,
	}
	assert.False(t, supportsWorkgroup(narrow, 32))
	assert.False(t, supportsWorkgroup(nil, 1))
}

func TestPackedPixels(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}
	assert.Equal(t, img.Pix, packedPixels(img))

	// A sub-image keeps the parent's stride.
	sub := image.NewRGBA(image.Rect(0, 0, 3, 2))
	for i := range sub.Pix {
		sub.Pix[i] = byte(i)
	}
	left := sub.SubImage(image.Rect(0, 0, 1, 2)).(*image.RGBA)
	assert.Equal(t, []byte{0, 1, 2, 3, 12, 13, 14, 15}, packedPixels(left))
}
