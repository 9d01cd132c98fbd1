// Package inflight drives a compute pass and a graphics pass per frame with a
// bounded number of frames in flight. It owns the pacing of CPU recording
// against GPU execution, swapchain acquisition and recovery, and the image
// barriers between the two passes. The GPU itself is reached only through the
// small interfaces declared here; package vkbackend implements them with
// vkngwrapper.
package inflight

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// ErrZeroDrawable is returned when a swapchain is requested for a window with
// no drawable area at startup.
var ErrZeroDrawable = errors.New("drawable area is zero")

// Handle is an opaque backend object: an image, image view, sampler or
// semaphore. Every vkngwrapper object satisfies it.
type Handle interface {
	Initialized() bool
}

type Extent struct {
	Width  int
	Height int
}

// Empty reports whether the extent covers no pixels.
func (e Extent) Empty() bool {
	return e.Width <= 0 || e.Height <= 0
}

func (e Extent) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

// Window is the windowing collaborator. It is polled once per iteration
// before drawing.
type Window interface {
	Poll()
	ShouldClose() bool
	DrawableSize() Extent
	PointerPosition() mgl32.Vec2
}

// Pipeline is a bindable compute or graphics pipeline object.
type Pipeline interface {
	Name() string
	BindPoint() core1_0.PipelineBindPoint
}

type BindingKind int

const (
	BindingStorageImage BindingKind = iota
	BindingSampledImage
	BindingSampler
)

var bindingKindNames = map[BindingKind]string{
	BindingStorageImage: "StorageImage",
	BindingSampledImage: "SampledImage",
	BindingSampler:      "Sampler",
}

func (k BindingKind) String() string {
	if name, ok := bindingKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("BindingKind(%d)", int(k))
}

// Binding is one descriptor in a pipeline's first descriptor set.
type Binding struct {
	Index   int
	Kind    BindingKind
	View    Handle
	Sampler Handle
	Layout  core1_0.ImageLayout
}

// FrameParameters is pushed to both passes every frame. The field order and
// sizes match the push-constant block of the shaders.
type FrameParameters struct {
	SizeX  uint32
	SizeY  uint32
	Time   float32
	MouseX float32
	MouseY float32
}

// Bytes encodes the parameters in the byte order the GPU expects.
func (p FrameParameters) Bytes() []byte {
	buf := &bytes.Buffer{}
	// Writes to a bytes.Buffer of a fixed-size struct cannot fail.
	_ = binary.Write(buf, common.ByteOrder, p)
	return buf.Bytes()
}

// FrameParametersSize is the encoded size of FrameParameters.
var FrameParametersSize = binary.Size(FrameParameters{})
