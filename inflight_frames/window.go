package main

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/veandco/go-sdl2/sdl"

	"github.com/walterhackin/graphics-course/inflight"
)

// window adapts an SDL window to inflight.Window.
type window struct {
	handle      *sdl.Window
	shouldClose bool
}

var _ inflight.Window = (*window)(nil)

func (w *window) Poll() {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch e := event.(type) {
		case *sdl.QuitEvent:
			w.shouldClose = true
		case *sdl.KeyboardEvent:
			if e.Type == sdl.KEYDOWN && e.Keysym.Sym == sdl.K_ESCAPE {
				w.shouldClose = true
			}
		}
	}
}

func (w *window) ShouldClose() bool {
	return w.shouldClose
}

func (w *window) DrawableSize() inflight.Extent {
	width, height := w.handle.VulkanGetDrawableSize()
	return inflight.Extent{Width: int(width), Height: int(height)}
}

// PointerPosition is in drawable pixels, the unit of the frame resolution.
// SDL reports the pointer in window coordinates, which differ on HiDPI
// displays.
func (w *window) PointerPosition() mgl32.Vec2 {
	x, y, _ := sdl.GetMouseState()
	windowWidth, windowHeight := w.handle.GetSize()
	drawableWidth, drawableHeight := w.handle.VulkanGetDrawableSize()
	return toDrawable(mgl32.Vec2{float32(x), float32(y)},
		mgl32.Vec2{float32(windowWidth), float32(windowHeight)},
		mgl32.Vec2{float32(drawableWidth), float32(drawableHeight)})
}

// toDrawable scales a point from window coordinates to drawable pixels. A
// minimized window has no size and leaves the point unchanged.
func toDrawable(point, windowSize, drawableSize mgl32.Vec2) mgl32.Vec2 {
	if windowSize.X() <= 0 || windowSize.Y() <= 0 {
		return point
	}
	return mgl32.Vec2{
		point.X() * drawableSize.X() / windowSize.X(),
		point.Y() * drawableSize.Y() / windowSize.Y(),
	}
}
