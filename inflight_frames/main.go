package main

import (
	"context"
	"embed"
	"image"
	"log"
	"log/slog"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/sync/errgroup"

	"github.com/walterhackin/graphics-course/inflight"
	"github.com/walterhackin/graphics-course/inflight/vkbackend"
)

//go:embed shaders images
var fileSystem embed.FS

const (
	applicationName = "Local Shadertoy"
	windowWidth     = 1280
	windowHeight    = 720
	vsync           = true
	framesInFlight  = inflight.DefaultFramesInFlight
	// Must match @workgroup_size in shaders/texture.wgsl.
	workgroupSize = 32
	cpuLoad       = 8 * time.Millisecond

	computeShaderPath  = "shaders/texture.wgsl"
	graphicsShaderPath = "shaders/toy.wgsl"
	texturePath        = "images/texture1.bmp"
)

const enableValidationLayers = true

type assets struct {
	compute  vkbackend.Program
	graphics vkbackend.Program
	texture  *image.RGBA
}

// loadAssets compiles both programs and decodes the texture concurrently.
func loadAssets() (assets, error) {
	var a assets
	group, _ := errgroup.WithContext(context.Background())

	group.Go(func() error {
		var err error
		a.compute, err = compileShader("texture", computeShaderPath)
		return err
	})
	group.Go(func() error {
		var err error
		a.graphics, err = compileShader("image", graphicsShaderPath)
		return err
	})
	group.Go(func() error {
		var err error
		a.texture, err = loadTexture(texturePath)
		return err
	})

	return a, group.Wait()
}

func compileShader(name, path string) (vkbackend.Program, error) {
	source, err := fileSystem.ReadFile(path)
	if err != nil {
		return vkbackend.Program{}, errors.Wrapf(err, "read %s", path)
	}
	return vkbackend.CompileProgram(name, string(source))
}

type ShadertoyApplication struct {
	sdlWindow *sdl.Window
	window    *window

	ctx          *vkbackend.Context
	surface      *vkbackend.Swapchain
	swapchain    *inflight.SwapchainController
	intermediate *vkbackend.Intermediate
	texture      *vkbackend.Texture
	sampler      core1_0.Sampler
	compute      *vkbackend.Pipeline
	graphics     *vkbackend.Pipeline
	slotFactory  *vkbackend.SlotFactory
	slots        *inflight.FrameSlotPool

	orchestrator *inflight.FrameOrchestrator
}

func (app *ShadertoyApplication) Run() error {
	err := app.initWindow()
	if err != nil {
		return err
	}

	defer app.cleanup()
	err = app.initRenderer()
	if err != nil {
		return err
	}

	return app.orchestrator.Run()
}

func (app *ShadertoyApplication) initWindow() error {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return errors.Wrap(err, "init SDL")
	}

	sdlWindow, err := sdl.CreateWindow(applicationName, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, windowWidth, windowHeight, sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		sdl.Quit()
		return errors.Wrap(err, "create window")
	}
	app.sdlWindow = sdlWindow
	app.window = &window{handle: sdlWindow}

	return nil
}

func (app *ShadertoyApplication) initRenderer() error {
	start := hrtime.Now()

	loaded, err := loadAssets()
	if err != nil {
		return err
	}
	slog.Debug("assets loaded", "elapsed", hrtime.Since(start))

	app.ctx, err = vkbackend.NewContext(app.sdlWindow, vkbackend.ContextOptions{
		ApplicationName: applicationName,
		Validation:      enableValidationLayers,
		WorkgroupSize:   workgroupSize,
	})
	if err != nil {
		return err
	}

	app.surface = vkbackend.NewSwapchain(app.ctx)
	app.swapchain, err = inflight.NewSwapchainController(app.surface, inflight.Extent{Width: windowWidth, Height: windowHeight}, vsync)
	if err != nil {
		return err
	}

	app.intermediate, err = vkbackend.NewIntermediate(app.ctx, app.swapchain.Resolution())
	if err != nil {
		return err
	}

	app.texture, err = vkbackend.UploadTexture(app.ctx, loaded.texture)
	if err != nil {
		return err
	}

	app.sampler, err = vkbackend.NewSampler(app.ctx)
	if err != nil {
		return err
	}

	app.compute, err = vkbackend.NewComputePipeline(app.ctx, loaded.compute)
	if err != nil {
		return err
	}

	app.graphics, err = vkbackend.NewGraphicsPipeline(app.ctx, loaded.graphics, app.surface.RenderPass())
	if err != nil {
		return err
	}

	app.slotFactory = vkbackend.NewSlotFactory(app.ctx, app.surface)
	app.slots, err = inflight.NewFrameSlotPool(framesInFlight, app.slotFactory, vkbackend.NewQueue(app.ctx))
	if err != nil {
		return err
	}

	scene := inflight.Scene{
		Compute:      app.compute,
		Graphics:     app.graphics,
		Intermediate: app.intermediate,
		Texture:      app.texture.View(),
		Sampler:      app.sampler,
	}
	app.orchestrator = inflight.NewFrameOrchestrator(app.window, app.slots, app.swapchain, inflight.NewResourceStateTracker(), scene, inflight.Options{
		VSync:         vsync,
		WorkgroupSize: workgroupSize,
		CPULoad:       cpuLoad,
	})

	slog.Info("renderer ready", "device", app.ctx.DeviceName(), "resolution", app.swapchain.Resolution().String(), "framesInFlight", app.slots.Len(), "startup", hrtime.Since(start))
	return nil
}

// cleanup tears down in reverse creation order once the device is idle.
func (app *ShadertoyApplication) cleanup() {
	if app.ctx != nil {
		if err := app.ctx.WaitIdle(); err != nil {
			slog.Error("device did not go idle before cleanup", "error", err)
		}

		if app.slotFactory != nil {
			app.slotFactory.Destroy()
		}
		if app.graphics != nil {
			app.graphics.Destroy()
		}
		if app.compute != nil {
			app.compute.Destroy()
		}
		vkbackend.DestroySampler(app.ctx, app.sampler)
		if app.texture != nil {
			app.texture.Destroy()
		}
		if app.intermediate != nil {
			app.intermediate.Destroy()
		}
		if app.swapchain != nil {
			app.swapchain.Destroy()
		}
		if app.surface != nil {
			app.surface.Destroy()
		}
		app.ctx.Destroy()
	}

	if app.sdlWindow != nil {
		app.sdlWindow.Destroy()
	}
	sdl.Quit()
}

func main() {
	runtime.LockOSThread()
	inflight.SetLogger(slog.Default())

	app := &ShadertoyApplication{}

	err := app.Run()
	if err != nil {
		log.Fatalf("%+v\n", err)
	}
}
