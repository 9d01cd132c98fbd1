// Package vkbackend implements the inflight engine interfaces on Vulkan
// through vkngwrapper.
package vkbackend

import (
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"

	"github.com/walterhackin/graphics-course/inflight"
)

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
var deviceExtensions = []string{khr_swapchain.ExtensionName}

// The compute pass writes this format through a storage image.
const intermediateFormat = core1_0.FormatR8G8B8A8UnsignedNormalized

type ContextOptions struct {
	ApplicationName string
	Validation      bool
	// WorkgroupSize is the square tile edge of the compute shader. Devices
	// that cannot run a tile that large are skipped.
	WorkgroupSize int
}

type queueFamilyIndices struct {
	GraphicsFamily *int
	PresentFamily  *int
}

func (i *queueFamilyIndices) IsComplete() bool {
	return i.GraphicsFamily != nil && i.PresentFamily != nil
}

type swapchainSupportDetails struct {
	Capabilities *khr_surface.SurfaceCapabilities
	Formats      []khr_surface.SurfaceFormat
	PresentModes []khr_surface.PresentMode
}

// Context owns the instance, the logical device, the window surface and the
// queues every other backend object is created from.
type Context struct {
	window *sdl.Window
	opts   ContextOptions

	globalDriver   core1_0.GlobalDriver
	instanceDriver core1_0.CoreInstanceDriver
	deviceDriver   core1_0.CoreDeviceDriver

	debugDriver        ext_debug_utils.ExtensionDriver
	debugMessenger     ext_debug_utils.DebugUtilsMessenger
	surfaceExtension   khr_surface.ExtensionDriver
	surface            khr_surface.Surface
	swapchainExtension khr_swapchain.ExtensionDriver

	physicalDevice   core1_0.PhysicalDevice
	deviceName       string
	maxPushConstants int
	families         queueFamilyIndices

	graphicsQueue core1_0.Queue
	presentQueue  core1_0.Queue
	commandPool   core1_0.CommandPool
}

// NewContext brings up Vulkan for an SDL window created with
// sdl.WINDOW_VULKAN. The calling goroutine must stay locked to its thread.
func NewContext(window *sdl.Window, opts ContextOptions) (*Context, error) {
	c := &Context{window: window, opts: opts}

	var err error
	c.globalDriver, err = core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return nil, errors.Wrap(err, "load vulkan")
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"create instance", c.createInstance},
		{"set up debug messenger", c.setupDebugMessenger},
		{"create surface", c.createSurface},
		{"pick physical device", c.pickPhysicalDevice},
		{"create logical device", c.createLogicalDevice},
		{"create command pool", c.createCommandPool},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			c.Destroy()
			return nil, errors.Wrap(err, step.name)
		}
	}
	return c, nil
}

// DrawableSize is the window's drawable area in pixels.
func (c *Context) DrawableSize() inflight.Extent {
	w, h := c.window.VulkanGetDrawableSize()
	return inflight.Extent{Width: int(w), Height: int(h)}
}

// MaxPushConstantsSize is the device limit on push-constant bytes.
func (c *Context) MaxPushConstantsSize() int {
	return c.maxPushConstants
}

// DeviceName identifies the selected GPU.
func (c *Context) DeviceName() string {
	return c.deviceName
}

// WaitIdle blocks until the device has finished all work.
func (c *Context) WaitIdle() error {
	_, err := c.deviceDriver.DeviceWaitIdle()
	return errors.Wrap(err, "wait for device idle")
}

// Destroy releases everything NewContext created. Objects created from the
// context must be destroyed first.
func (c *Context) Destroy() {
	if c.commandPool.Initialized() {
		c.deviceDriver.DestroyCommandPool(c.commandPool, nil)
		c.commandPool = core1_0.CommandPool{}
	}

	if c.deviceDriver != nil {
		c.deviceDriver.DestroyDevice(nil)
		c.deviceDriver = nil
	}

	if c.debugMessenger.Initialized() {
		c.debugDriver.DestroyDebugUtilsMessenger(c.debugMessenger, nil)
		c.debugMessenger = ext_debug_utils.DebugUtilsMessenger{}
	}

	if c.surface.Initialized() {
		c.surfaceExtension.DestroySurface(c.surface, nil)
		c.surface = khr_surface.Surface{}
	}

	if c.instanceDriver != nil {
		c.instanceDriver.DestroyInstance(nil)
		c.instanceDriver = nil
	}
}

func (c *Context) createInstance() error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    c.opts.ApplicationName,
		ApplicationVersion: common.CreateVersion(0, 1, 0),
		EngineName:         "inflight",
		EngineVersion:      common.CreateVersion(0, 1, 0),
		APIVersion:         common.Vulkan1_2,
	}

	sdlExtensions := c.window.VulkanGetInstanceExtensions()
	extensions, _, err := c.globalDriver.AvailableExtensions()
	if err != nil {
		return err
	}

	for _, ext := range sdlExtensions {
		if _, hasExt := extensions[ext]; !hasExt {
			return errors.Newf("missing instance extension %s required by sdl", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if c.opts.Validation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	if _, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]; enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if c.opts.Validation {
		layers, _, err := c.globalDriver.AvailableLayers()
		if err != nil {
			return err
		}

		for _, layer := range validationLayers {
			if _, hasValidation := layers[layer]; !hasValidation {
				return errors.Newf("validation layer %s not available, install the LunarG Vulkan SDK", layer)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}

		instanceOptions.Next = c.debugMessengerOptions()
	}

	c.instanceDriver, _, err = c.globalDriver.CreateInstance(nil, instanceOptions)
	return err
}

func (c *Context) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    logDebug,
	}
}

func (c *Context) setupDebugMessenger() error {
	if !c.opts.Validation {
		return nil
	}

	var err error
	c.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(c.instanceDriver)
	c.debugMessenger, _, err = c.debugDriver.CreateDebugUtilsMessenger(nil, c.debugMessengerOptions())
	return err
}

func (c *Context) createSurface() error {
	c.surfaceExtension = khr_surface.CreateExtensionDriverFromCoreDriver(c.instanceDriver)
	surface, err := vkng_sdl2.CreateSurface(c.instanceDriver.Instance(), c.surfaceExtension, c.window)
	if err != nil {
		return err
	}

	c.surface = surface
	return nil
}

func (c *Context) pickPhysicalDevice() error {
	physicalDevices, _, err := c.instanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return err
	}

	for _, device := range physicalDevices {
		if c.isDeviceSuitable(device) {
			c.physicalDevice = device
			break
		}
	}

	if !c.physicalDevice.Initialized() {
		return errors.Newf("no GPU supports presentation, storage images and %dx%d compute workgroups", c.opts.WorkgroupSize, c.opts.WorkgroupSize)
	}

	properties, err := c.instanceDriver.GetPhysicalDeviceProperties(c.physicalDevice)
	if err != nil {
		return err
	}
	c.deviceName = properties.DeviceName
	c.maxPushConstants = properties.Limits.MaxPushConstantsSize

	c.families, err = c.findQueueFamilies(c.physicalDevice)
	if err != nil {
		return err
	}

	inflight.Logger().Info("selected GPU", "device", c.deviceName)
	return nil
}

func (c *Context) createLogicalDevice() error {
	indices := c.families

	uniqueQueueFamilies := []int{*indices.GraphicsFamily}
	if uniqueQueueFamilies[0] != *indices.PresentFamily {
		uniqueQueueFamilies = append(uniqueQueueFamilies, *indices.PresentFamily)
	}

	var queueFamilyOptions []core1_0.DeviceQueueCreateInfo
	queuePriority := float32(1.0)
	for _, queueFamily := range uniqueQueueFamilies {
		queueFamilyOptions = append(queueFamilyOptions, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{queuePriority},
		})
	}

	var extensionNames []string
	extensionNames = append(extensionNames, deviceExtensions...)

	extensions, _, err := c.instanceDriver.EnumerateDeviceExtensionProperties(c.physicalDevice)
	if err != nil {
		return err
	}

	if _, supported := extensions[khr_portability_subset.ExtensionName]; supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	c.deviceDriver, _, err = c.instanceDriver.CreateDevice(c.physicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos:      queueFamilyOptions,
		EnabledFeatures:       &core1_0.PhysicalDeviceFeatures{},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return err
	}

	c.swapchainExtension = khr_swapchain.CreateExtensionDriverFromCoreDriver(c.deviceDriver)
	c.graphicsQueue = c.deviceDriver.GetQueue(*indices.GraphicsFamily, 0)
	c.presentQueue = c.deviceDriver.GetQueue(*indices.PresentFamily, 0)
	return nil
}

func (c *Context) createCommandPool() error {
	pool, _, err := c.deviceDriver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: *c.families.GraphicsFamily,
	})
	if err != nil {
		return err
	}

	c.commandPool = pool
	return nil
}

func (c *Context) querySwapchainSupport(device core1_0.PhysicalDevice) (swapchainSupportDetails, error) {
	var details swapchainSupportDetails
	var err error

	details.Capabilities, _, err = c.surfaceExtension.GetPhysicalDeviceSurfaceCapabilities(c.surface, device)
	if err != nil {
		return details, err
	}

	details.Formats, _, err = c.surfaceExtension.GetPhysicalDeviceSurfaceFormats(c.surface, device)
	if err != nil {
		return details, err
	}

	details.PresentModes, _, err = c.surfaceExtension.GetPhysicalDeviceSurfacePresentModes(c.surface, device)
	return details, err
}

func (c *Context) isDeviceSuitable(device core1_0.PhysicalDevice) bool {
	indices, err := c.findQueueFamilies(device)
	if err != nil {
		return false
	}

	if !c.checkDeviceExtensionSupport(device) {
		return false
	}

	swapchainSupport, err := c.querySwapchainSupport(device)
	if err != nil {
		return false
	}
	if len(swapchainSupport.Formats) == 0 || len(swapchainSupport.PresentModes) == 0 {
		return false
	}

	properties, err := c.instanceDriver.GetPhysicalDeviceProperties(device)
	if err != nil || !supportsWorkgroup(properties.Limits, c.opts.WorkgroupSize) {
		return false
	}

	props := c.instanceDriver.GetPhysicalDeviceFormatProperties(device, intermediateFormat)
	storage := props.OptimalTilingFeatures & core1_0.FormatFeatureStorageImage
	return indices.IsComplete() && storage != 0
}

// supportsWorkgroup reports whether a size x size x 1 compute workgroup fits
// the device limits.
func supportsWorkgroup(limits *core1_0.PhysicalDeviceLimits, size int) bool {
	if limits == nil {
		return false
	}
	return size <= limits.MaxComputeWorkGroupSize[0] &&
		size <= limits.MaxComputeWorkGroupSize[1] &&
		size*size <= limits.MaxComputeWorkGroupInvocations
}

func (c *Context) checkDeviceExtensionSupport(device core1_0.PhysicalDevice) bool {
	extensions, _, err := c.instanceDriver.EnumerateDeviceExtensionProperties(device)
	if err != nil {
		return false
	}

	for _, extension := range deviceExtensions {
		if _, hasExtension := extensions[extension]; !hasExtension {
			return false
		}
	}

	return true
}

// findQueueFamilies looks for one family that can both draw and dispatch,
// and one that can present to the surface.
func (c *Context) findQueueFamilies(device core1_0.PhysicalDevice) (queueFamilyIndices, error) {
	indices := queueFamilyIndices{}
	queueFamilies := c.instanceDriver.GetPhysicalDeviceQueueFamilyProperties(device)

	for queueFamilyIdx, queueFamily := range queueFamilies {
		if hasGraphicsAndCompute(queueFamily.QueueFlags) {
			indices.GraphicsFamily = new(int)
			*indices.GraphicsFamily = queueFamilyIdx
		}

		supported, _, err := c.surfaceExtension.GetPhysicalDeviceSurfaceSupport(c.surface, device, queueFamilyIdx)
		if err != nil {
			return indices, err
		}

		if supported {
			indices.PresentFamily = new(int)
			*indices.PresentFamily = queueFamilyIdx
		}

		if indices.IsComplete() {
			break
		}
	}

	return indices, nil
}

func hasGraphicsAndCompute(flags core1_0.QueueFlags) bool {
	want := core1_0.QueueGraphics | core1_0.QueueCompute
	return flags&want == want
}

func logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	if (severity & ext_debug_utils.SeverityError) != 0 {
		inflight.Logger().Error(data.Message, "type", msgType.String())
	} else {
		inflight.Logger().Warn(data.Message, "type", msgType.String())
	}
	return false
}
