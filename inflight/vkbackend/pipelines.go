package vkbackend

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/naga"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/walterhackin/graphics-course/inflight"
)

// Program is a WGSL source compiled to SPIR-V.
type Program struct {
	Name string
	Code []uint32
}

// CompileProgram compiles WGSL source. It touches no GPU state and may run
// on any goroutine.
func CompileProgram(name, wgsl string) (Program, error) {
	spirv, err := naga.Compile(wgsl)
	if err != nil {
		return Program{}, errors.Wrapf(err, "compile %s", name)
	}
	if len(spirv)%4 != 0 {
		return Program{}, errors.Newf("compile %s: SPIR-V is %d bytes, not a whole number of words", name, len(spirv))
	}
	return Program{Name: name, Code: bytesToBytecode(spirv)}, nil
}

func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	return byteCode
}

// Pipeline is a compute or graphics pipeline together with its layout and the
// layout of its only descriptor set.
type Pipeline struct {
	ctx       *Context
	name      string
	bindPoint core1_0.PipelineBindPoint

	pipeline   core1_0.Pipeline
	layout     core1_0.PipelineLayout
	setLayout  core1_0.DescriptorSetLayout
	pushStages core1_0.ShaderStageFlags
}

var _ inflight.Pipeline = (*Pipeline)(nil)

func (p *Pipeline) Name() string                         { return p.name }
func (p *Pipeline) BindPoint() core1_0.PipelineBindPoint { return p.bindPoint }

func (p *Pipeline) Destroy() {
	driver := p.ctx.deviceDriver
	if p.pipeline.Initialized() {
		driver.DestroyPipeline(p.pipeline, nil)
		p.pipeline = core1_0.Pipeline{}
	}
	if p.layout.Initialized() {
		driver.DestroyPipelineLayout(p.layout, nil)
		p.layout = core1_0.PipelineLayout{}
	}
	if p.setLayout.Initialized() {
		driver.DestroyDescriptorSetLayout(p.setLayout, nil)
		p.setLayout = core1_0.DescriptorSetLayout{}
	}
}

func asPipeline(p inflight.Pipeline) *Pipeline {
	pipeline, ok := p.(*Pipeline)
	if !ok {
		panic(errors.AssertionFailedf("pipeline %T was not created by vkbackend", p))
	}
	return pipeline
}

// layoutBinding declares one descriptor of a pipeline's set.
type layoutBinding struct {
	kind   inflight.BindingKind
	stages core1_0.ShaderStageFlags
}

// newPipelineLayout creates the set layout, with binding i described by
// bindings[i], and a pipeline layout with room for the frame parameters.
func (p *Pipeline) newPipelineLayout(bindings []layoutBinding) error {
	if inflight.FrameParametersSize > p.ctx.MaxPushConstantsSize() {
		return errors.Newf("frame parameters need %d push-constant bytes, device allows %d",
			inflight.FrameParametersSize, p.ctx.MaxPushConstantsSize())
	}

	var setBindings []core1_0.DescriptorSetLayoutBinding
	for i, binding := range bindings {
		typ, err := descriptorType(binding.kind)
		if err != nil {
			return err
		}
		setBindings = append(setBindings, core1_0.DescriptorSetLayoutBinding{
			Binding:         i,
			DescriptorType:  typ,
			DescriptorCount: 1,
			StageFlags:      binding.stages,
		})
	}

	var err error
	p.setLayout, _, err = p.ctx.deviceDriver.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: setBindings,
	})
	if err != nil {
		return errors.Wrap(err, "create descriptor set layout")
	}

	p.layout, _, err = p.ctx.deviceDriver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{p.setLayout},
		PushConstantRanges: []core1_0.PushConstantRange{
			{
				StageFlags: p.pushStages,
				Offset:     0,
				Size:       inflight.FrameParametersSize,
			},
		},
	})
	return errors.Wrap(err, "create pipeline layout")
}

func (c *Context) createShaderModule(program Program) (core1_0.ShaderModule, error) {
	module, _, err := c.deviceDriver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: program.Code,
	})
	return module, errors.Wrapf(err, "create shader module %s", program.Name)
}

// NewComputePipeline builds a pipeline from the cs_main entry point of
// program. Binding 0 is the storage image it writes.
func NewComputePipeline(ctx *Context, program Program) (*Pipeline, error) {
	p := &Pipeline{
		ctx:        ctx,
		name:       program.Name,
		bindPoint:  core1_0.PipelineBindPointCompute,
		pushStages: core1_0.StageCompute,
	}

	err := p.newPipelineLayout([]layoutBinding{
		{kind: inflight.BindingStorageImage, stages: core1_0.StageCompute},
	})
	if err != nil {
		p.Destroy()
		return nil, errors.Wrapf(err, "compute pipeline %s", program.Name)
	}

	shader, err := ctx.createShaderModule(program)
	if err != nil {
		p.Destroy()
		return nil, err
	}
	defer ctx.deviceDriver.DestroyShaderModule(shader, nil)

	pipelines, _, err := ctx.deviceDriver.CreateComputePipelines(nil, nil, core1_0.ComputePipelineCreateInfo{
		Stage: core1_0.PipelineShaderStageCreateInfo{
			Stage:  core1_0.StageCompute,
			Module: shader,
			Name:   "cs_main",
		},
		Layout:            p.layout,
		BasePipelineIndex: -1,
	})
	if err != nil {
		p.Destroy()
		return nil, errors.Wrapf(err, "create compute pipeline %s", program.Name)
	}

	p.pipeline = pipelines[0]
	return p, nil
}

// NewGraphicsPipeline builds a full-screen pipeline from the vs_main and
// fs_main entry points of program. Bindings 0 and 1 are sampled images and
// binding 2 is the sampler they are read with. Viewport and scissor are
// dynamic so the pipeline survives swapchain recreation.
func NewGraphicsPipeline(ctx *Context, program Program, renderPass core1_0.RenderPass) (*Pipeline, error) {
	p := &Pipeline{
		ctx:        ctx,
		name:       program.Name,
		bindPoint:  core1_0.PipelineBindPointGraphics,
		pushStages: core1_0.StageVertex | core1_0.StageFragment,
	}

	err := p.newPipelineLayout([]layoutBinding{
		{kind: inflight.BindingSampledImage, stages: core1_0.StageFragment},
		{kind: inflight.BindingSampledImage, stages: core1_0.StageFragment},
		{kind: inflight.BindingSampler, stages: core1_0.StageFragment},
	})
	if err != nil {
		p.Destroy()
		return nil, errors.Wrapf(err, "graphics pipeline %s", program.Name)
	}

	shader, err := ctx.createShaderModule(program)
	if err != nil {
		p.Destroy()
		return nil, err
	}
	defer ctx.deviceDriver.DestroyShaderModule(shader, nil)

	vertStage := core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.StageVertex,
		Module: shader,
		Name:   "vs_main",
	}

	fragStage := core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.StageFragment,
		Module: shader,
		Name:   "fs_main",
	}

	inputAssembly := &core1_0.PipelineInputAssemblyStateCreateInfo{
		Topology:               core1_0.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: false,
	}

	// Counts only; the values are set while recording.
	viewport := &core1_0.PipelineViewportStateCreateInfo{
		Viewports: []core1_0.Viewport{{}},
		Scissors:  []core1_0.Rect2D{{}},
	}

	rasterization := &core1_0.PipelineRasterizationStateCreateInfo{
		DepthClampEnable:        false,
		RasterizerDiscardEnable: false,

		PolygonMode: core1_0.PolygonModeFill,
		CullMode:    core1_0.CullModeNone,
		FrontFace:   core1_0.FrontFaceCounterClockwise,

		DepthBiasEnable: false,

		LineWidth: 1.0,
	}

	multisample := &core1_0.PipelineMultisampleStateCreateInfo{
		SampleShadingEnable:  false,
		RasterizationSamples: core1_0.Samples1,
		MinSampleShading:     1.0,
	}

	colorBlend := &core1_0.PipelineColorBlendStateCreateInfo{
		LogicOpEnabled: false,
		LogicOp:        core1_0.LogicOpCopy,

		BlendConstants: [4]float32{0, 0, 0, 0},
		Attachments: []core1_0.PipelineColorBlendAttachmentState{
			{
				BlendEnabled:   false,
				ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
			},
		},
	}

	dynamicState := &core1_0.PipelineDynamicStateCreateInfo{
		DynamicStates: []core1_0.DynamicState{core1_0.DynamicStateViewport, core1_0.DynamicStateScissor},
	}

	pipelines, _, err := ctx.deviceDriver.CreateGraphicsPipelines(nil, nil,
		core1_0.GraphicsPipelineCreateInfo{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				vertStage,
				fragStage,
			},
			VertexInputState:   &core1_0.PipelineVertexInputStateCreateInfo{},
			InputAssemblyState: inputAssembly,
			ViewportState:      viewport,
			RasterizationState: rasterization,
			MultisampleState:   multisample,
			ColorBlendState:    colorBlend,
			DynamicState:       dynamicState,
			Layout:             p.layout,
			RenderPass:         renderPass,
			Subpass:            0,
			BasePipelineIndex:  -1,
		},
	)
	if err != nil {
		p.Destroy()
		return nil, errors.Wrapf(err, "create graphics pipeline %s", program.Name)
	}

	p.pipeline = pipelines[0]
	return p, nil
}
