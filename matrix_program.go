package vidfx

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

// matrixShaderWGSL draws a full-screen quad through a geometric transform
// and multiplies sampled colors by a color matrix. Both matrices are
// column-major.
const matrixShaderWGSL = `
struct Uniforms {
    transform: mat4x4<f32>,
    color_matrix: mat4x4<f32>,
};

@group(0) @binding(0) var<uniform> u: Uniforms;
@group(0) @binding(1) var src_tex: texture_2d<f32>;
@group(0) @binding(2) var src_sampler: sampler;

struct VSOut {
    @builtin(position) pos: vec4<f32>,
    @location(0) uv: vec2<f32>,
};

@vertex
fn vs_main(@builtin(vertex_index) vi: u32) -> VSOut {
    var quad = array<vec2<f32>, 6>(
        vec2<f32>(-1.0, -1.0),
        vec2<f32>(1.0, -1.0),
        vec2<f32>(-1.0, 1.0),
        vec2<f32>(-1.0, 1.0),
        vec2<f32>(1.0, -1.0),
        vec2<f32>(1.0, 1.0),
    );
    let p = quad[vi];
    var out: VSOut;
    out.pos = u.transform * vec4<f32>(p, 0.0, 1.0);
    out.uv = vec2<f32>(0.5 * (p.x + 1.0), 0.5 * (1.0 - p.y));
    return out;
}

@fragment
fn fs_main(in: VSOut) -> @location(0) vec4<f32> {
    let c = textureSample(src_tex, src_sampler, in.uv);
    return u.color_matrix * c;
}
`

// matrixUniformSize is two column-major mat4x4<f32>.
const matrixUniformSize = 2 * 16 * 4

const matrixDrawTimeout = 5 * time.Second

// matrixStageProgram is the built-in StageProgram for consolidated matrix
// and color-matrix effects. One instance serves one stage; GPU resources
// are created lazily on first Configure.
type matrixStageProgram struct {
	transform   [16]float32
	colorMatrix [16]float32

	// blend enables premultiplied-alpha blending, used when layering
	// multiple sources into one target.
	blend bool

	// loadExisting keeps the target's existing contents instead of
	// clearing before the draw.
	loadExisting bool

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.RenderPipeline
	sampler    hal.Sampler
	uniformBuf hal.Buffer
	uniformsUp bool
}

var _ StageProgram = (*matrixStageProgram)(nil)

func newMatrixStageProgram(transform, colorMatrix [16]float32) *matrixStageProgram {
	return &matrixStageProgram{
		transform:   transform,
		colorMatrix: colorMatrix,
	}
}

// Configure implements StageProgram. Matrix passes preserve dimensions.
func (p *matrixStageProgram) Configure(ctx *GPUContext, inputWidth, inputHeight int) (Size, error) {
	if p.pipeline == nil {
		if err := p.createPipeline(ctx); err != nil {
			return Size{}, err
		}
	}
	return Size{Width: inputWidth, Height: inputHeight}, nil
}

func (p *matrixStageProgram) createPipeline(ctx *GPUContext) error {
	spirvBytes, err := naga.Compile(matrixShaderWGSL)
	if err != nil {
		return fmt.Errorf("compile matrix shader: %w", err)
	}
	spirv := make([]uint32, len(spirvBytes)/4)
	for i := range spirv {
		spirv[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	shader, err := ctx.Device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "matrix_shader",
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return fmt.Errorf("create matrix shader module: %w", err)
	}
	p.shader = shader

	// Binding 0: uniforms, 1: source texture, 2: sampler.
	bindLayout, err := ctx.Device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "matrix_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    2,
				Visibility: gputypes.ShaderStageFragment,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			},
		},
	})
	if err != nil {
		p.Release(ctx)
		return fmt.Errorf("create matrix bind layout: %w", err)
	}
	p.bindLayout = bindLayout

	pipeLayout, err := ctx.Device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "matrix_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		p.Release(ctx)
		return fmt.Errorf("create matrix pipeline layout: %w", err)
	}
	p.pipeLayout = pipeLayout

	sampler, err := ctx.Device.CreateSampler(&hal.SamplerDescriptor{
		Label:        "matrix_sampler",
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeLinear,
	})
	if err != nil {
		p.Release(ctx)
		return fmt.Errorf("create matrix sampler: %w", err)
	}
	p.sampler = sampler

	target := gputypes.ColorTargetState{
		Format:    gputypes.TextureFormatRGBA8Unorm,
		WriteMask: gputypes.ColorWriteMaskAll,
	}
	if p.blend {
		premulBlend := gputypes.BlendStatePremultiplied()
		target.Blend = &premulBlend
	}
	pipeline, err := ctx.Device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "matrix_pipeline",
		Layout: pipeLayout,
		Vertex: hal.VertexState{
			Module:     shader,
			EntryPoint: "vs_main",
		},
		Fragment: &hal.FragmentState{
			Module:     shader,
			EntryPoint: "fs_main",
			Targets:    []gputypes.ColorTargetState{target},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		p.Release(ctx)
		return fmt.Errorf("create matrix pipeline: %w", err)
	}
	p.pipeline = pipeline

	uniformBuf, err := ctx.Device.CreateBuffer(&hal.BufferDescriptor{
		Label: "matrix_uniforms",
		Size:  matrixUniformSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		p.Release(ctx)
		return fmt.Errorf("create matrix uniform buffer: %w", err)
	}
	p.uniformBuf = uniformBuf
	return nil
}

// Draw implements StageProgram.
func (p *matrixStageProgram) Draw(ctx *GPUContext, input, output TextureHandle, presentationTimeUs int64) error {
	return p.draw(ctx, input, output, nil)
}

// setMatrices replaces both matrices; the uniforms re-upload on the next
// draw.
func (p *matrixStageProgram) setMatrices(transform, colorMatrix [16]float32) {
	p.transform = transform
	p.colorMatrix = colorMatrix
	p.uniformsUp = false
}

// draw renders input into output. With sync set, the submit's index is
// recorded on the sync object and the call returns without waiting; the
// texture consumer waits on the sync instead. With sync nil the draw blocks
// until the GPU finishes.
func (p *matrixStageProgram) draw(ctx *GPUContext, input, output TextureHandle, sync *SyncObject) error {
	cmdBuf, err := p.encodeDraw(ctx, input, output)
	if err != nil {
		return err
	}
	defer ctx.Device.FreeCommandBuffer(cmdBuf)

	if sync != nil {
		idx, err := ctx.Queue.Submit([]hal.CommandBuffer{cmdBuf})
		if err != nil {
			return fmt.Errorf("queue submit: %w", err)
		}
		sync.value = idx
		return nil
	}
	return submitSync(ctx, []hal.CommandBuffer{cmdBuf}, matrixDrawTimeout)
}

// drawQueued renders input into output without recording the submission.
// Execution is still ordered against later submits on the same queue, so a
// later recorded submit covers all queued draws before it.
func (p *matrixStageProgram) drawQueued(ctx *GPUContext, input, output TextureHandle) error {
	cmdBuf, err := p.encodeDraw(ctx, input, output)
	if err != nil {
		return err
	}
	defer ctx.Device.FreeCommandBuffer(cmdBuf)
	if _, err := ctx.Queue.Submit([]hal.CommandBuffer{cmdBuf}); err != nil {
		return fmt.Errorf("queue submit: %w", err)
	}
	return nil
}

func (p *matrixStageProgram) encodeDraw(ctx *GPUContext, input, output TextureHandle) (hal.CommandBuffer, error) {
	if input.View == nil || output.View == nil {
		return nil, fmt.Errorf("draw with missing texture view: input %dx%d, output %dx%d",
			input.Width, input.Height, output.Width, output.Height)
	}
	if !p.uniformsUp {
		data := make([]byte, matrixUniformSize)
		for i, v := range p.transform {
			binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
		}
		for i, v := range p.colorMatrix {
			binary.LittleEndian.PutUint32(data[64+i*4:], math.Float32bits(v))
		}
		ctx.Queue.WriteBuffer(p.uniformBuf, 0, data)
		p.uniformsUp = true
	}

	bindGroup, err := ctx.Device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "matrix_bind",
		Layout: p.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{
				Buffer: p.uniformBuf.NativeHandle(), Offset: 0, Size: matrixUniformSize,
			}},
			{Binding: 1, Resource: gputypes.TextureViewBinding{
				TextureView: input.View.NativeHandle(),
			}},
			{Binding: 2, Resource: gputypes.SamplerBinding{
				Sampler: p.sampler.NativeHandle(),
			}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create matrix bind group: %w", err)
	}
	defer ctx.Device.DestroyBindGroup(bindGroup)

	encoder, err := ctx.Device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "matrix_encoder",
	})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("matrix_draw"); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}

	loadOp := gputypes.LoadOpClear
	if p.loadExisting {
		loadOp = gputypes.LoadOpLoad
	}
	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "matrix_pass",
		ColorAttachments: []hal.RenderPassColorAttachment{
			{
				View:       output.View,
				LoadOp:     loadOp,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 0},
			},
		},
	})
	rp.SetPipeline(p.pipeline)
	rp.SetBindGroup(0, bindGroup, nil)
	rp.Draw(6, 1, 0, 0)
	rp.End()

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("end encoding: %w", err)
	}
	return cmdBuf, nil
}

// Release implements StageProgram. Safe to call on partially created state.
func (p *matrixStageProgram) Release(ctx *GPUContext) error {
	if p.uniformBuf != nil {
		ctx.Device.DestroyBuffer(p.uniformBuf)
		p.uniformBuf = nil
	}
	if p.pipeline != nil {
		ctx.Device.DestroyRenderPipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.sampler != nil {
		ctx.Device.DestroySampler(p.sampler)
		p.sampler = nil
	}
	if p.pipeLayout != nil {
		ctx.Device.DestroyPipelineLayout(p.pipeLayout)
		p.pipeLayout = nil
	}
	if p.bindLayout != nil {
		ctx.Device.DestroyBindGroupLayout(p.bindLayout)
		p.bindLayout = nil
	}
	if p.shader != nil {
		ctx.Device.DestroyShaderModule(p.shader)
		p.shader = nil
	}
	p.uniformsUp = false
	return nil
}
