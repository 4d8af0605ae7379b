package shader

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const paramsSource = `struct Params {
    planes: array<vec4<f32>, 5>,
    origin: vec4<f32>,
    count: u32,
    _pad0: u32,
    _pad1: u32,
    _pad2: u32,
}`

const helpersSource = `fn double_it(v: u32) -> u32 {
    return v * 2u;
}`

func testIncludes() []ShaderOption {
	return []ShaderOption{
		WithInclude("params", paramsSource, "Params"),
		WithInclude("helpers", helpersSource, ""),
	}
}

const computeSource = `//@vhm:include params
//@vhm:group 0 0 uniform params params
@group(0) @binding(1) var<storage, read_write> items: array<atomic<u32>>;
@group(0) @binding(2) var<storage, read> values: array<vec4<f32>>;
@group(1) @binding(0) var lod_map: texture_2d<f32>;
//@vhm:include helpers
//@vhm:include helpers

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    atomicAdd(&items[id.x], double_it(params.count));
}
`

func TestPreProcessorIncludesOnce(t *testing.T) {
	pp := NewPreProcessor(map[string]Include{"helpers": {Source: helpersSource}})
	out, err := pp.Process("//@vhm:include helpers\n//@vhm:include helpers\nfn main() {}")
	require.NoError(t, err)
	assert.Equal(t, helpersSource+"\nfn main() {}", out)
	assert.Empty(t, pp.Declarations())
}

func TestPreProcessorGroupDeclaration(t *testing.T) {
	pp := NewPreProcessor(map[string]Include{"params": {Source: paramsSource, Type: "Params"}})

	out, err := pp.Process("//@vhm:group 2 3 storage_read all array<params>")
	require.NoError(t, err)
	assert.Equal(t, "@group(2) @binding(3) var<storage, read> all: array<Params>;", out)

	decls := pp.Declarations()
	require.Len(t, decls, 1)
	assert.Equal(t, AnnotationTypeBindingGroup, decls[0].Type)
	assert.Equal(t, 2, *decls[0].Group)
	assert.Equal(t, 3, *decls[0].Binding)
	assert.Equal(t, []string{"storage_read", "all", "array<params>"}, decls[0].Args)
}

func TestPreProcessorErrors(t *testing.T) {
	pp := NewPreProcessor(map[string]Include{"helpers": {Source: helpersSource}})
	cases := map[string]string{
		"unknown include":        "//@vhm:include nope",
		"include arity":          "//@vhm:include",
		"function library type":  "//@vhm:group 0 0 uniform h helpers",
		"bad group number":       "//@vhm:group x 0 uniform h helpers",
		"unknown address space":  "//@vhm:group 0 0 private h helpers",
		"unknown annotation":     "//@vhm:define X 1",
		"empty annotation":       "//@vhm:",
		"group annotation arity": "//@vhm:group 0 0 uniform",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := pp.Process(src)
			assert.Error(t, err)
		})
	}
}

func TestPreProcessorIgnoresCodeMentions(t *testing.T) {
	pp := NewPreProcessor(nil)
	src := "let s = 1u; // see @vhm:include elsewhere"
	out, err := pp.Process(src)
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestNewShaderReflectsCompute(t *testing.T) {
	s, err := NewShader("test", ShaderTypeCompute, computeSource, testIncludes()...)
	require.NoError(t, err)

	assert.Equal(t, "main", s.EntryPoint())
	assert.Equal(t, [3]uint32{64, 1, 1}, s.WorkgroupSize())
	assert.Equal(t, "test", s.Module().Label)
	assert.Contains(t, s.Source(), "struct Params")
	assert.Len(t, s.Declarations(), 1)

	g0 := s.BindGroupLayoutDescriptor(0)
	require.Len(t, g0.Entries, 3)
	assert.Equal(t, wgpu.BufferBindingTypeUniform, g0.Entries[0].Buffer.Type)
	// 5*16 + 16 + 4*4
	assert.Equal(t, uint64(112), g0.Entries[0].Buffer.MinBindingSize)
	assert.Equal(t, wgpu.BufferBindingTypeStorage, g0.Entries[1].Buffer.Type)
	assert.Equal(t, uint64(4), g0.Entries[1].Buffer.MinBindingSize)
	assert.Equal(t, wgpu.BufferBindingTypeReadOnlyStorage, g0.Entries[2].Buffer.Type)
	assert.Equal(t, uint64(16), g0.Entries[2].Buffer.MinBindingSize)
	for _, e := range g0.Entries {
		assert.Equal(t, wgpu.ShaderStageCompute, e.Visibility)
	}

	g1 := s.BindGroupLayoutDescriptor(1)
	require.Len(t, g1.Entries, 1)
	assert.Equal(t, wgpu.TextureSampleTypeFloat, g1.Entries[0].Texture.SampleType)
	assert.Equal(t, wgpu.TextureViewDimension2D, g1.Entries[0].Texture.ViewDimension)

	binding, ok := s.BindGroupFromVarName(0, "items")
	assert.True(t, ok)
	assert.Equal(t, 1, binding)
	_, ok = s.BindGroupFromVarName(0, "missing")
	assert.False(t, ok)
	assert.Equal(t, "lod_map", s.BindGroupVarName(1, 0))
	assert.Equal(t, "", s.BindGroupVarName(3, 0))
}

func TestNewShaderRenderStages(t *testing.T) {
	src := `@group(0) @binding(0) var<storage, read> data: array<vec4<f32>>;
@vertex
fn vs_main(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> {
    return data[i];
}
@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0);
}`
	vs, err := NewShader("tile_vs", ShaderTypeVertex, src)
	require.NoError(t, err)
	fs, err := NewShader("tile_fs", ShaderTypeFragment, src)
	require.NoError(t, err)

	assert.Equal(t, "vs_main", vs.EntryPoint())
	assert.Equal(t, "fs_main", fs.EntryPoint())
	assert.Equal(t, [3]uint32{}, vs.WorkgroupSize())
	assert.Equal(t, wgpu.ShaderStageVertex, vs.BindGroupLayoutDescriptor(0).Entries[0].Visibility)
	assert.Equal(t, wgpu.ShaderStageFragment, fs.BindGroupLayoutDescriptor(0).Entries[0].Visibility)

	_, err = NewShader("tile_cs", ShaderTypeCompute, src)
	assert.Error(t, err)
	_, err = NewShader("empty", ShaderTypeCompute, "")
	assert.Error(t, err)
}

func TestResolveTypeLayout(t *testing.T) {
	known := map[string]wgslTypeLayout{"Quad": {24, 4}}
	cases := []struct {
		typeName string
		want     wgslTypeLayout
		ok       bool
	}{
		{"u32", wgslTypeLayout{4, 4}, true},
		{"vec3<f32>", wgslTypeLayout{12, 16}, true},
		{"array<vec4<f32>, 5>", wgslTypeLayout{80, 16}, true},
		{"array<vec3<f32>, 2>", wgslTypeLayout{32, 16}, true},
		{"array<Quad>", wgslTypeLayout{24, 4}, true},
		{"array<atomic<u32>>", wgslTypeLayout{4, 4}, true},
		{"Unknown", wgslTypeLayout{}, false},
		{"array<u32, n>", wgslTypeLayout{}, false},
	}
	for _, c := range cases {
		t.Run(c.typeName, func(t *testing.T) {
			got, ok := resolveTypeLayout(c.typeName, known)
			assert.Equal(t, c.ok, ok)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestComputeStructSizesNested(t *testing.T) {
	src := stripComments(`
struct Outer {
    inner: Inner,
    tail: array<u32>,
}
// Inner is declared after its user.
struct Inner {
    a: vec3<f32>,
    b: f32,
    c: u32,
}`)
	sizes := computeStructSizes(parseStructBlocks(src))
	assert.Equal(t, wgslTypeLayout{32, 16}, sizes["Inner"])
	assert.Equal(t, wgslTypeLayout{32, 16}, sizes["Outer"])
}

func TestStripComments(t *testing.T) {
	src := "a /* b /* nested */ c */ d // e\nf"
	assert.Equal(t, "a  d \nf\n", stripComments(src))
}
