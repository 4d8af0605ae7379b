package shader

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/cogentcore/webgpu/wgpu"
)

// ShaderType identifies the pipeline stage a shader is built for.
type ShaderType int

const (
	// ShaderTypeCompute indicates a shader containing a @compute entry point.
	ShaderTypeCompute ShaderType = iota

	// ShaderTypeVertex is the vertex shader type, used for vertex processing in render pipelines.
	ShaderTypeVertex

	// ShaderTypeFragment is the fragment shader type, used for fragment processing in pair with a vertex shader.
	ShaderTypeFragment
)

// shader is the implementation of the Shader interface.
type shader struct {
	key                        string
	source                     string
	shaderType                 ShaderType
	bindGroupLayoutDescriptors map[int]wgpu.BindGroupLayoutDescriptor
	bindingVarNames            map[int]map[int]string
	workGroupSize              [3]uint32
	entryPoint                 string
	module                     *wgpu.ShaderModuleDescriptor
	declarations               []Annotation

	includes map[string]Include
}

// Shader defines the interface for a pre-processed and reflected WGSL shader. It exposes the
// shader's key, source, entry point, bind group layout descriptors and workgroup size needed
// for pipeline creation and resource wiring.
type Shader interface {
	// Key retrieves the unique identifier for this shader, used for caching and lookups.
	//
	// Returns:
	//   - string: the shader's unique key
	Key() string

	// Source retrieves the pre-processed WGSL shader source code.
	//
	// Returns:
	//   - string: the WGSL source code of the shader
	Source() string

	// BindGroupLayoutDescriptor retrieves the bind group layout descriptor for a group index.
	//
	// Parameters:
	//   - group: the group index
	//
	// Returns:
	//   - wgpu.BindGroupLayoutDescriptor: the descriptor, or an empty descriptor if the group is unused
	BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor

	// BindGroupLayoutDescriptors retrieves all parsed bind group layout descriptors.
	//
	// Returns:
	//   - map[int]wgpu.BindGroupLayoutDescriptor: descriptors keyed by group index
	BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor

	// BindGroupVarName retrieves the variable name for a given group and binding index.
	//
	// Parameters:
	//   - group: the bind group index
	//   - binding: the binding index within the group
	//
	// Returns:
	//   - string: the variable name, or an empty string if not found
	BindGroupVarName(group, binding int) string

	// BindGroupFromVarName retrieves the binding index for a given group and variable name.
	//
	// Parameters:
	//   - group: the bind group index
	//   - varName: the variable name within the group
	//
	// Returns:
	//   - int: the binding index associated with the variable name, or -1 if not found
	//   - bool: true if the variable name was found, false otherwise
	BindGroupFromVarName(group int, varName string) (int, bool)

	// EntryPoint returns the entry point name for this shader's stage.
	//
	// Returns:
	//   - string: the entry point name
	EntryPoint() string

	// WorkgroupSize returns the workgroup size dimensions for compute shaders.
	// Returns [0, 0, 0] for non-compute shaders and [1, 1, 1] as the default when
	// @workgroup_size is not specified.
	//
	// Returns:
	//   - [3]uint32: the workgroup size as [x, y, z]
	WorkgroupSize() [3]uint32

	// Module returns the shader module descriptor built from the processed source.
	//
	// Returns:
	//   - *wgpu.ShaderModuleDescriptor: the descriptor containing the WGSL code and label
	Module() *wgpu.ShaderModuleDescriptor

	// ShaderType returns the stage of the shader.
	//
	// Returns:
	//   - ShaderType: ShaderTypeVertex, ShaderTypeFragment, or ShaderTypeCompute
	ShaderType() ShaderType

	// Declarations returns the group annotations generated while pre-processing.
	//
	// Returns:
	//   - []Annotation: the generated bindings in source order
	Declarations() []Annotation
}

var _ Shader = &shader{}

// ShaderOption configures a shader during construction.
type ShaderOption func(*shader)

// WithInclude registers a WGSL fragment that the source may include by name.
//
// Parameters:
//   - name: the include name used in //@vhm:include and //@vhm:group annotations
//   - source: the WGSL text to inject
//   - wgslType: the struct type name declared by source, empty for function libraries
//
// Returns:
//   - ShaderOption: a function that registers the include
func WithInclude(name, source, wgslType string) ShaderOption {
	return func(s *shader) {
		s.includes[name] = Include{Source: source, Type: wgslType}
	}
}

// WithIncludes registers several includes at once.
func WithIncludes(includes map[string]Include) ShaderOption {
	return func(s *shader) {
		for name, inc := range includes {
			s.includes[name] = inc
		}
	}
}

// NewShader pre-processes and reflects WGSL source for one pipeline stage.
//
// Parameters:
//   - key: a unique identifier for the shader, used for caching and lookups
//   - shaderType: the stage whose entry point and visibility are extracted
//   - source: the raw WGSL source
//   - options: includes and other options
//
// Returns:
//   - Shader: the reflected shader
//   - error: if the source is empty, an annotation is invalid or no entry point exists for the stage
func NewShader(key string, shaderType ShaderType, source string, options ...ShaderOption) (Shader, error) {
	if source == "" {
		return nil, errors.New("shader source is empty").WithTag("shader", key)
	}
	s := &shader{
		key:        key,
		shaderType: shaderType,
		includes:   make(map[string]Include),
	}
	for _, opt := range options {
		opt(s)
	}
	if err := s.parseSource(source); err != nil {
		return nil, errors.New("shader parse failed").WithTag("shader", key).Wrap(err)
	}
	return s, nil
}

func (s *shader) Key() string {
	return s.key
}

func (s *shader) Source() string {
	return s.source
}

func (s *shader) EntryPoint() string {
	return s.entryPoint
}

func (s *shader) WorkgroupSize() [3]uint32 {
	return s.workGroupSize
}

func (s *shader) BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor {
	return s.bindGroupLayoutDescriptors[group]
}

func (s *shader) BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor {
	return s.bindGroupLayoutDescriptors
}

func (s *shader) BindGroupVarName(group, binding int) string {
	return s.bindingVarNames[group][binding]
}

func (s *shader) BindGroupFromVarName(group int, varName string) (int, bool) {
	for binding, name := range s.bindingVarNames[group] {
		if name == varName {
			return binding, true
		}
	}
	return -1, false
}

func (s *shader) Module() *wgpu.ShaderModuleDescriptor {
	return s.module
}

func (s *shader) ShaderType() ShaderType {
	return s.shaderType
}

func (s *shader) Declarations() []Annotation {
	return s.declarations
}

// parseSource runs the pre-processor, builds the module descriptor and extracts the entry
// point, the workgroup size of compute shaders and the bind group layouts.
func (s *shader) parseSource(raw string) error {
	pp := NewPreProcessor(s.includes)
	source, err := pp.Process(raw)
	if err != nil {
		return err
	}
	s.source = source
	s.declarations = append([]Annotation(nil), pp.Declarations()...)
	s.module = &wgpu.ShaderModuleDescriptor{
		Label: s.key,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: s.source,
		},
	}

	s.entryPoint = parseEntryPoint(s.source, s.shaderType)
	if s.entryPoint == "" {
		return errors.New("no entry point for shader stage").WithTag("stage", s.shaderType)
	}

	var visibility wgpu.ShaderStage
	switch s.shaderType {
	case ShaderTypeVertex:
		visibility = wgpu.ShaderStageVertex
	case ShaderTypeFragment:
		visibility = wgpu.ShaderStageFragment
	case ShaderTypeCompute:
		visibility = wgpu.ShaderStageCompute
		s.workGroupSize = parseWorkgroupSize(s.source)
	}
	s.bindGroupLayoutDescriptors, s.bindingVarNames = parseBindGroupLayouts(s.source, visibility)
	return nil
}
