// pre_processor.go implements the WGSL shader pre-processor. It scans shader source for
// @vhm: annotations, replaces them with injected sources or generated declarations and
// records the generated bindings.
package shader

import (
	"fmt"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

// Include is a WGSL source fragment that shaders pull in by name.
type Include struct {
	// Source is the raw WGSL text injected by an include annotation.
	Source string

	// Type is the WGSL type name emitted by group annotations that reference this include.
	// Function libraries leave it empty and cannot be used in group annotations.
	Type string
}

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	includes     map[string]Include
	declarations []Annotation
}

// PreProcessor processes raw WGSL shader source containing @vhm: annotations.
type PreProcessor interface {
	// Process replaces every annotation of source with its WGSL output. Each include is
	// injected at most once per call, later includes of the same name are dropped.
	//
	// The declarations list is reset at the start of each call and can be retrieved
	// via Declarations() after Process returns.
	//
	// Parameters:
	//   - source: the raw WGSL shader source code containing annotations to be processed
	//
	// Returns:
	//   - string: the processed WGSL shader source code with annotations replaced
	//   - error: an error if any annotation is malformed or references an unknown include
	Process(source string) (string, error)

	// Declarations returns the group annotations collected during the most recent call to
	// Process, in source order.
	//
	// Returns:
	//   - []Annotation: the declarations collected during the last Process call
	Declarations() []Annotation
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a pre-processor that resolves the given includes.
//
// Parameters:
//   - includes: the include registry keyed by name
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor instance
func NewPreProcessor(includes map[string]Include) PreProcessor {
	p := &preProcessor{includes: make(map[string]Include, len(includes))}
	for name, inc := range includes {
		p.includes[name] = inc
	}
	return p
}

func (p *preProcessor) Process(source string) (string, error) {
	p.declarations = p.declarations[:0]
	included := make(map[string]bool)

	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))

	for i, line := range lines {
		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return "", err
		}
		if a == nil {
			out = append(out, line)
			continue
		}

		switch a.Type {
		case AnnotationTypeInclude:
			name := a.Args[0]
			entry, ok := p.includes[name]
			if !ok {
				return "", errors.New("unknown include").WithTag("line", a.Line).WithTag("name", name)
			}
			if included[name] {
				continue
			}
			included[name] = true
			out = append(out, entry.Source)
		case AnnotationTypeBindingGroup:
			wgslType, err := p.resolveType(a.Args[2])
			if err != nil {
				return "", errors.New("invalid group annotation").WithTag("line", a.Line).Wrap(err)
			}
			out = append(out, fmt.Sprintf("@group(%d) @binding(%d) %s %s: %s;", *a.Group, *a.Binding, addressSpaces[a.Args[0]], a.Args[1], wgslType))
			p.declarations = append(p.declarations, *a)
		}
	}
	return strings.Join(out, "\n"), nil
}

func (p *preProcessor) resolveType(arg string) (string, error) {
	name := arg
	inner, isArray := strings.CutPrefix(arg, "array<")
	if isArray {
		name = strings.TrimSuffix(inner, ">")
	}
	entry, ok := p.includes[name]
	if !ok || entry.Type == "" {
		return "", errors.New("include has no struct type").WithTag("name", name)
	}
	if isArray {
		return fmt.Sprintf("array<%s>", entry.Type), nil
	}
	return entry.Type, nil
}

func (p *preProcessor) Declarations() []Annotation {
	return p.declarations
}
