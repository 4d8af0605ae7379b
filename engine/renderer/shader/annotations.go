// annotations.go defines the annotation types and parser for the VHM WGSL shader
// pre-processor. Annotations are single-line WGSL comments prefixed with @vhm: that inject
// shared struct and function sources and generate bind group declarations for them.
package shader

import (
	"strconv"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

// annotationPrefix is the marker that identifies an annotation within a WGSL comment line.
const annotationPrefix = "@vhm:"

// AnnotationType identifies the kind of annotation parsed from a WGSL comment line.
type AnnotationType string

const (
	// AnnotationTypeInclude injects the WGSL source registered under a name at the annotation
	// site. Includes are consumed entirely during pre-processing.
	//
	// Syntax: //@vhm:include <name>
	//
	// Example: //@vhm:include surface_params
	AnnotationTypeInclude AnnotationType = "include"

	// AnnotationTypeBindingGroup generates a WGSL @group/@binding variable declaration whose
	// type is the WGSL type name registered under the given include name, optionally wrapped
	// in array<>.
	//
	// Syntax: //@vhm:group <group> <binding> <address_space> <var_name> <name>
	//
	// Example: //@vhm:group 0 0 uniform surface surface_params
	AnnotationTypeBindingGroup AnnotationType = "group"
)

// Annotation represents a single parsed @vhm: annotation.
type Annotation struct {
	// Type identifies which annotation was parsed.
	Type AnnotationType

	// Args holds the annotation's arguments. The contents depend on Type:
	//   - include: [0] = include name
	//   - group:   [0] = address space, [1] = var name, [2] = include name or array<include name>
	Args []string

	// Line is the 1-based line number in the original WGSL source. Used for error reporting.
	Line int

	// Group is the @group index for group annotations. Nil for include annotations.
	Group *int

	// Binding is the @binding index for group annotations. Nil for include annotations.
	Binding *int
}

// addressSpaces maps the address space argument of a group annotation to WGSL var<> syntax.
var addressSpaces = map[string]string{
	"uniform":            "var<uniform>",
	"storage_read":       "var<storage, read>",
	"storage_read_write": "var<storage, read_write>",
}

// parseAnnotation attempts to parse a single line of WGSL source as an annotation.
// Returns nil with no error for lines that do not contain the annotation prefix.
//
// Parameters:
//   - line: the raw WGSL source line to parse
//   - lineNum: the 1-based line number for error reporting
//
// Returns:
//   - *Annotation: the parsed annotation, or nil if the line is not an annotation
//   - error: a descriptive error if the annotation is malformed
func parseAnnotation(line string, lineNum int) (*Annotation, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "//") {
		return nil, nil
	}
	_, after, ok := strings.Cut(trimmed, annotationPrefix)
	if !ok {
		return nil, nil
	}

	args := strings.Fields(after)
	if len(args) == 0 {
		return nil, errors.New("empty annotation").WithTag("line", lineNum)
	}

	switch AnnotationType(args[0]) {
	case AnnotationTypeInclude:
		if len(args) != 2 {
			return nil, errors.New("include annotation requires exactly one argument").WithTag("line", lineNum)
		}
		return &Annotation{
			Type: AnnotationTypeInclude,
			Args: []string{args[1]},
			Line: lineNum,
		}, nil
	case AnnotationTypeBindingGroup:
		if len(args) != 6 {
			return nil, errors.New("group annotation requires group, binding, address space, var name and type").WithTag("line", lineNum)
		}
		group, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, errors.New("invalid group number").WithTag("line", lineNum).Wrap(err)
		}
		binding, err := strconv.Atoi(args[2])
		if err != nil {
			return nil, errors.New("invalid binding number").WithTag("line", lineNum).Wrap(err)
		}
		if _, ok := addressSpaces[args[3]]; !ok {
			return nil, errors.New("unknown address space").WithTag("line", lineNum).WithTag("address_space", args[3])
		}
		return &Annotation{
			Type:    AnnotationTypeBindingGroup,
			Args:    []string{args[3], args[4], args[5]},
			Line:    lineNum,
			Group:   &group,
			Binding: &binding,
		}, nil
	default:
		return nil, errors.New("unknown annotation type").WithTag("line", lineNum).WithTag("type", args[0])
	}
}
