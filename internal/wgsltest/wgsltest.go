// Package wgsltest compiles WGSL sources to SPIR-V in tests.
package wgsltest

import (
	"strings"
	"testing"

	"github.com/gogpu/naga"
)

const spirvMagic = 0x07230203

// knownLimitations are naga error fragments for valid WGSL the compiler cannot lower yet.
var knownLimitations = []string{
	"not yet implemented",
	"not supported",
	"unsupported",
	"lowering error",
	"atomic",
	"runtime-sized",
}

// Compile compiles src and checks the SPIR-V header. Tests are skipped when naga reports one
// of its known limitations.
func Compile(t *testing.T, name, src string) []byte {
	t.Helper()

	spirv, err := naga.Compile(src)
	if err != nil {
		msg := err.Error()
		for _, l := range knownLimitations {
			if strings.Contains(msg, l) {
				t.Skipf("Skipping %s: naga limitation: %v", name, err)
			}
		}
		t.Fatalf("failed to compile %s: %v", name, err)
	}
	if len(spirv) < 4 {
		t.Fatalf("%s: SPIR-V too short", name)
	}
	magic := uint32(spirv[0]) | uint32(spirv[1])<<8 | uint32(spirv[2])<<16 | uint32(spirv[3])<<24
	if magic != spirvMagic {
		t.Fatalf("%s: invalid SPIR-V magic number: 0x%08x", name, magic)
	}
	return spirv
}
