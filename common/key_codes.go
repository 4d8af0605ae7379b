package common

// Virtual key codes for cross-platform input handling.
// These values match GLFW key codes which use ASCII values for printable keys.
// Reference: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw#Key
const (
	KeyF     = 70  // F key (ASCII)
	KeyO     = 79  // O key (ASCII)
	KeyV     = 86  // V key (ASCII)
	KeySpace = 32  // Spacebar (ASCII)
	KeyMinus = 45  // - key (ASCII)
	KeyEqual = 61  // = key (ASCII)
	KeyEsc   = 256 // Escape key (GLFW)
)
