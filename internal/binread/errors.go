package binread

import "errors"

var (
	// ErrMapping is returned when a read-only mapping of a file range cannot be created.
	ErrMapping = errors.New("mapping failed")
	// ErrParse is returned when a binary image does not have the expected layout.
	ErrParse = errors.New("binary parse error")
)

// ErrModuleEnumeration is returned when the main executable of the running
// process cannot be opened or loaded.
var ErrModuleEnumeration = errors.New("module enumeration failed")
