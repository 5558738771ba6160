package symbolizer

import "github.com/VladMinzatu/selfsym/internal/binread"

// ErrModuleEnumeration is returned when the main executable cannot be loaded.
var ErrModuleEnumeration = binread.ErrModuleEnumeration

// Symbol is one resolved address.
type Symbol struct {
	Name   string
	Addr   uint64
	Module string // path of the module the symbol was found in
}

// Module is one loaded binary image the table can search.
type Module interface {
	Path() string
	BaseAddress() uint64
	SymbolAt(addr uint64) ([]byte, bool, error)
	Close() error
}
