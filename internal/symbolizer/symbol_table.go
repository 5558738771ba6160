package symbolizer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SymbolTable resolves runtime addresses against the modules loaded into the
// process. It is built for one trace and not safe for concurrent use.
type SymbolTable struct {
	modules []Module
	metrics *Metrics
}

// NewSymbolTable enumerates and loads every module of the running process.
func NewSymbolTable() (*SymbolTable, error) {
	mods, err := loadModules()
	if err != nil {
		return nil, err
	}
	slog.Debug("Built symbol table", "modules", len(mods))
	return NewSymbolTableFromModules(mods), nil
}

// NewSymbolTableFromModules searches mods in the given order. The table takes
// ownership of the modules.
func NewSymbolTableFromModules(mods []Module) *SymbolTable {
	return &SymbolTable{modules: mods}
}

func (t *SymbolTable) Modules() []Module { return t.modules }

// SetMetrics starts recording lookups into m.
func (t *SymbolTable) SetMetrics(m *Metrics) {
	t.metrics = m
	m.setModules(len(t.modules))
}

// Resolve returns the name of the symbol covering addr in the first module that
// has one. Not finding a symbol is not an error.
func (t *SymbolTable) Resolve(addr uint64) ([]byte, bool, error) {
	name, _, found, err := t.resolve(addr)
	return name, found, err
}

// Lookup is Resolve with the module the symbol came from.
func (t *SymbolTable) Lookup(addr uint64) (Symbol, bool, error) {
	name, m, found, err := t.resolve(addr)
	if err != nil || !found {
		return Symbol{Addr: addr}, false, err
	}
	return Symbol{Name: string(name), Addr: addr, Module: m.Path()}, true, nil
}

func (t *SymbolTable) resolve(addr uint64) (name []byte, mod Module, found bool, err error) {
	defer func(start time.Time) {
		t.metrics.recordLookup(found, err, time.Since(start))
	}(time.Now())

	for _, m := range t.modules {
		name, found, err = m.SymbolAt(addr)
		if err != nil {
			return nil, nil, false, fmt.Errorf("resolving %#x in %s: %w", addr, m.Path(), err)
		}
		if found {
			return name, m, true, nil
		}
	}
	return nil, nil, false, nil
}

// Close releases every module.
func (t *SymbolTable) Close() error {
	var errs []error
	for _, m := range t.modules {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.modules = nil
	return errors.Join(errs...)
}
