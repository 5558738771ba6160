package pemod

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/VladMinzatu/selfsym/internal/binread"
)

// moduleEntry is one module reported by the process snapshot.
type moduleEntry struct {
	Path string
	Base uint64
}

// collectModules loads the main executable and every module in entries. The
// snapshot entry of the main executable only supplies its base address.
func collectModules(mainPath string, entries []moduleEntry, open func(string) (*Module, error)) ([]*Module, error) {
	main, err := open(mainPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", binread.ErrModuleEnumeration, mainPath, err)
	}
	mods := []*Module{main}
	for _, e := range entries {
		if strings.EqualFold(e.Path, mainPath) {
			main.FixBaseAddress(e.Base)
			continue
		}
		m, err := open(e.Path)
		if err != nil {
			slog.Debug("Skipping loaded module", "path", e.Path, "error", err)
			continue
		}
		m.SetBaseAddress(e.Base)
		mods = append(mods, m)
	}
	return mods, nil
}
