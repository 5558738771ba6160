package elfmod

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/VladMinzatu/selfsym/internal/binread"
)

const selfExePath = "/proc/self/exe"

// LoadModules loads the main executable and every shared object of the calling
// process. The main executable comes first.
func LoadModules() ([]*Module, error) {
	exe, err := os.Readlink(selfExePath)
	if err != nil {
		exe = selfExePath
	}
	return loadModules(selfExePath, exe, NewProcMapsReader())
}

// moduleCollector is the state threaded through one IterateObjects call.
type moduleCollector struct {
	modules []*Module
	open    func(path string) (*Module, error)
}

func (c *moduleCollector) visit(info *ObjectInfo) error {
	if info.Name == "" {
		if c.modules[0].FixBaseAddress(info.Addr) {
			slog.Debug("Fixed main executable base address", "base", fmt.Sprintf("%#x", info.Addr))
		}
		return nil
	}
	m, err := c.open(info.Name)
	if err != nil {
		// objects without a readable image, e.g. the vDSO, are expected
		slog.Debug("Skipping loaded object", "name", info.Name, "error", err)
		return nil
	}
	m.SetBaseAddress(info.Addr)
	c.modules = append(c.modules, m)
	return nil
}

func loadModules(selfPath, exe string, maps MapsReader) ([]*Module, error) {
	main, err := Open(selfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", binread.ErrModuleEnumeration, selfPath, err)
	}

	c := &moduleCollector{modules: []*Module{main}, open: Open}
	if err := IterateObjects(maps, exe, c.visit); err != nil {
		// partial coverage beats none
		slog.Warn("Loaded object iteration failed", "error", err)
	}
	return c.modules, nil
}
