//go:build !windows

package symbolizer

import "github.com/VladMinzatu/selfsym/internal/elfmod"

func loadModules() ([]Module, error) {
	mods, err := elfmod.LoadModules()
	if err != nil {
		return nil, err
	}
	out := make([]Module, len(mods))
	for i, m := range mods {
		out[i] = m
	}
	return out, nil
}
