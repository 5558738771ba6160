package exporter

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/VladMinzatu/selfsym/internal/unwind"
)

type FrameSelection int

const (
	_ = iota
	AllFrames
	ResolvedFrames
)

func BuildFoldedStacks(captures []unwind.Capture, which FrameSelection) map[string]uint64 {
	agg := make(map[string]uint64)
	for _, c := range captures {
		names := make([]string, 0, len(c.Frames))
		for i := len(c.Frames) - 1; i >= 0; i-- { // reverse order because flamegraphs expect root->leaf order
			f := c.Frames[i]
			if !f.Found && which == ResolvedFrames {
				continue
			}
			name := f.Symbol.Name
			if !f.Found {
				name = "<unknown>"
			}
			names = append(names, escapeFoldedName(name))
		}
		if len(names) == 0 {
			continue
		}
		agg[strings.Join(names, ";")]++
	}
	return agg
}

func escapeFoldedName(name string) string {
	// semicolons separate frames and newlines separate lines. Replace them with safe characters.
	name = strings.ReplaceAll(name, ";", "_")  // frame separator in folded stacks format
	name = strings.ReplaceAll(name, "\n", " ") // line separator, duh
	name = strings.TrimSpace(name)
	if name == "" {
		return "<unknown>"
	}
	return name
}

func WriteFoldedStacksToFile(agg map[string]uint64, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	type kv struct {
		k string
		v uint64
	}
	var items []kv
	for k, v := range agg {
		items = append(items, kv{k, v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].v == items[j].v {
			return items[i].k < items[j].k
		}
		return items[i].v > items[j].v
	})

	for _, it := range items {
		if _, err := fmt.Fprintf(f, "%s %d\n", it.k, it.v); err != nil {
			return err
		}
	}
	return f.Close()
}
