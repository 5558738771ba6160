package pprof

import (
	"compress/gzip"
	"fmt"
	"io"
	"sort"

	"github.com/VladMinzatu/selfsym/internal/unwind"
	"github.com/google/pprof/profile"
)

// BuildPprofProfile turns captured tracebacks into a profile with one sample
// per capture. Unresolved frames become locations without lines.
func BuildPprofProfile(captures []unwind.Capture, sampleTypeName, sampleTypeUnit string) (*profile.Profile, error) {
	if len(captures) == 0 {
		p := &profile.Profile{}
		return p, nil
	}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: sampleTypeName, Unit: sampleTypeUnit}},
	}

	funcs := map[string]*profile.Function{}
	mappings := map[string]*profile.Mapping{}
	locMap := map[uint64]*profile.Location{}
	nextFuncID := uint64(1)
	nextLocID := uint64(1)

	addFunction := func(name string) *profile.Function {
		if f, ok := funcs[name]; ok {
			return f
		}
		fn := &profile.Function{
			ID:   nextFuncID,
			Name: name,
		}
		nextFuncID++
		funcs[name] = fn
		p.Function = append(p.Function, fn)
		return fn
	}

	addMapping := func(path string) *profile.Mapping {
		if m, ok := mappings[path]; ok {
			return m
		}
		m := &profile.Mapping{
			ID:           uint64(len(p.Mapping) + 1),
			File:         path,
			HasFunctions: true,
		}
		mappings[path] = m
		p.Mapping = append(p.Mapping, m)
		return m
	}

	addLocationFor := func(f unwind.Frame) *profile.Location {
		addr := f.IP
		if loc, ok := locMap[addr]; ok {
			return loc
		}
		loc := &profile.Location{
			ID:      nextLocID,
			Address: addr,
		}
		if f.Found {
			loc.Mapping = addMapping(f.Symbol.Module)
			loc.Line = []profile.Line{{Function: addFunction(f.Symbol.Name), Line: 0}}
		}
		nextLocID++
		locMap[addr] = loc
		p.Location = append(p.Location, loc)
		return loc
	}

	for _, c := range captures {
		if len(c.Frames) == 0 {
			continue
		}
		// frames are already leaf to root, the order pprof expects
		locs := make([]*profile.Location, 0, len(c.Frames))
		for _, f := range c.Frames {
			locs = append(locs, addLocationFor(f))
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Value:    []int64{1},
			Location: locs,
			Label:    map[string][]string{},
			NumLabel: map[string][]int64{"depth": {int64(len(c.Frames))}},
		})
	}

	sorted := make([]unwind.Capture, len(captures))
	copy(sorted, captures)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	start := sorted[0].Time
	end := sorted[len(sorted)-1].Time
	p.TimeNanos = start.UnixNano()
	p.DurationNanos = end.Sub(start).Nanoseconds()

	if err := p.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	return p, nil
}

func WriteProfileGzip(p *profile.Profile, w io.Writer) error {
	gw := gzip.NewWriter(w)
	if err := p.WriteUncompressed(gw); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}
