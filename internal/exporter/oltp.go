package exporter

import (
	"fmt"
	"os"

	"github.com/VladMinzatu/selfsym/internal/unwind"
	collectorpb "go.opentelemetry.io/proto/otlp/collector/profiles/v1development"
	v1 "go.opentelemetry.io/proto/otlp/common/v1"
	profilespb "go.opentelemetry.io/proto/otlp/profiles/v1development"
	resourceV1 "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/protobuf/proto"
)

type NowFunc func() uint64 // produces unix nsec

// BuildOltpProfile builds one OTLP profile with a sample per capture of the
// process identified by pid.
func BuildOltpProfile(captures []unwind.Capture, pid int, now NowFunc) *profilespb.ProfilesData {
	nowNsec := now()
	stringTable := []string{""}
	mappingTable := []*profilespb.Mapping{{}}
	locationTable := []*profilespb.Location{{}}
	functionTable := []*profilespb.Function{{}}
	stackTable := []*profilespb.Stack{{}}

	mappingIdx := map[string]int32{}
	functionIdx := map[string]int32{}
	profileSamples := make([]*profilespb.Sample, 0, len(captures))

	sampleType := &profilespb.ValueType{
		TypeStrindex: strIndex(&stringTable, "tracebacks"),
		UnitStrindex: strIndex(&stringTable, "count"),
	}

	addMapping := func(path string) int32 {
		if idx, ok := mappingIdx[path]; ok {
			return idx
		}
		mappingTable = append(mappingTable, &profilespb.Mapping{
			FilenameStrindex: strIndex(&stringTable, path),
		})
		idx := int32(len(mappingTable) - 1)
		mappingIdx[path] = idx
		return idx
	}

	addFunction := func(name string) int32 {
		if idx, ok := functionIdx[name]; ok {
			return idx
		}
		funcNameIdx := strIndex(&stringTable, name)
		functionTable = append(functionTable, &profilespb.Function{
			NameStrindex:       funcNameIdx,
			SystemNameStrindex: funcNameIdx,
		})
		idx := int32(len(functionTable) - 1)
		functionIdx[name] = idx
		return idx
	}

	buildStack := func(frames []unwind.Frame) int32 {
		locIndices := make([]int32, 0, len(frames))
		for _, f := range frames {
			loc := &profilespb.Location{Address: f.IP}
			if f.Found {
				loc.MappingIndex = addMapping(f.Symbol.Module)
				loc.Lines = []*profilespb.Line{
					{
						FunctionIndex: addFunction(f.Symbol.Name),
						Line:          0,
					},
				}
			}
			locationTable = append(locationTable, loc)
			locIndices = append(locIndices, int32(len(locationTable)-1))
		}

		stack := &profilespb.Stack{LocationIndices: locIndices}
		stackTable = append(stackTable, stack)
		return int32(len(stackTable) - 1)
	}

	for _, c := range captures {
		if len(c.Frames) == 0 {
			continue
		}
		pbSample := &profilespb.Sample{
			StackIndex:         buildStack(c.Frames),
			Values:             []int64{1},
			AttributeIndices:   []int32{},
			LinkIndex:          0,
			TimestampsUnixNano: []uint64{uint64(c.Time.UnixNano())},
		}
		profileSamples = append(profileSamples, pbSample)
	}

	profile := &profilespb.Profile{
		TimeUnixNano: nowNsec,
		DurationNano: uint64(0),
		SampleType:   sampleType,
		Samples:      profileSamples,
	}

	resource := &resourceV1.Resource{
		Attributes: []*v1.KeyValue{
			{Key: "process.pid", Value: &v1.AnyValue{Value: &v1.AnyValue_IntValue{IntValue: int64(pid)}}},
		},
	}
	resourceProfiles := &profilespb.ResourceProfiles{
		Resource: resource,
		ScopeProfiles: []*profilespb.ScopeProfiles{
			{
				Scope: &v1.InstrumentationScope{
					Name:    "selfsym",
					Version: "v1",
				},
				Profiles: []*profilespb.Profile{profile},
			},
		},
	}

	dictionary := &profilespb.ProfilesDictionary{
		MappingTable:  mappingTable,
		LocationTable: locationTable,
		FunctionTable: functionTable,
		StackTable:    stackTable,
		StringTable:   stringTable,
	}

	return &profilespb.ProfilesData{
		ResourceProfiles: []*profilespb.ResourceProfiles{resourceProfiles},
		Dictionary:       dictionary,
	}
}

// BuildExportRequest wraps profiles into the request a collector accepts.
func BuildExportRequest(data *profilespb.ProfilesData) *collectorpb.ExportProfilesServiceRequest {
	return &collectorpb.ExportProfilesServiceRequest{
		ResourceProfiles: data.ResourceProfiles,
		Dictionary:       data.Dictionary,
	}
}

// WriteExportRequestToFile writes the binary protobuf export request for data.
func WriteExportRequestToFile(data *profilespb.ProfilesData, filename string) error {
	b, err := proto.Marshal(BuildExportRequest(data))
	if err != nil {
		return fmt.Errorf("marshalling export request: %w", err)
	}
	return os.WriteFile(filename, b, 0o644)
}

func strIndex(table *[]string, s string) int32 {
	for i, v := range *table {
		if v == s {
			return int32(i)
		}
	}
	*table = append(*table, s)
	return int32(len(*table) - 1)
}
