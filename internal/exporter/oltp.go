package exporter

import (
	"io"

	"github.com/pkg/errors"
	collectorpb "go.opentelemetry.io/proto/otlp/collector/profiles/v1development"
	v1 "go.opentelemetry.io/proto/otlp/common/v1"
	profilespb "go.opentelemetry.io/proto/otlp/profiles/v1development"
	resourceV1 "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/protobuf/proto"

	"github.com/VladMinzatu/kprof/internal/profiler"
	"github.com/VladMinzatu/kprof/internal/symbolizer"
)

type NowFunc func() uint64 // produces unix nsec

// BuildOltpProfile turns every aggregate key into one OTLP sample whose
// stack holds the key's frames, leaf first.
func BuildOltpProfile(agg *profiler.Aggregate, now NowFunc) *profilespb.ProfilesData {
	nowNsec := now()
	stringTable := []string{""}
	mappingTable := []*profilespb.Mapping{{}}
	locationTable := []*profilespb.Location{{}}
	functionTable := []*profilespb.Function{{}}
	stackTable := []*profilespb.Stack{{}}

	defaultMappingIdx := 0
	profileSamples := make([]*profilespb.Sample, 0, len(agg.Counts))

	sampleType := &profilespb.ValueType{
		TypeStrindex: strIndex(&stringTable, "samples"),
		UnitStrindex: strIndex(&stringTable, "count"),
	}

	buildStack := func(frames []symbolizer.Location) int32 {
		locIndices := make([]int32, 0, len(frames))
		for _, loc := range frames {
			funcNameIdx := strIndex(&stringTable, loc.Function)
			fn := &profilespb.Function{
				NameStrindex:       funcNameIdx,
				SystemNameStrindex: funcNameIdx,
			}
			if loc.File != "" {
				fn.FilenameStrindex = strIndex(&stringTable, loc.File)
			}
			functionTable = append(functionTable, fn)
			fnIdx := int32(len(functionTable) - 1)

			pbLoc := &profilespb.Location{
				Address:      loc.Addr,
				MappingIndex: int32(defaultMappingIdx),
				Lines: []*profilespb.Line{
					{
						FunctionIndex: fnIdx,
						Line:          loc.Line,
					},
				},
			}
			locationTable = append(locationTable, pbLoc)
			locIndices = append(locIndices, int32(len(locationTable)-1))
		}

		stack := &profilespb.Stack{LocationIndices: locIndices}
		stackTable = append(stackTable, stack)
		return int32(len(stackTable) - 1)
	}

	for _, it := range entries(agg.Counts, false) {
		frames := agg.Frames[it.k]
		if len(frames) == 0 {
			continue
		}
		profileSamples = append(profileSamples, &profilespb.Sample{
			StackIndex:       buildStack(frames),
			Values:           []int64{int64(it.v)},
			AttributeIndices: []int32{},
		})
	}

	profile := &profilespb.Profile{
		TimeUnixNano: nowNsec,
		DurationNano: uint64(0),
		SampleType:   sampleType,
		Samples:      profileSamples,
	}

	resourceProfiles := &profilespb.ResourceProfiles{
		Resource: &resourceV1.Resource{},
		ScopeProfiles: []*profilespb.ScopeProfiles{
			{
				Scope: &v1.InstrumentationScope{
					Name:    "kprof",
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

// WriteOltpRequest writes the profile as an OTLP export request body, as
// accepted by an OTLP/HTTP profiles endpoint.
func WriteOltpRequest(w io.Writer, data *profilespb.ProfilesData) error {
	req := &collectorpb.ExportProfilesServiceRequest{
		ResourceProfiles: data.ResourceProfiles,
		Dictionary:       data.Dictionary,
	}
	b, err := proto.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "error marshalling OTLP profiles request")
	}
	_, err = w.Write(b)
	return err
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
