package pprof

import (
	"io"
	"sort"

	"github.com/google/pprof/profile"
	"github.com/klauspost/compress/gzip"

	"github.com/VladMinzatu/kprof/internal/profiler"
	"github.com/VladMinzatu/kprof/internal/symbolizer"
)

// BuildPprofProfile emits one pprof sample per aggregate key. Folded
// aggregates become full stacks, per-location aggregates single frames.
func BuildPprofProfile(agg *profiler.Aggregate, sampleTypeName, sampleTypeUnit string) (*profile.Profile, error) {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: sampleTypeName, Unit: sampleTypeUnit}},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "samples"},
		Period:     1,
	}
	if len(agg.Counts) == 0 {
		return p, nil
	}

	funcs := map[string]*profile.Function{}
	locMap := map[string]*profile.Location{}
	nextFuncID := uint64(1)
	nextLocID := uint64(1)

	addFunction := func(loc symbolizer.Location) *profile.Function {
		key := loc.Function + "\x00" + loc.File
		if f, ok := funcs[key]; ok {
			return f
		}
		fn := &profile.Function{
			ID:         nextFuncID,
			Name:       loc.Function,
			SystemName: loc.Function,
			Filename:   loc.File,
		}
		nextFuncID++
		funcs[key] = fn
		p.Function = append(p.Function, fn)
		return fn
	}

	addLocationFor := func(loc symbolizer.Location) *profile.Location {
		// locations are shared per resolved key, the address is the first one seen
		key := loc.Key()
		if l, ok := locMap[key]; ok {
			return l
		}
		fn := addFunction(loc)
		l := &profile.Location{
			ID:      nextLocID,
			Address: loc.Addr,
			Line:    []profile.Line{{Function: fn, Line: loc.Line}},
		}
		nextLocID++
		locMap[key] = l
		p.Location = append(p.Location, l)
		return l
	}

	keys := make([]string, 0, len(agg.Counts))
	for k := range agg.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		frames := agg.Frames[k]
		if len(frames) == 0 {
			continue
		}
		// pprof assumes stacks are in leaf-to-root order, i.e. stack[0] is leaf (innermost)
		locs := make([]*profile.Location, 0, len(frames))
		for _, f := range frames {
			locs = append(locs, addLocationFor(f))
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Value:    []int64{int64(agg.Counts[k])},
			Location: locs,
			Label:    map[string][]string{"profile_type": {"kernel"}},
		})
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
