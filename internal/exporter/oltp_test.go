package exporter

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	collectorpb "go.opentelemetry.io/proto/otlp/collector/profiles/v1development"
	profilespb "go.opentelemetry.io/proto/otlp/profiles/v1development"
	"google.golang.org/protobuf/proto"

	"github.com/VladMinzatu/kprof/internal/profiler"
	"github.com/VladMinzatu/kprof/internal/symbolizer"
)

func foldedAggregate() *profiler.Aggregate {
	inner := symbolizer.Location{Kind: symbolizer.Symbolic, Function: "inner", Addr: 0x8000000000000010}
	outer := symbolizer.Location{Kind: symbolizer.Symbolic, Function: "outer", Addr: 0x8000000000000020}
	return &profiler.Aggregate{
		Counts: map[string]uint64{"outer;inner": 2},
		Frames: map[string][]symbolizer.Location{"outer;inner": {inner, outer}},
		Folded: true,
		Kernel: 4, Resolved: 4,
	}
}

func TestBuildOltpProfile_Basic(t *testing.T) {
	nowValue := uint64(9999999999)
	got := BuildOltpProfile(foldedAggregate(), func() uint64 { return nowValue })

	dict := got.Dictionary
	assert.Equal(t, []string{"", "samples", "count", "inner", "outer"}, dict.StringTable)

	expectedFunctionTable := []*profilespb.Function{
		{},
		{NameStrindex: 3, SystemNameStrindex: 3},
		{NameStrindex: 4, SystemNameStrindex: 4},
	}
	expectedLocationTable := []*profilespb.Location{
		{},
		{Address: 0x8000000000000010, Lines: []*profilespb.Line{{FunctionIndex: 1}}},
		{Address: 0x8000000000000020, Lines: []*profilespb.Line{{FunctionIndex: 2}}},
	}
	expectedStackTable := []*profilespb.Stack{{}, {LocationIndices: []int32{1, 2}}}

	require.Len(t, dict.FunctionTable, len(expectedFunctionTable))
	for i := range expectedFunctionTable {
		assert.True(t, proto.Equal(expectedFunctionTable[i], dict.FunctionTable[i]), "function %d: %v", i, dict.FunctionTable[i])
	}
	require.Len(t, dict.LocationTable, len(expectedLocationTable))
	for i := range expectedLocationTable {
		assert.True(t, proto.Equal(expectedLocationTable[i], dict.LocationTable[i]), "location %d: %v", i, dict.LocationTable[i])
	}
	require.Len(t, dict.StackTable, len(expectedStackTable))
	for i := range expectedStackTable {
		assert.True(t, proto.Equal(expectedStackTable[i], dict.StackTable[i]), "stack %d: %v", i, dict.StackTable[i])
	}

	require.Len(t, got.ResourceProfiles, 1)
	scope := got.ResourceProfiles[0].ScopeProfiles
	require.Len(t, scope, 1)
	assert.Equal(t, "kprof", scope[0].Scope.Name)
	require.Len(t, scope[0].Profiles, 1)

	prof := scope[0].Profiles[0]
	assert.Equal(t, nowValue, prof.TimeUnixNano)
	require.Len(t, prof.Samples, 1)
	assert.Equal(t, int32(1), prof.Samples[0].StackIndex)
	assert.Equal(t, []int64{2}, prof.Samples[0].Values)
}

func TestBuildOltpProfile_SourceLines(t *testing.T) {
	loc := symbolizer.Location{
		Kind:        symbolizer.SourceLine,
		Function:    "schedule",
		Source:      "sched.cpp:42",
		File:        "sched.cpp",
		Line:        42,
		Addr:        0xffffffff80001000,
		Granularity: symbolizer.GranularityLine,
	}
	agg := &profiler.Aggregate{
		Counts: map[string]uint64{loc.Key(): 7},
		Frames: map[string][]symbolizer.Location{loc.Key(): {loc}},
	}

	got := BuildOltpProfile(agg, func() uint64 { return 1 })
	dict := got.Dictionary
	require.Len(t, dict.FunctionTable, 2)
	assert.Equal(t, "sched.cpp", dict.StringTable[dict.FunctionTable[1].FilenameStrindex])
	require.Len(t, dict.LocationTable, 2)
	assert.Equal(t, int64(42), dict.LocationTable[1].Lines[0].Line)
}

func TestWriteOltpRequest(t *testing.T) {
	data := BuildOltpProfile(foldedAggregate(), func() uint64 { return 42 })

	var buf bytes.Buffer
	require.NoError(t, WriteOltpRequest(&buf, data))

	var req collectorpb.ExportProfilesServiceRequest
	require.NoError(t, proto.Unmarshal(buf.Bytes(), &req))
	assert.True(t, proto.Equal(data.Dictionary, req.Dictionary))
	require.Len(t, req.ResourceProfiles, 1)
	assert.True(t, proto.Equal(data.ResourceProfiles[0], req.ResourceProfiles[0]))
}
