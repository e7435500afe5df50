package exporter

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFoldedStacks(t *testing.T) {
	agg := map[string]uint64{
		"root;leaf":       10,
		"r;l":             5,
		"root;mid;leaf":   5,
		"start_kernel;ok": 1,
	}
	var buf bytes.Buffer
	require.NoError(t, WriteFoldedStacks(&buf, agg))

	assert.Equal(t, "root;leaf 10\n"+
		"r;l 5\n"+
		"root;mid;leaf 5\n"+
		"start_kernel;ok 1\n", buf.String())

	for _, ln := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		i := strings.LastIndexByte(ln, ' ')
		require.Positive(t, i, "bad folded line format: %q", ln)
		assert.NotContains(t, ln[:i], " ")
	}
}

func TestWriteFoldedStacks_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFoldedStacks(&buf, map[string]uint64{}))
	assert.Empty(t, buf.String())
}
