package symbolizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLoader struct {
	lines []string
	err   error
	calls int
}

func (m *mockLoader) ReadLines() ([]string, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.lines, nil
}

func TestParseSymbolListing(t *testing.T) {
	t.Run("skips_undefined_and_malformed_lines", func(t *testing.T) {
		lines := []string{
			"                 U printk",
			"ffffffff81000000 T _text",
			"badline",
			"zzzzzzzzzzzz T invalid_addr",
			"ffffffff81001000 t do_one [kernel]",
			"0xffffffff81002000 T do_two    extra_field",
			"",
			"\tffffffff81003000\tT\tlast_func",
		}
		got := ParseSymbolListing(lines, 16)
		assert.Equal(t, []SymbolEntry{
			{Addr: 0xffffffff81000000, Name: "_text"},
			{Addr: 0xffffffff81001000, Name: "do_one"},
			{Addr: 0xffffffff81002000, Name: "do_two"},
			{Addr: 0xffffffff81003000, Name: "last_func"},
		}, got)
	})

	t.Run("decimal_addresses", func(t *testing.T) {
		got := ParseSymbolListing([]string{
			"256 T a",
			"512 T b",
			"ff T hex_is_rejected",
		}, 10)
		assert.Equal(t, []SymbolEntry{
			{Addr: 0x100, Name: "a"},
			{Addr: 0x200, Name: "b"},
		}, got)
	})

	t.Run("keeps_input_order", func(t *testing.T) {
		got := ParseSymbolListing([]string{"200 T b", "100 T a"}, 16)
		require.Len(t, got, 2)
		assert.Equal(t, "b", got[0].Name)
	})
}

func TestLoadSymbolTable(t *testing.T) {
	t.Run("builds_index_from_loader", func(t *testing.T) {
		loader := &mockLoader{lines: []string{
			"ffffffff81000000 T start_kernel",
			"ffffffff81001000 T do_one",
		}}
		table, err := LoadSymbolTable(loader, 16, log.Nop())
		require.NoError(t, err)
		assert.Equal(t, 1, loader.calls)

		name, ok := table.Lookup(0xffffffff81001020)
		require.True(t, ok)
		assert.Equal(t, "do_one", name)
	})

	t.Run("loader_error_is_returned", func(t *testing.T) {
		_, err := LoadSymbolTable(&mockLoader{err: errors.New("read failed")}, 16, log.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read failed")
	})

	t.Run("unsorted_listing_is_rejected", func(t *testing.T) {
		loader := &mockLoader{lines: []string{
			"ffffffff81001000 T do_one",
			"ffffffff81000000 T start_kernel",
		}}
		_, err := LoadSymbolTable(loader, 16, log.Nop())
		assert.ErrorIs(t, err, ErrUnsortedSymbols)
	})
}

func TestDataLoader_ReadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thor.sym")
	require.NoError(t, os.WriteFile(path, []byte("100 T a\n200 T b\n"), 0o644))

	lines, err := NewDataLoader(path, log.Nop()).ReadLines()
	require.NoError(t, err)
	assert.Equal(t, []string{"100 T a", "200 T b"}, lines)

	_, err = NewDataLoader(filepath.Join(t.TempDir(), "missing"), log.Nop()).ReadLines()
	assert.Error(t, err)
}

func TestDataLoader_LongLines(t *testing.T) {
	long := "_ZN" + strings.Repeat("x", 200*1024)
	path := filepath.Join(t.TempDir(), "thor.sym")
	require.NoError(t, os.WriteFile(path, []byte("ffffffff81000000 T "+long+"\nffffffff81001000 T b\n"), 0o644))

	table, err := LoadSymbolTable(NewDataLoader(path, log.Nop()), 16, log.Nop())
	require.NoError(t, err)
	name, ok := table.Lookup(0xffffffff81000010)
	require.True(t, ok)
	assert.Equal(t, long, name)
}

func TestNewNmLoader_MissingTool(t *testing.T) {
	_, err := NewNmLoader(context.Background(), "kprof-no-such-nm", "vmlinux", 16, log.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kprof-no-such-nm")
}
