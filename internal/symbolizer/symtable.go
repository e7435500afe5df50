package symbolizer

import (
	"sort"

	"github.com/pkg/errors"
)

var ErrUnsortedSymbols = errors.New("symbol listing is not sorted by address")

type SymbolEntry struct {
	Addr uint64
	Name string
}

// SymbolTable is an immutable, address-sorted symbol array.
type SymbolTable struct {
	entries []SymbolEntry
}

// NewSymbolTable builds the index from entries that are already sorted
// ascending by address, as emitted by `nm -n`. The order is checked, not
// restored. Aliases sharing an address collapse onto the first name.
func NewSymbolTable(entries []SymbolEntry) (*SymbolTable, error) {
	table := make([]SymbolEntry, 0, len(entries))
	for i, e := range entries {
		if i > 0 {
			prev := table[len(table)-1]
			if e.Addr < prev.Addr {
				return nil, errors.Wrapf(ErrUnsortedSymbols, "0x%x (%s) follows 0x%x (%s)", e.Addr, e.Name, prev.Addr, prev.Name)
			}
			if e.Addr == prev.Addr {
				continue
			}
		}
		table = append(table, e)
	}
	return &SymbolTable{entries: table}, nil
}

func (t *SymbolTable) Len() int { return len(t.entries) }

// Lookup returns the name of the rightmost symbol starting at or below addr.
func (t *SymbolTable) Lookup(addr uint64) (string, bool) {
	// Find greatest entry.Addr <= addr
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Addr > addr })
	if i == 0 {
		return "", false
	}
	return t.entries[i-1].Name, true
}
