package exporter

import (
	"fmt"
	"io"
	"sort"

	"github.com/samber/lo"
)

type kv struct {
	k string
	v uint64
}

// entries orders the aggregate by count, ties broken by key so that
// repeated runs print identical text.
func entries(agg map[string]uint64, ascending bool) []kv {
	items := lo.MapToSlice(agg, func(k string, v uint64) kv { return kv{k, v} })
	sort.Slice(items, func(i, j int) bool {
		if items[i].v == items[j].v {
			return items[i].k < items[j].k
		}
		if ascending {
			return items[i].v < items[j].v
		}
		return items[i].v > items[j].v
	})
	return items
}

// WriteFoldedStacks prints one "<folded stack> <count>" line per key.
func WriteFoldedStacks(w io.Writer, agg map[string]uint64) error {
	for _, it := range entries(agg, false) {
		if _, err := fmt.Fprintf(w, "%s %d\n", it.k, it.v); err != nil {
			return err
		}
	}
	return nil
}
