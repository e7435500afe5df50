package exporter

import (
	"fmt"
	"io"

	"github.com/VladMinzatu/kprof/internal/profiler"
)

// WriteRankedReport prints the aggregate rarest first, so the hottest
// location ends up right above the summary. Each line carries its share of
// kernel samples and the share of kernel samples not yet printed.
func WriteRankedReport(w io.Writer, agg *profiler.Aggregate) error {
	var running uint64
	for _, it := range entries(agg.Counts, true) {
		running += it.v
		remaining := uint64(0)
		if running < agg.Kernel {
			remaining = agg.Kernel - running
		}
		_, err := fmt.Fprintf(w, "%6.2f%% (%6.2f%% remaining) %10d  %s\n",
			percent(it.v, agg.Kernel), percent(remaining, agg.Kernel), it.v, it.k)
		if err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "Kernel samples: %d (%.2f%% of %d samples)\n",
		agg.Kernel, percent(agg.Kernel, agg.Total()), agg.Total()); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Resolved: %d (%.2f%% of kernel samples)\n",
		agg.Resolved, percent(agg.Resolved, agg.Kernel))
	return err
}

func percent(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
