package profiler

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/samber/lo/mutable"

	"github.com/VladMinzatu/kprof/internal/symbolizer"
)

// FrameSeparator joins frames of a folded stack.
const FrameSeparator = ";"

var ErrSeparatorInSymbol = errors.New("resolved frame contains the folded stack separator")

// Aggregate is the outcome of one analysis pass.
type Aggregate struct {
	// Counts maps a resolved location key, or a folded stack when Folded
	// is set, to its number of samples.
	Counts map[string]uint64
	// Frames holds the first resolved frames seen for each key, innermost
	// first.
	Frames map[string][]symbolizer.Location
	Folded bool

	User     uint64
	Kernel   uint64
	Resolved uint64

	Records   uint64
	Truncated bool
}

func (a *Aggregate) Total() uint64 { return a.User + a.Kernel }

// IsKernelAddress reports whether addr lies in the upper half of the
// address space.
func IsKernelAddress(addr uint64) bool { return addr>>63 == 1 }

// Profiler is a single analysis session: it resolves kernel frames of each
// observed sample and accumulates counts.
type Profiler struct {
	resolver   symbolizer.Resolver
	flameGraph bool
	logger     log.Logger

	agg *Aggregate
}

type Option func(p *Profiler)

// WithFlameGraph aggregates whole folded stacks instead of single frames.
func WithFlameGraph(flameGraph bool) Option {
	return func(p *Profiler) {
		p.flameGraph = flameGraph
	}
}

func WithLogger(logger log.Logger) Option {
	return func(p *Profiler) {
		p.logger = logger
	}
}

func NewProfiler(resolver symbolizer.Resolver, opts ...Option) (*Profiler, error) {
	if resolver == nil {
		return nil, errors.New("a resolver is required")
	}
	p := &Profiler{resolver: resolver, logger: log.Nop()}
	for _, f := range opts {
		f(p)
	}
	p.agg = &Aggregate{
		Counts: make(map[string]uint64),
		Frames: make(map[string][]symbolizer.Location),
		Folded: p.flameGraph,
	}
	return p, nil
}

// Observe classifies and resolves every address of s. The only error is a
// frame that cannot be folded without corrupting the output.
func (p *Profiler) Observe(s Sample) error {
	var frames []symbolizer.Location
	for _, addr := range s.Stack {
		if !IsKernelAddress(addr) {
			p.agg.User++
			continue
		}
		p.agg.Kernel++

		loc := p.resolver.Resolve(addr)
		if !loc.Resolved() {
			continue
		}
		p.agg.Resolved++

		if !p.flameGraph {
			p.add(loc.Key(), []symbolizer.Location{loc})
			continue
		}
		if key := loc.Key(); strings.Contains(key, FrameSeparator) {
			return errors.Wrapf(ErrSeparatorInSymbol, "%q at 0x%x", key, addr)
		}
		frames = append(frames, loc)
	}

	if p.flameGraph && len(frames) > 0 {
		p.add(FoldStack(frames), frames)
	}
	return nil
}

// Consume runs the whole pass over r. A done ctx ends the pass early with
// its error; the aggregate is then incomplete and must not be reported.
func (p *Profiler) Consume(ctx context.Context, r *Reader) error {
	for s := range r.All() {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "interrupted")
		}
		if err := p.Observe(s); err != nil {
			return err
		}
	}
	p.agg.Records = r.Records()
	p.agg.Truncated = r.Truncated()
	if p.agg.Truncated {
		p.logger.Warn().Uint64("records", p.agg.Records).Msg("sample stream ends inside a record, partial record dropped")
	}
	p.logger.Debug().
		Uint64("records", p.agg.Records).
		Uint64("user", p.agg.User).
		Uint64("kernel", p.agg.Kernel).
		Uint64("resolved", p.agg.Resolved).
		Int("keys", len(p.agg.Counts)).
		Msg("finished sample pass")
	return nil
}

func (p *Profiler) Aggregate() *Aggregate { return p.agg }

func (p *Profiler) add(key string, frames []symbolizer.Location) {
	if _, ok := p.agg.Frames[key]; !ok {
		p.agg.Frames[key] = frames
	}
	p.agg.Counts[key]++
}

// FoldStack joins innermost-first frames root first, as flame graph
// tooling expects.
func FoldStack(frames []symbolizer.Location) string {
	names := lo.Map(frames, func(l symbolizer.Location, _ int) string { return l.Key() })
	mutable.Reverse(names)
	return strings.Join(names, FrameSeparator)
}
