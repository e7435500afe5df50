package cmd

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/VladMinzatu/kprof/internal/exporter"
	"github.com/VladMinzatu/kprof/internal/pprof"
	"github.com/VladMinzatu/kprof/internal/profiler"
	"github.com/VladMinzatu/kprof/internal/symbolizer"
)

const (
	CmdName      = "kprof"
	logLevelInfo = "info"
	stdoutPath   = "-"
)

var ErrBinaryToTerminal = errors.New("refusing to write a binary profile to a terminal")

type Options struct {
	binary      string
	symbols     string
	decimal     bool
	elf         bool
	nmTool      string
	addr2line   string
	lines       bool
	granularity string
	stacks      bool
	flameGraph  bool
	byteOrder   string
	pprofPath   string
	otlpPath    string
	logLevel    string

	*CommonOptions
}

func NewRootCmd(opts *CommonOptions) *cobra.Command {
	o := new(Options)
	o.CommonOptions = opts

	cmd := &cobra.Command{
		Use:   CmdName + " <samples>",
		Short: "kprof summarizes kernel sampling profiles",
		Long: `kprof reads instruction pointer samples captured from a running kernel,
attributes kernel addresses to symbols or source lines of the kernel binary
and prints either a ranked report or folded stacks for flame graph tooling.`,
		Args:              cobra.ExactArgs(1),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE:              o.Run,
	}
	cmd.Flags().StringVarP(&o.binary, "binary", "b", "", "Path to the profiled kernel binary")
	cmd.Flags().StringVar(&o.symbols, "symbols", "", "Pre-generated symbol listing (nm -n format) used instead of running nm")
	cmd.Flags().BoolVar(&o.decimal, "decimal", false, "Symbol listing addresses are decimal")
	cmd.Flags().BoolVar(&o.elf, "elf", false, "Read symbols from the binary's ELF symbol table instead of running nm")
	cmd.Flags().StringVar(&o.nmTool, "nm", "nm", "Symbol listing tool")
	cmd.Flags().StringVar(&o.addr2line, "addr2line", "addr2line", "Line resolution tool")

	cmd.Flags().BoolVar(&o.lines, "lines", false, "Aggregate by source line instead of symbol")
	cmd.Flags().StringVar(&o.granularity, "granularity", "line", "Line mode granularity (line, insn, file)")
	cmd.Flags().BoolVar(&o.stacks, "stacks", false, "Samples are stack records")
	cmd.Flags().BoolVar(&o.flameGraph, "flamegraph", false, "Print folded stacks instead of the ranked report (implies --stacks)")
	cmd.Flags().StringVar(&o.byteOrder, "byte-order", "native", "Byte order of the sample file (little, big, native)")

	cmd.Flags().StringVar(&o.pprofPath, "pprof", "", "Also write a gzipped pprof profile to this path ('-' for stdout)")
	cmd.Flags().StringVar(&o.otlpPath, "otlp", "", "Also write an OTLP profiles export request to this path ('-' for stdout)")

	cmd.Flags().StringVar(&o.logLevel, "log-level", logLevelInfo, "Log level (trace, debug, info, warn, error, fatal, panic)")

	return cmd
}

// Execute runs the root command and exits non-zero on any fatal error.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(
		log.ConsoleWriter{Out: os.Stderr},
	).With().Timestamp().Logger()

	opts := NewCommonOptions(
		WithContext(ctx),
		WithLogger(logger),
		WithStdout(os.Stdout, func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }),
	)

	if err := NewRootCmd(opts).Execute(); err != nil {
		cancel()
		os.Exit(1)
	}
}

func (o *Options) Run(cmd *cobra.Command, args []string) error {
	logLevel, err := log.ParseLevel(o.logLevel)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	o.Logger = o.Logger.Level(logLevel)
	if o.Stdout == nil {
		o.Stdout = cmd.OutOrStdout()
	}

	granularity, order, err := o.validate(cmd)
	if err != nil {
		return err
	}

	resolver, closeResolver, err := o.newResolver(granularity)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeResolver(); err != nil {
			o.Logger.Warn().Err(err).Msg("failed to shut down resolver")
		}
	}()

	f, err := profiler.OpenSampleFile(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	format := profiler.FormatFlat
	if o.stacks || o.flameGraph {
		format = profiler.FormatStack
	}

	p, err := profiler.NewProfiler(resolver,
		profiler.WithFlameGraph(o.flameGraph),
		profiler.WithLogger(o.Logger),
	)
	if err != nil {
		return err
	}
	if err := p.Consume(o.Ctx, profiler.NewReader(f, format, order)); err != nil {
		return errors.Wrap(err, "failed to aggregate samples")
	}
	agg := p.Aggregate()

	switch {
	case o.pprofPath == stdoutPath || o.otlpPath == stdoutPath:
		o.Logger.Info().Msg("structured profile goes to stdout, skipping the text report")
	case o.flameGraph:
		err = exporter.WriteFoldedStacks(o.Stdout, agg.Counts)
	default:
		err = exporter.WriteRankedReport(o.Stdout, agg)
	}
	if err != nil {
		return errors.Wrap(err, "failed to write report")
	}

	if o.pprofPath != "" {
		prof, err := pprof.BuildPprofProfile(agg, "samples", "count")
		if err != nil {
			return errors.Wrap(err, "failed to build pprof profile")
		}
		if err := o.writeOutput(o.pprofPath, func(w io.Writer) error { return pprof.WriteProfileGzip(prof, w) }); err != nil {
			return errors.Wrap(err, "failed to write pprof profile")
		}
	}
	if o.otlpPath != "" {
		data := exporter.BuildOltpProfile(agg, func() uint64 { return uint64(time.Now().UnixNano()) })
		if err := o.writeOutput(o.otlpPath, func(w io.Writer) error { return exporter.WriteOltpRequest(w, data) }); err != nil {
			return errors.Wrap(err, "failed to write OTLP profile")
		}
	}

	return nil
}

// validate rejects inconsistent flag combinations before any input is read.
func (o *Options) validate(cmd *cobra.Command) (symbolizer.Granularity, binary.ByteOrder, error) {
	order, err := profiler.ParseByteOrder(o.byteOrder)
	if err != nil {
		return 0, nil, err
	}
	granularity, err := symbolizer.ParseGranularity(o.granularity)
	if err != nil {
		return 0, nil, err
	}
	if cmd.Flags().Changed("granularity") && !o.lines {
		return 0, nil, errors.New("--granularity requires --lines")
	}
	if o.lines && o.binary == "" {
		return 0, nil, errors.New("--lines requires --binary")
	}
	if !o.lines && o.binary == "" && o.symbols == "" {
		return 0, nil, errors.New("either --binary or --symbols is required")
	}
	if o.lines && (o.symbols != "" || o.decimal || o.elf) {
		return 0, nil, errors.New("--symbols, --decimal and --elf only apply to symbol mode")
	}
	if o.elf && (o.binary == "" || o.symbols != "" || o.decimal) {
		return 0, nil, errors.New("--elf requires --binary and excludes --symbols and --decimal")
	}
	if o.pprofPath == stdoutPath && o.otlpPath == stdoutPath {
		return 0, nil, errors.New("--pprof and --otlp cannot both write to stdout")
	}
	if (o.pprofPath == stdoutPath || o.otlpPath == stdoutPath) && o.IsTerminal() {
		return 0, nil, ErrBinaryToTerminal
	}
	return granularity, order, nil
}

func (o *Options) newResolver(granularity symbolizer.Granularity) (symbolizer.Resolver, func() error, error) {
	if o.lines {
		lr, err := symbolizer.StartLineResolver(o.Ctx, o.addr2line, o.binary, granularity, o.Logger)
		if err != nil {
			return nil, nil, err
		}
		return lr, lr.Close, nil
	}

	base := 16
	if o.decimal {
		base = 10
	}
	var loader symbolizer.ListingLoader
	switch {
	case o.symbols != "":
		loader = symbolizer.NewDataLoader(o.symbols, o.Logger)
	case o.elf:
		loader = symbolizer.NewElfLoader(o.binary, o.Logger)
	default:
		nm, err := symbolizer.NewNmLoader(o.Ctx, o.nmTool, o.binary, base, o.Logger)
		if err != nil {
			return nil, nil, err
		}
		loader = nm
	}
	table, err := symbolizer.LoadSymbolTable(loader, base, o.Logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load kernel symbols")
	}
	return symbolizer.NewSymbolResolver(table, o.Logger), func() error { return nil }, nil
}

func (o *Options) writeOutput(path string, write func(io.Writer) error) error {
	if path == stdoutPath {
		return write(o.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
