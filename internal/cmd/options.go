package cmd

import (
	"context"
	"io"

	log "github.com/rs/zerolog"
)

type CommonOptions struct {
	Ctx    context.Context
	Logger log.Logger
	Stdout io.Writer
	// IsTerminal reports whether Stdout is attached to a terminal.
	IsTerminal func() bool
}

type Option func(o *CommonOptions)

func NewCommonOptions(opts ...Option) *CommonOptions {
	o := new(CommonOptions)
	o.Ctx = context.Background()
	o.Logger = log.Nop()
	o.IsTerminal = func() bool { return false }
	for _, f := range opts {
		f(o)
	}

	return o
}

func WithContext(ctx context.Context) Option {
	return func(o *CommonOptions) {
		o.Ctx = ctx
	}
}

func WithLogger(logger log.Logger) Option {
	return func(o *CommonOptions) {
		o.Logger = logger
	}
}

func WithStdout(w io.Writer, isTerminal func() bool) Option {
	return func(o *CommonOptions) {
		o.Stdout = w
		o.IsTerminal = isTerminal
	}
}
