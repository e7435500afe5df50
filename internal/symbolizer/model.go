package symbolizer

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type LocationKind int

const (
	Unresolved LocationKind = iota
	Symbolic
	SourceLine
)

// Granularity selects which parts of a line resolver answer are kept.
type Granularity int

const (
	// GranularityLine keeps the function and the raw file:line text.
	GranularityLine Granularity = iota + 1
	// GranularityInsn additionally appends the raw address, so distinct
	// instructions mapped to the same source line stay apart.
	GranularityInsn
	// GranularityFile keeps the function and the file, dropping the line.
	GranularityFile
)

func ParseGranularity(s string) (Granularity, error) {
	switch s {
	case "line":
		return GranularityLine, nil
	case "insn":
		return GranularityInsn, nil
	case "file":
		return GranularityFile, nil
	}
	return 0, errors.Errorf("unknown granularity %q (want line, insn or file)", s)
}

// Location is a resolved kernel address.
type Location struct {
	Kind     LocationKind
	Function string
	// Source is the raw file:line answer of the line resolver.
	Source      string
	File        string
	Line        int64
	Addr        uint64
	Granularity Granularity
}

func (l Location) Resolved() bool { return l.Kind != Unresolved }

// Key is the aggregation key of the location.
func (l Location) Key() string {
	switch l.Kind {
	case Symbolic:
		return l.Function
	case SourceLine:
		switch l.Granularity {
		case GranularityInsn:
			return fmt.Sprintf("%s (%s) [0x%x]", l.Function, l.Source, l.Addr)
		case GranularityFile:
			return fmt.Sprintf("%s (%s)", l.Function, l.File)
		default:
			return fmt.Sprintf("%s (%s)", l.Function, l.Source)
		}
	}
	return ""
}

// Resolver maps one raw kernel address to a location. Implementations
// resolve every address independently.
type Resolver interface {
	Resolve(addr uint64) Location
}

// splitSource splits "file:line" into its parts. Anything after the line
// number (e.g. " (discriminator 2)") is ignored; unknown lines yield 0.
func splitSource(source string) (string, int64) {
	i := strings.LastIndexByte(source, ':')
	if i < 0 {
		return source, 0
	}
	file := source[:i]
	rest := source[i+1:]
	var line int64
	for _, c := range rest {
		if c < '0' || c > '9' {
			break
		}
		line = line*10 + int64(c-'0')
	}
	return file, line
}
