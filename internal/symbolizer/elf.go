package symbolizer

import (
	"debug/elf"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
)

// ElfLoader lists the symbols of the kernel binary in-process, for hosts
// without a symbol-listing tool. Its output has the same shape and order
// as `nm -n`.
type ElfLoader struct {
	path   string
	logger log.Logger
}

func NewElfLoader(path string, logger log.Logger) *ElfLoader {
	return &ElfLoader{path: path, logger: logger}
}

func (e *ElfLoader) ReadLines() ([]string, error) {
	e.logger.Debug().Str("path", e.path).Msg("loading ELF symbols")
	ef, err := elf.Open(e.path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening ELF file")
	}
	defer ef.Close()

	var syms []elf.Symbol
	if section := ef.Section(".symtab"); section != nil {
		if st, err := ef.Symbols(); err == nil {
			syms = append(syms, st...)
		}
	}
	if len(syms) == 0 {
		return nil, errors.New("no symbol table available in ELF")
	}

	defined := make([]elf.Symbol, 0, len(syms))
	for _, s := range syms {
		if s.Value == 0 || s.Section == elf.SHN_UNDEF || s.Name == "" {
			continue
		}
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_SECTION, elf.STT_FILE:
			continue
		}
		defined = append(defined, s)
	}
	sort.SliceStable(defined, func(i, j int) bool { return defined[i].Value < defined[j].Value })

	lines := make([]string, 0, len(defined))
	for _, s := range defined {
		lines = append(lines, fmt.Sprintf("%016x %c %s", s.Value, symbolType(s), s.Name))
	}
	return lines, nil
}

// symbolType approximates the nm type letter: upper case for global symbols.
func symbolType(s elf.Symbol) rune {
	t := 'd'
	if elf.ST_TYPE(s.Info) == elf.STT_FUNC {
		t = 't'
	}
	if elf.ST_BIND(s.Info) != elf.STB_LOCAL {
		t -= 'a' - 'A'
	}
	return t
}
