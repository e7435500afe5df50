package symbolizer

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
)

// ListingLoader produces symbol listing lines in the `nm -n` shape:
//
//	ffffffff81000000 T _text
type ListingLoader interface {
	ReadLines() ([]string, error)
}

// NmLoader runs the symbol-listing tool against the kernel binary.
type NmLoader struct {
	ctx    context.Context
	tool   string
	binary string
	base   int
	logger log.Logger
}

// NewNmLoader resolves tool on PATH so that a missing tool fails before
// any input is read. With base 10 the tool is asked for a decimal radix
// (`-t d`), so its output matches what ParseSymbolListing expects.
func NewNmLoader(ctx context.Context, tool, binary string, base int, logger log.Logger) (*NmLoader, error) {
	if base != 10 && base != 16 {
		return nil, errors.Errorf("unsupported symbol listing radix %d", base)
	}
	path, err := exec.LookPath(tool)
	if err != nil {
		return nil, errors.Wrapf(err, "symbol listing tool %q not found", tool)
	}
	return &NmLoader{ctx: ctx, tool: path, binary: binary, base: base, logger: logger}, nil
}

func (n *NmLoader) ReadLines() ([]string, error) {
	args := []string{"-n"}
	if n.base == 10 {
		args = append(args, "-t", "d")
	}
	args = append(args, n.binary)
	n.logger.Debug().Str("tool", n.tool).Strs("args", args).Msg("listing kernel symbols")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(n.ctx, n.tool, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s: %s", n.tool, strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return strings.Split(strings.TrimRight(string(out), "\n"), "\n"), nil
}

// ParseSymbolListing turns listing lines into symbol entries, keeping the
// input order. base is 16 for the default nm radix or 10 for `nm -t d`.
// Lines without an address (undefined symbols) or with a malformed one
// are skipped.
func ParseSymbolListing(lines []string, base int) []SymbolEntry {
	entries := make([]SymbolEntry, 0, len(lines))
	for _, line := range lines {
		// Format: "ffffffff81000000 T _text" (addr type name [module])
		parts := strings.Fields(line)
		if len(parts) < 3 {
			continue
		}
		addrStr := parts[0]
		if base == 16 {
			addrStr = strings.TrimPrefix(addrStr, "0x")
		}
		addr, err := strconv.ParseUint(addrStr, base, 64)
		if err != nil {
			continue
		}
		entries = append(entries, SymbolEntry{Addr: addr, Name: parts[2]})
	}
	return entries
}

// LoadSymbolTable reads the whole listing and builds the index from it.
func LoadSymbolTable(loader ListingLoader, base int, logger log.Logger) (*SymbolTable, error) {
	lines, err := loader.ReadLines()
	if err != nil {
		return nil, err
	}
	table, err := NewSymbolTable(ParseSymbolListing(lines, base))
	if err != nil {
		return nil, err
	}
	logger.Info().Int("entries", table.Len()).Msg("loaded kernel symbol table")
	return table, nil
}
