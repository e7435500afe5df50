package symbolizer

import (
	log "github.com/rs/zerolog"
)

// SymbolResolver attributes a kernel address to the nearest preceding
// symbol of the kernel binary.
type SymbolResolver struct {
	table  *SymbolTable
	logger log.Logger
}

func NewSymbolResolver(table *SymbolTable, logger log.Logger) *SymbolResolver {
	return &SymbolResolver{table: table, logger: logger}
}

func (s *SymbolResolver) Resolve(addr uint64) Location {
	name, ok := s.table.Lookup(addr)
	if !ok {
		s.logger.Trace().Str("pc", hexAddr(addr)).Msg("no kernel symbol at or below pc")
		return Location{Kind: Unresolved, Addr: addr}
	}
	return Location{Kind: Symbolic, Function: name, Addr: addr}
}
