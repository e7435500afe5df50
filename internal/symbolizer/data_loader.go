package symbolizer

import (
	"bufio"
	"os"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
)

// maxListingLine bounds one listing line; mangled C++ and Rust names can
// run far past bufio's default token size.
const maxListingLine = 16 * 1024 * 1024

// DataLoader reads a pre-generated symbol listing from a file.
type DataLoader struct {
	Path   string
	Logger log.Logger
}

func NewDataLoader(path string, logger log.Logger) *DataLoader {
	return &DataLoader{Path: path, Logger: logger}
}

func (d *DataLoader) ReadLines() ([]string, error) {
	d.Logger.Debug().Str("path", d.Path).Msg("loading symbol listing from file")
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening symbol listing")
	}
	defer f.Close()

	var lines []string
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), maxListingLine)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrapf(err, "error reading %s", d.Path)
	}
	return lines, nil
}
