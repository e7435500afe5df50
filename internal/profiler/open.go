package profiler

import (
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// sampleFile closes the decoder before the underlying file.
type sampleFile struct {
	io.Reader
	closers []func() error
}

func (f *sampleFile) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OpenSampleFile opens a capture file. Files ending in .gz or .zst are
// decompressed on the fly; anything else is read as is.
func OpenSampleFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening sample file")
	}

	switch filepath.Ext(path) {
	case ".gz":
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "error reading gzip header of %s", path)
		}
		return &sampleFile{Reader: zr, closers: []func() error{zr.Close, f.Close}}, nil
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "error creating zstd decoder for %s", path)
		}
		return &sampleFile{Reader: zr, closers: []func() error{
			func() error { zr.Close(); return nil },
			f.Close,
		}}, nil
	}
	return f, nil
}
