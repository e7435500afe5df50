package profiler

import (
	"encoding/binary"
	"io"
	"iter"

	"github.com/pkg/errors"
	"golang.org/x/sys/cpu"
)

type Format int

const (
	// FormatFlat records are a single 8-byte instruction pointer.
	FormatFlat Format = iota + 1
	// FormatStack records are an 8-byte frame count followed by that many
	// 8-byte addresses, innermost frame first.
	FormatStack
)

const (
	wordSize = 8
	// stack records grow as frames are read; this only bounds the initial allocation
	maxPreallocFrames = 128
)

// Sample is one captured event: its addresses, innermost frame first.
// Flat records produce a stack of length one.
type Sample struct {
	Stack []uint64
}

// ParseByteOrder maps "little", "big" and "native" to a byte order.
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch s {
	case "little":
		return binary.LittleEndian, nil
	case "big":
		return binary.BigEndian, nil
	case "native":
		if cpu.IsBigEndian {
			return binary.BigEndian, nil
		}
		return binary.LittleEndian, nil
	}
	return nil, errors.Errorf("unknown byte order %q (want little, big or native)", s)
}

// Reader decodes samples from a capture stream. Any short read ends the
// stream: a partially written trailing record is dropped, not reported as
// an error.
type Reader struct {
	r      io.Reader
	format Format
	order  binary.ByteOrder

	buf       [wordSize]byte
	records   uint64
	truncated bool
	done      bool
}

func NewReader(r io.Reader, format Format, order binary.ByteOrder) *Reader {
	return &Reader{r: r, format: format, order: order}
}

// Next returns the next complete sample, or false once the stream ended.
func (r *Reader) Next() (Sample, bool) {
	if r.done {
		return Sample{}, false
	}
	var (
		s  Sample
		ok bool
	)
	switch r.format {
	case FormatStack:
		s, ok = r.nextStack()
	default:
		s, ok = r.nextFlat()
	}
	if !ok {
		r.done = true
		return Sample{}, false
	}
	r.records++
	return s, true
}

// All yields the remaining samples. The sequence cannot be restarted.
func (r *Reader) All() iter.Seq[Sample] {
	return func(yield func(Sample) bool) {
		for {
			s, ok := r.Next()
			if !ok || !yield(s) {
				return
			}
		}
	}
}

// Records is the number of complete samples read so far.
func (r *Reader) Records() uint64 { return r.records }

// Truncated reports whether the stream ended inside a record.
func (r *Reader) Truncated() bool { return r.truncated }

func (r *Reader) nextFlat() (Sample, bool) {
	addr, ok := r.readWord(true)
	if !ok {
		return Sample{}, false
	}
	return Sample{Stack: []uint64{addr}}, true
}

func (r *Reader) nextStack() (Sample, bool) {
	count, ok := r.readWord(true)
	if !ok {
		return Sample{}, false
	}
	stack := make([]uint64, 0, min(count, maxPreallocFrames))
	for i := uint64(0); i < count; i++ {
		addr, ok := r.readWord(false)
		if !ok {
			return Sample{}, false
		}
		stack = append(stack, addr)
	}
	return Sample{Stack: stack}, true
}

// readWord reads one 8-byte word. A clean EOF is only expected at a
// record boundary; everything else marks the stream as truncated.
func (r *Reader) readWord(boundary bool) (uint64, bool) {
	n, err := io.ReadFull(r.r, r.buf[:])
	if err != nil {
		if !(boundary && n == 0 && err == io.EOF) {
			r.truncated = true
		}
		return 0, false
	}
	return r.order.Uint64(r.buf[:]), true
}
