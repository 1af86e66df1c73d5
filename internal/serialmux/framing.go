package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync/atomic"
)

// frameReader cuts fixed-size reports out of a byte stream. A serial link
// has no packet boundaries, so after a short or corrupt message it realigns
// on the next report header instead of shifting every later frame.
type frameReader struct {
	r      io.Reader
	size   int
	header []byte

	// pending holds bytes read but not yet consumed. It can run past size
	// when the start of the following frame was read to settle a frame.
	pending []byte
	skipped *atomic.Uint64
}

func newFrameReader(r io.Reader, size int, header []byte, skipped *atomic.Uint64) *frameReader {
	return &frameReader{r: r, size: size, header: header, pending: make([]byte, 0, 2*size), skipped: skipped}
}

// next returns the next frame. A frame that starts with the header but is
// cut short by the following header is returned truncated, so the decoder
// sees a short message; bytes before any header are skipped. io.EOF means
// the stream ended on a frame boundary and io.ErrUnexpectedEOF that it ended
// mid-frame.
func (f *frameReader) next() ([]byte, error) {
	for {
		if err := f.fill(f.size); err != nil {
			return nil, f.endOfStream(err)
		}

		if !f.headerAt(0) {
			skip := f.findHeader(1, len(f.pending))
			f.skipped.Add(uint64(skip))
			f.consume(skip)
			continue
		}

		if at := f.findHeader(1, f.size); at < f.size {
			// A header inside the frame is either payload that happens to
			// match or the start of a report after a short one. The byte
			// stream after this frame decides.
			err := f.fill(f.size + len(f.header))
			if err != nil && !isEOF(err) {
				return nil, err
			}
			if err == nil && !f.headerAt(f.size) {
				short := f.take(at)
				return short, nil
			}
		}
		return f.take(f.size), nil
	}
}

// fill reads until at least n bytes are pending.
func (f *frameReader) fill(n int) error {
	have := len(f.pending)
	if have >= n {
		return nil
	}
	f.pending = append(f.pending, make([]byte, n-have)...)
	got, err := io.ReadFull(f.r, f.pending[have:])
	f.pending = f.pending[:have+got]
	return err
}

func (f *frameReader) endOfStream(err error) error {
	if !isEOF(err) {
		return err
	}
	if len(f.pending) == 0 {
		return io.EOF
	}
	return io.ErrUnexpectedEOF
}

// headerAt reports whether the pending bytes at i match the header, as far
// as they have been read.
func (f *frameReader) headerAt(i int) bool {
	end := min(i+len(f.header), len(f.pending))
	if i >= end {
		return false
	}
	return bytes.Equal(f.pending[i:end], f.header[:end-i])
}

// findHeader returns the first header position in [from, to), or to.
func (f *frameReader) findHeader(from, to int) int {
	for i := from; i < to; i++ {
		if f.headerAt(i) {
			return i
		}
	}
	return to
}

func (f *frameReader) take(n int) []byte {
	out := make([]byte, n)
	copy(out, f.pending[:n])
	f.consume(n)
	return out
}

func (f *frameReader) consume(n int) {
	rest := copy(f.pending, f.pending[n:])
	f.pending = f.pending[:rest]
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
