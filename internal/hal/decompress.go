package hal

import (
	"bytes"
	"compress/zlib"
	"errors"
	"io"
)

// errNeedsMoreInput is returned by feeder.Read when its buffer is empty; it
// signals "pause, don't treat this as end of stream" to the zlib reader,
// which surfaces it back out of Read unchanged.
var errNeedsMoreInput = errors.New("hal: decompressor needs more input")

// feeder is an io.Reader fed incrementally by Feed, standing in for the
// original firmware's caller-supplied in_buf/in_buf_size pointers: data
// arrives in FlashDeflData chunks, and the decompressor must be able to
// pause mid-stream rather than see a premature EOF.
type feeder struct {
	buf bytes.Buffer
}

func (f *feeder) Read(p []byte) (int, error) {
	if f.buf.Len() == 0 {
		return 0, errNeedsMoreInput
	}
	return f.buf.Read(p)
}

func (f *feeder) Feed(data []byte) {
	f.buf.Write(data)
}

// zlibDecompressor implements Decompressor over compress/zlib, since the
// host side (internal/hostsim's FlashImageCompressed) wraps the compressed
// image in a zlib container (2-byte header, DEFLATE body, Adler-32
// trailer), not raw DEFLATE.
type zlibDecompressor struct {
	in     *feeder
	zr     io.ReadCloser
	done   bool
	failed bool
}

func newZlibDecompressor() *zlibDecompressor {
	return &zlibDecompressor{in: &feeder{}}
}

func (d *zlibDecompressor) Feed(data []byte) {
	d.in.Feed(data)
}

func (d *zlibDecompressor) Drain(out []byte) (int, Status, error) {
	if d.failed {
		return 0, StatusFailed, errors.New("hal: decompressor already failed")
	}
	if d.done {
		return 0, StatusDone, nil
	}

	if d.zr == nil {
		zr, err := zlib.NewReader(d.in)
		if err != nil {
			if errors.Is(err, errNeedsMoreInput) {
				return 0, StatusNeedsMoreInput, nil
			}
			d.failed = true
			return 0, StatusFailed, err
		}
		d.zr = zr
	}

	n, err := io.ReadFull(d.zr, out)
	if err == nil {
		// out is full; a zero-length read reports io.EOF if the stream
		// ended exactly here, without consuming any pending output.
		_, err = d.zr.Read(nil)
	}
	switch {
	case err == nil:
		return n, StatusHasMoreOutput, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		d.done = true
		return n, StatusDone, nil
	case errors.Is(err, errNeedsMoreInput):
		return n, StatusNeedsMoreInput, nil
	default:
		d.failed = true
		return n, StatusFailed, err
	}
}
