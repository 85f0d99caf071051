package gatewayframe

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/sessamekesh/shardwire/pkg/errors"
)

var zlibFlushSuffix = []byte{0x00, 0x00, 0xff, 0xff}

const inflateWindowSize = 32 * 1024

// zlibStreamInflater decodes a zlib-stream transport: one zlib stream shared by every
// frame on the socket, with each logical message terminated by a sync flush.
//
// Every message is inflated with a fresh flate reader primed with the last 32 KiB of
// output, which is equivalent to continuing the stream because sync flushes leave the
// bit stream byte-aligned at a block boundary.
type zlibStreamInflater struct {
	pending    []byte
	headerRead bool
	window     []byte
	src        *bytes.Reader
	reader     io.ReadCloser
}

func newZlibStreamInflater() *zlibStreamInflater {
	return &zlibStreamInflater{
		pending: []byte{},
		window:  make([]byte, 0, inflateWindowSize),
		src:     bytes.NewReader(nil),
	}
}

// Feed appends a transport frame. It returns complete=false until a flush boundary
// has been seen.
func (z *zlibStreamInflater) Feed(chunk []byte) (out []byte, complete bool, err error) {
	z.pending = append(z.pending, chunk...)
	if !bytes.HasSuffix(z.pending, zlibFlushSuffix) {
		return nil, false, nil
	}

	data := z.pending
	z.pending = []byte{}

	if !z.headerRead {
		if err := checkZlibHeader(data); err != nil {
			return nil, false, err
		}
		data = data[2:]
		z.headerRead = true
	}

	z.src.Reset(data)
	if z.reader == nil {
		z.reader = flate.NewReaderDict(z.src, z.window)
	} else if err := z.reader.(flate.Resetter).Reset(z.src, z.window); err != nil {
		return nil, false, &errors.DecodeError{Kind: errors.DecodeErrorKind_Corrupt, Err: err}
	}

	out, err = io.ReadAll(z.reader)
	if err != nil && !stderrors.Is(err, io.ErrUnexpectedEOF) {
		return nil, false, &errors.DecodeError{Kind: errors.DecodeErrorKind_Corrupt, Err: err}
	}
	if z.src.Len() != 0 {
		return nil, false, &errors.DecodeError{
			Kind: errors.DecodeErrorKind_Corrupt,
			Err:  fmt.Errorf("%d trailing bytes after flush boundary", z.src.Len()),
		}
	}

	z.window = append(z.window, out...)
	if len(z.window) > inflateWindowSize {
		z.window = append(z.window[:0], z.window[len(z.window)-inflateWindowSize:]...)
	}

	return out, true, nil
}

func checkZlibHeader(data []byte) error {
	if len(data) < 2 {
		return &errors.DecodeError{Kind: errors.DecodeErrorKind_Corrupt, Err: fmt.Errorf("zlib header truncated")}
	}
	cmf, flg := data[0], data[1]
	if cmf&0x0f != 8 || (uint16(cmf)<<8|uint16(flg))%31 != 0 {
		return &errors.DecodeError{Kind: errors.DecodeErrorKind_Corrupt, Err: fmt.Errorf("invalid zlib header %#x %#x", cmf, flg)}
	}
	if flg&0x20 != 0 {
		return &errors.DecodeError{Kind: errors.DecodeErrorKind_Corrupt, Err: fmt.Errorf("zlib preset dictionary not supported")}
	}
	return nil
}
