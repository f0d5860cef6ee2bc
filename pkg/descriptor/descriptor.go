// Package descriptor encodes and decodes the image descriptor format
// shared by the Ingest and Reconstruct pipelines:
//
//	offset  size  field
//	0       4     'IPIL' (0x49 0x50 0x49 0x4C)
//	4       4     head_skip      (u32 little-endian, 0 <= head_skip < BlockSize)
//	8       4     tail_bytes     (u32 little-endian, 0 < tail_bytes <= BlockSize)
//	12      4n    ordinals       (n x u32 little-endian, n >= 0; n == 0 only for an empty input)
package descriptor

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tarndt/imagepile/pkg/pool"
)

// HeaderSize is the fixed byte length of the descriptor header that
// precedes the ordinal stream.
const HeaderSize = 12

// Signature is the 4-byte ASCII magic that opens every descriptor.
var Signature = [4]byte{'I', 'P', 'I', 'L'}

// Header is the fixed-size prefix of an image descriptor.
type Header struct {
	HeadSkip  uint32
	TailBytes uint32
}

// WriteHeader writes the 12-byte descriptor header to w. Callers that do
// not yet know the final TailBytes value (ingest writes a placeholder and
// patches it in afterward) should pass pool.BlockSize and rewrite later
// with PatchTailBytes.
func WriteHeader(w io.Writer, hdr Header) error {
	var buf [HeaderSize]byte
	copy(buf[0:4], Signature[:])
	binary.LittleEndian.PutUint32(buf[4:8], hdr.HeadSkip)
	binary.LittleEndian.PutUint32(buf[8:12], hdr.TailBytes)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("could not write descriptor header: %w", err)
	}
	return nil
}

// PatchTailBytes rewrites the TailBytes field of an already-written
// header at descriptor offset 8, using w (which must support seeking to
// an absolute position, e.g. *os.File).
func PatchTailBytes(w io.WriterAt, tailBytes uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], tailBytes)
	if _, err := w.WriteAt(buf[:], 8); err != nil {
		return fmt.Errorf("could not patch tail_bytes in descriptor header: %w", err)
	}
	return nil
}

// ReadHeader reads and validates the 12-byte descriptor header from r. A
// bad signature or an out-of-range field is a fatal corruption error.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("could not read descriptor header: %w", err)
	}
	if buf[0] != Signature[0] || buf[1] != Signature[1] || buf[2] != Signature[2] || buf[3] != Signature[3] {
		return Header{}, fmt.Errorf("bad descriptor signature %q: corrupt or not an image descriptor", buf[0:4])
	}

	hdr := Header{
		HeadSkip:  binary.LittleEndian.Uint32(buf[4:8]),
		TailBytes: binary.LittleEndian.Uint32(buf[8:12]),
	}
	if hdr.HeadSkip >= pool.BlockSize {
		return Header{}, fmt.Errorf("descriptor head_skip %d is not less than block size %d: corrupt", hdr.HeadSkip, pool.BlockSize)
	}
	if hdr.TailBytes == 0 || hdr.TailBytes > pool.BlockSize {
		return Header{}, fmt.Errorf("descriptor tail_bytes %d is not in range (0, %d]: corrupt", hdr.TailBytes, pool.BlockSize)
	}
	return hdr, nil
}

// WriteOrdinal appends a single 32-bit little-endian pool ordinal to the
// descriptor's ordinal stream.
func WriteOrdinal(w io.Writer, ordinal uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], ordinal)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("could not write descriptor ordinal: %w", err)
	}
	return nil
}

// OrdinalReader reads the packed ordinal stream that follows the header,
// exposing a one-ordinal lookahead so callers can detect the final
// ordinal in the stream (needed to apply TailBytes correctly).
type OrdinalReader struct {
	r       io.Reader
	next    uint32
	hasNext bool
	err     error
}

// NewOrdinalReader wraps r (positioned immediately after the header) and
// primes its one-ordinal lookahead.
func NewOrdinalReader(r io.Reader) *OrdinalReader {
	or := &OrdinalReader{r: r}
	or.advance()
	return or
}

func (or *OrdinalReader) advance() {
	var buf [4]byte
	n, err := io.ReadFull(or.r, buf[:])
	switch {
	case err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0):
		or.hasNext = false
	case err == io.ErrUnexpectedEOF:
		or.err = fmt.Errorf("descriptor ordinal stream ends mid-record (%d stray bytes): corrupt", n)
		or.hasNext = false
	case err != nil:
		or.err = fmt.Errorf("could not read descriptor ordinal: %w", err)
		or.hasNext = false
	default:
		or.next = binary.LittleEndian.Uint32(buf[:])
		or.hasNext = true
	}
}

// Next returns the next ordinal and whether this is the last ordinal in
// the stream (Last=true exactly once, on the final call that returns
// ok=true). Err should be checked after ok is false.
func (or *OrdinalReader) Next() (ordinal uint32, last bool, ok bool) {
	if !or.hasNext {
		return 0, false, false
	}
	ordinal = or.next
	or.advance()
	return ordinal, !or.hasNext, true
}

// Err returns the first corruption or I/O error encountered, if any.
func (or *OrdinalReader) Err() error {
	return or.err
}
