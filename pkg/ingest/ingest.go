// Package ingest implements the Ingest Pipeline: it reads a raw disk
// image stream, resolves each fixed-size block against the Store
// (deduping byte-identical blocks to an existing ordinal), and writes an
// image descriptor recording the ordinal sequence plus the head/tail
// trim metadata needed to reconstruct the original byte stream exactly.
package ingest

import (
	"bufio"
	"fmt"
	"io"

	"github.com/tarndt/imagepile/pkg/critsec"
	"github.com/tarndt/imagepile/pkg/descriptor"
	"github.com/tarndt/imagepile/pkg/pool"
	"github.com/tarndt/imagepile/pkg/store"
	"github.com/tarndt/imagepile/pkg/util"
	"github.com/tarndt/imagepile/pkg/util/consterr"
	"github.com/tarndt/imagepile/pkg/util/strms"
)

// ErrInterrupted is returned when a Watcher observes a termination
// signal between blocks. Every block resolved so far has already been
// written to the Store's Pool and Index (Run itself does not flush them);
// the partially written descriptor at w should be discarded.
const ErrInterrupted = consterr.ConstErr("ingest interrupted")

// Run reads the raw image stream in, skipping headSkip bytes of logical
// alignment padding on the very first block (legacy alignment
// compatibility; 0 for an ordinary image), resolves every block through
// st, and writes a complete descriptor to w.
//
// A short read (fewer bytes than requested) is unambiguous end of input.
// But when headSkip shortens the very first request, a full read can
// still be the last block in the stream: the read came back full because
// the request itself was short, not because more input follows. That case
// is indistinguishable from "more data coming" without looking past the
// read, so a one-byte peek at the underlying stream follows every full
// read to settle it before the block's tail_bytes is patched, rather than
// deferring to the next loop iteration's read (which would be too late).
// An input that is empty from the very first read yields a descriptor
// with zero ordinals, per the idempotent-empty-input property; this is
// checked before anything is written to the Store, so an empty ingest
// touches neither the Pool nor the Index.
//
// Run returns the total number of ordinals written to the descriptor,
// for callers that want to report on dedup effectiveness (the caller can
// compare this against how much the Pool grew to derive a novel/total
// ratio).
func Run(st *store.Store, in io.Reader, w io.WriterAt, headSkip uint32, watcher *critsec.Watcher) (int, error) {
	if headSkip >= pool.BlockSize {
		return 0, fmt.Errorf("head_skip %d must be less than block size %d", headSkip, pool.BlockSize)
	}

	sw := strms.NewWriteAtWriter(w)
	if err := descriptor.WriteHeader(sw, descriptor.Header{HeadSkip: headSkip, TailBytes: pool.BlockSize}); err != nil {
		return 0, err
	}

	br := bufio.NewReader(in)
	buf := make([]byte, pool.BlockSize)
	first := true
	ordinals := 0

	for {
		requestLen := uint32(pool.BlockSize)
		if first && headSkip > 0 {
			requestLen = pool.BlockSize - headSkip
		}

		n, err := io.ReadFull(br, buf[:requestLen])
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return ordinals, fmt.Errorf("could not read input image: %w", err)
		}

		if n == 0 {
			break
		}

		if uint32(n) < pool.BlockSize {
			util.ZeroFill(buf[n:])
		}

		if watcher != nil && watcher.Requested() {
			return ordinals, ErrInterrupted
		}

		ordinal, resolveErr := st.Resolve(buf)
		if resolveErr != nil {
			return ordinals, resolveErr
		}
		if err := descriptor.WriteOrdinal(sw, ordinal); err != nil {
			return ordinals, err
		}
		ordinals++

		first = false
		headSkip = 0

		atEOF := uint32(n) < requestLen
		if !atEOF {
			if _, peekErr := br.Peek(1); peekErr == io.EOF {
				atEOF = true
			} else if peekErr != nil {
				return ordinals, fmt.Errorf("could not read input image: %w", peekErr)
			}
		}

		if atEOF {
			if err := descriptor.PatchTailBytes(w, uint32(n)); err != nil {
				return ordinals, err
			}
			break
		}
	}

	return ordinals, nil
}
