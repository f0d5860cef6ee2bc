// Package reconstruct implements the Reconstruct Pipeline: it reads an
// image descriptor, looks up each referenced block in the Pool, and
// writes out the exact original byte stream by trimming the first and
// last blocks according to the descriptor's head_skip and tail_bytes
// fields.
package reconstruct

import (
	"fmt"
	"io"

	"github.com/tarndt/imagepile/pkg/critsec"
	"github.com/tarndt/imagepile/pkg/descriptor"
	"github.com/tarndt/imagepile/pkg/pool"
	"github.com/tarndt/imagepile/pkg/util/consterr"
)

// Reader is the subset of Pool needed to read blocks back out; *pool.Pool
// satisfies it, so a caller holding a Store passes its Pool field.
type Reader interface {
	Read(ordinal uint32, buf []byte) error
}

// ErrInterrupted is returned when a Watcher observes a termination
// signal mid-reconstruction. Reconstruct mutates no persistent state, so
// an interrupted run can simply be restarted from the same descriptor.
const ErrInterrupted = consterr.ConstErr("reconstruct interrupted")

// Run reads a descriptor from r and writes the reconstructed image
// stream to out, reading blocks from pl.
//
// The first (non-final) block, when head_skip is nonzero, is written as
// its first (BlockSize - head_skip) bytes: block content always occupies
// the front of the buffer, regardless of a leading skip count, so
// trimming a non-final first block means trimming its tail, not its
// head. The final block is always written as its first tail_bytes bytes;
// that check takes priority over the head_skip trim, so a descriptor
// with exactly one ordinal (first block is also last) is governed purely
// by tail_bytes, with head_skip contributing nothing to the output (it
// was already folded into tail_bytes by the Ingest Pipeline for this
// case, since tail_bytes there is simply the count of real bytes
// actually read into that single block).
func Run(pl Reader, r io.Reader, out io.Writer, watcher *critsec.Watcher) error {
	hdr, err := descriptor.ReadHeader(r)
	if err != nil {
		return err
	}

	or := descriptor.NewOrdinalReader(r)
	buf := make([]byte, pool.BlockSize)
	headSkip := hdr.HeadSkip
	first := true

	for {
		ordinal, last, ok := or.Next()
		if !ok {
			break
		}

		if watcher != nil && watcher.Requested() {
			return ErrInterrupted
		}

		if err := pl.Read(ordinal, buf); err != nil {
			return err
		}

		var chunk []byte
		switch {
		case last:
			chunk = buf[:hdr.TailBytes]
		case first && headSkip > 0:
			chunk = buf[:pool.BlockSize-headSkip]
		default:
			chunk = buf
		}
		if _, err := out.Write(chunk); err != nil {
			return fmt.Errorf("could not write reconstructed output: %w", err)
		}

		first = false
		headSkip = 0
	}

	if err := or.Err(); err != nil {
		return err
	}
	return nil
}
