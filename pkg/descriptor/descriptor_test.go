package descriptor

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/tarndt/imagepile/pkg/pool"
)

func validHeaderBytes(headSkip, tailBytes uint32) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Signature[:])
	binary.LittleEndian.PutUint32(buf[4:8], headSkip)
	binary.LittleEndian.PutUint32(buf[8:12], tailBytes)
	return buf
}

func TestWriteHeaderThenReadHeaderRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	want := Header{HeadSkip: 512, TailBytes: 4096}
	if err := WriteHeader(&buf, want); err != nil {
		t.Fatalf("WriteHeader failed: %s", err)
	}

	got, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader failed: %s", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReadHeaderRejectsBadSignature(t *testing.T) {
	buf := validHeaderBytes(0, pool.BlockSize)
	copy(buf[0:4], "IPIZ")

	if _, err := ReadHeader(bytes.NewReader(buf)); err == nil {
		t.Fatal("expected ReadHeader to reject a bad signature")
	}
}

func TestReadHeaderRejectsOutOfRangeHeadSkip(t *testing.T) {
	buf := validHeaderBytes(pool.BlockSize, pool.BlockSize)

	if _, err := ReadHeader(bytes.NewReader(buf)); err == nil {
		t.Fatal("expected ReadHeader to reject head_skip equal to block size")
	}
}

func TestReadHeaderRejectsOutOfRangeTailBytes(t *testing.T) {
	buf := validHeaderBytes(0, pool.BlockSize+1)

	if _, err := ReadHeader(bytes.NewReader(buf)); err == nil {
		t.Fatal("expected ReadHeader to reject tail_bytes greater than block size")
	}
}

func TestReadHeaderRejectsZeroTailBytes(t *testing.T) {
	buf := validHeaderBytes(0, 0)

	if _, err := ReadHeader(bytes.NewReader(buf)); err == nil {
		t.Fatal("expected ReadHeader to reject a zero tail_bytes")
	}
}

func TestReadHeaderRejectsTruncatedHeader(t *testing.T) {
	buf := validHeaderBytes(0, pool.BlockSize)

	if _, err := ReadHeader(bytes.NewReader(buf[:HeaderSize-1])); err == nil {
		t.Fatal("expected ReadHeader to reject a truncated header")
	}
}

func TestPatchTailBytesRewritesInPlace(t *testing.T) {
	var rw seekWriter
	if err := WriteHeader(&rw, Header{HeadSkip: 0, TailBytes: pool.BlockSize}); err != nil {
		t.Fatalf("WriteHeader failed: %s", err)
	}
	if err := PatchTailBytes(&rw, 3000); err != nil {
		t.Fatalf("PatchTailBytes failed: %s", err)
	}

	got, err := ReadHeader(bytes.NewReader(rw.buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadHeader failed: %s", err)
	}
	if got.TailBytes != 3000 {
		t.Fatalf("expected patched tail_bytes 3000, got %d", got.TailBytes)
	}
}

func TestOrdinalReaderMarksOnlyTheLastOrdinal(t *testing.T) {
	var buf bytes.Buffer
	for _, ord := range []uint32{7, 8, 9} {
		if err := WriteOrdinal(&buf, ord); err != nil {
			t.Fatalf("WriteOrdinal failed: %s", err)
		}
	}

	or := NewOrdinalReader(bytes.NewReader(buf.Bytes()))
	var got []uint32
	var lastSeen int
	for {
		ord, last, ok := or.Next()
		if !ok {
			break
		}
		got = append(got, ord)
		if last {
			lastSeen++
		}
	}
	if err := or.Err(); err != nil {
		t.Fatalf("unexpected Err: %s", err)
	}
	if len(got) != 3 || got[0] != 7 || got[1] != 8 || got[2] != 9 {
		t.Fatalf("unexpected ordinals %v", got)
	}
	if lastSeen != 1 {
		t.Fatalf("expected exactly one ordinal marked last, got %d", lastSeen)
	}
}

func TestOrdinalReaderEmptyStreamYieldsNoOrdinals(t *testing.T) {
	or := NewOrdinalReader(bytes.NewReader(nil))
	if _, _, ok := or.Next(); ok {
		t.Fatal("expected an empty ordinal stream to yield no ordinals")
	}
	if err := or.Err(); err != nil {
		t.Fatalf("unexpected Err: %s", err)
	}
}

func TestOrdinalReaderRejectsPartialTrailingRecord(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteOrdinal(&buf, 42); err != nil {
		t.Fatalf("WriteOrdinal failed: %s", err)
	}
	truncated := append(buf.Bytes(), 0, 0) // 2 stray bytes of a second record

	or := NewOrdinalReader(bytes.NewReader(truncated))
	ord, _, ok := or.Next()
	if !ok || ord != 42 {
		t.Fatalf("expected the first well-formed ordinal to still be returned, got %d, %v", ord, ok)
	}
	if _, _, ok := or.Next(); ok {
		t.Fatal("expected no further ordinal after a partial trailing record")
	}
	if or.Err() == nil {
		t.Fatal("expected Err to report the partial trailing record as corruption")
	}
}

// seekWriter adapts a growable in-memory buffer to io.Writer + io.WriterAt,
// matching the pattern used in the ingest/reconstruct package tests.
type seekWriter struct {
	buf bytes.Buffer
}

func (w *seekWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *seekWriter) WriteAt(p []byte, off int64) (int, error) {
	b := w.buf.Bytes()
	end := int(off) + len(p)
	if end > len(b) {
		grown := make([]byte, end)
		copy(grown, b)
		w.buf.Reset()
		w.buf.Write(grown)
		b = w.buf.Bytes()
	}
	copy(b[off:end], p)
	return len(p), nil
}
