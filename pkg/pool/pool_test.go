package pool

import (
	"bytes"
	"path/filepath"
	"testing"
)

func block(fill byte) []byte {
	b := make([]byte, BlockSize)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestAppendAndRead(t *testing.T) {
	p, err := Open(filepath.Join(t.TempDir(), "pool.db"))
	if err != nil {
		t.Fatalf("Open failed: %s", err)
	}
	defer p.Close()

	a, b := block(0xAA), block(0xBB)

	ordA, err := p.Append(a)
	if err != nil {
		t.Fatalf("Append a failed: %s", err)
	}
	if ordA != 0 {
		t.Fatalf("expected ordinal 0, got %d", ordA)
	}

	ordB, err := p.Append(b)
	if err != nil {
		t.Fatalf("Append b failed: %s", err)
	}
	if ordB != 1 {
		t.Fatalf("expected ordinal 1, got %d", ordB)
	}

	if got := p.Blocks(); got != 2 {
		t.Fatalf("expected 2 blocks, got %d", got)
	}

	buf := make([]byte, BlockSize)
	if err := p.Read(0, buf); err != nil {
		t.Fatalf("Read(0) failed: %s", err)
	}
	if !bytes.Equal(buf, a) {
		t.Fatal("Read(0) did not return the block written at ordinal 0")
	}

	if err := p.Read(1, buf); err != nil {
		t.Fatalf("Read(1) failed: %s", err)
	}
	if !bytes.Equal(buf, b) {
		t.Fatal("Read(1) did not return the block written at ordinal 1")
	}
}

func TestReadOutOfBounds(t *testing.T) {
	p, err := Open(filepath.Join(t.TempDir(), "pool.db"))
	if err != nil {
		t.Fatalf("Open failed: %s", err)
	}
	defer p.Close()

	if _, err := p.Append(block(1)); err != nil {
		t.Fatalf("Append failed: %s", err)
	}

	buf := make([]byte, BlockSize)
	if err := p.Read(1, buf); err == nil {
		t.Fatal("expected an error reading an out of bounds ordinal")
	}
}

func TestAppendWrongSize(t *testing.T) {
	p, err := Open(filepath.Join(t.TempDir(), "pool.db"))
	if err != nil {
		t.Fatalf("Open failed: %s", err)
	}
	defer p.Close()

	if _, err := p.Append(make([]byte, BlockSize-1)); err == nil {
		t.Fatal("expected an error appending an undersized block")
	}
}

func TestReopenPreservesOrdinals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.db")

	p, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %s", err)
	}
	a, b := block(7), block(9)
	if _, err := p.Append(a); err != nil {
		t.Fatalf("Append a failed: %s", err)
	}
	if _, err := p.Append(b); err != nil {
		t.Fatalf("Append b failed: %s", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %s", err)
	}

	p2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %s", err)
	}
	defer p2.Close()

	if got := p2.Blocks(); got != 2 {
		t.Fatalf("expected 2 blocks after reopen, got %d", got)
	}

	buf := make([]byte, BlockSize)
	if err := p2.Read(1, buf); err != nil {
		t.Fatalf("Read(1) after reopen failed: %s", err)
	}
	if !bytes.Equal(buf, b) {
		t.Fatal("ordinal 1 did not survive reopen with the same content")
	}

	ord, err := p2.Append(block(42))
	if err != nil {
		t.Fatalf("Append after reopen failed: %s", err)
	}
	if ord != 2 {
		t.Fatalf("expected new append to get ordinal 2, got %d", ord)
	}
}
