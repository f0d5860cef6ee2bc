package store

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/tarndt/imagepile/pkg/fingerprint"
	"github.com/tarndt/imagepile/pkg/pool"
)

func open(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "pool.db"), filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("Open failed: %s", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func block(fill byte) []byte {
	b := make([]byte, pool.BlockSize)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestResolveDedupsIdenticalBlocks(t *testing.T) {
	st := open(t)

	a := block('A')
	ord1, err := st.Resolve(a)
	if err != nil {
		t.Fatalf("Resolve failed: %s", err)
	}
	ord2, err := st.Resolve(append([]byte(nil), a...))
	if err != nil {
		t.Fatalf("Resolve failed: %s", err)
	}
	if ord1 != ord2 {
		t.Fatalf("expected identical blocks to dedup to the same ordinal, got %d and %d", ord1, ord2)
	}
	if st.Pool.Blocks() != 1 {
		t.Fatalf("expected pool to hold 1 block, got %d", st.Pool.Blocks())
	}
}

func TestResolveDistinctBlocksGetDistinctOrdinals(t *testing.T) {
	st := open(t)

	ord1, err := st.Resolve(block('A'))
	if err != nil {
		t.Fatalf("Resolve failed: %s", err)
	}
	ord2, err := st.Resolve(block('B'))
	if err != nil {
		t.Fatalf("Resolve failed: %s", err)
	}
	if ord1 == ord2 {
		t.Fatalf("expected distinct blocks to get distinct ordinals, both got %d", ord1)
	}
}

// TestResolveRejectsFingerprintCollision forges an index record that
// claims block A's fingerprint belongs to an ordinal that actually holds
// different content, the way a genuine (if astronomically unlikely)
// 64-bit hash collision would look on disk. Resolve must not trust the
// fingerprint match alone: it has to read the candidate block back and
// compare bytes before deciding A is already present.
func TestResolveRejectsFingerprintCollision(t *testing.T) {
	st := open(t)

	a, b := block('A'), block('B')
	fpA := fingerprint.Sum64(a)

	collidingOrdinal, err := st.Pool.Append(b)
	if err != nil {
		t.Fatalf("Append failed: %s", err)
	}
	if err := st.Index.Insert(fpA, collidingOrdinal); err != nil {
		t.Fatalf("Insert failed: %s", err)
	}

	ord, err := st.Resolve(a)
	if err != nil {
		t.Fatalf("Resolve failed: %s", err)
	}
	if ord == collidingOrdinal {
		t.Fatal("Resolve returned an ordinal holding different content than the block it was asked to resolve")
	}

	got := make([]byte, pool.BlockSize)
	if err := st.Pool.Read(ord, got); err != nil {
		t.Fatalf("Read failed: %s", err)
	}
	if !bytes.Equal(got, a) {
		t.Fatalf("ordinal %d does not hold the content Resolve(a) should have stored", ord)
	}
}

func TestOpenRejectsOutOfLockstepFiles(t *testing.T) {
	dir := t.TempDir()
	poolPath := filepath.Join(dir, "pool.db")
	indexPath := filepath.Join(dir, "index.db")

	st, err := Open(poolPath, indexPath)
	if err != nil {
		t.Fatalf("Open failed: %s", err)
	}
	if _, err := st.Pool.Append(block('A')); err != nil {
		t.Fatalf("Append failed: %s", err)
	}
	// Deliberately skip indexing to desynchronize the two files.
	if err := st.Pool.Close(); err != nil {
		t.Fatalf("Close failed: %s", err)
	}

	if _, err := Open(poolPath, indexPath); err == nil {
		t.Fatal("expected Open to reject a pool/index pair that is out of lockstep")
	}
}
