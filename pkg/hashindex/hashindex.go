// Package hashindex implements the persistent fingerprint Index file and
// the in-memory lookup structure that is rebuilt from it at startup. The
// i-th fingerprint appended to the Index corresponds to the i-th block
// ordinal in the companion Pool (invariant I1); this package does not
// itself know about the Pool, it only tracks and exposes that ordering.
package hashindex

import "fmt"

// HashIndex owns the persistent Index file and the in-memory lookup built
// from it. It is a process-wide singleton for the lifetime of one run,
// per the design's global-state note; callers should not share one
// HashIndex across concurrent writers.
type HashIndex struct {
	file   *file
	lookup *lookup
}

// Open reads the Index file at path sequentially to rebuild the in-memory
// lookup (persist=false for every record encountered this way, per the
// design), then returns a HashIndex ready to serve Find and Insert.
func Open(path string) (*HashIndex, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}

	lk := newLookup()
	if err := f.forEach(func(ordinal uint32, fingerprint uint64) error {
		lk.insert(fingerprint, ordinal)
		return nil
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("could not rebuild in-memory lookup from index file %q: %w", path, err)
	}

	return &HashIndex{file: f, lookup: lk}, nil
}

// Find returns a resumable Cursor over every ordinal previously inserted
// whose fingerprint may equal fingerprint (candidates share only the top
// 16 bits, so the cursor itself checks full 64-bit equality). Per
// invariant I2, a caller must still verify any candidate by a byte
// comparison against the Pool before treating it as a dedup match.
func (hi *HashIndex) Find(fingerprint uint64) *Cursor {
	return hi.lookup.find(fingerprint)
}

// Insert records a novel block's fingerprint at ordinal, both in the
// in-memory lookup and, durably, at the tail of the Index file. Callers
// must call this only after the corresponding block has already been
// appended to the Pool at the same ordinal (the lockstep invariant I1 is
// the caller's responsibility; see pkg/store).
func (hi *HashIndex) Insert(fingerprint uint64, ordinal uint32) error {
	if err := hi.file.append(fingerprint); err != nil {
		return err
	}
	hi.lookup.insert(fingerprint, ordinal)
	return nil
}

// Count returns the number of fingerprint records in the Index, which
// must always equal the Pool's block count (invariant I1).
func (hi *HashIndex) Count() uint32 {
	return hi.file.Count()
}

// ForEach replays every recorded (ordinal, fingerprint) pair in ordinal
// order, the same order Open used to rebuild the in-memory lookup. It is
// for verification and inspection; ordinary lookups should use Find.
func (hi *HashIndex) ForEach(fn func(ordinal uint32, fingerprint uint64) error) error {
	return hi.file.forEach(fn)
}

// Flush synchronizes the Index file to stable storage.
func (hi *HashIndex) Flush() error {
	return hi.file.Flush()
}

// Close releases the Index file's handle. It does not flush; call Flush
// first if durability is required.
func (hi *HashIndex) Close() error {
	return hi.file.Close()
}
