// Package store wires the Pool, the HashIndex and the fingerprint
// function into a single handle that the Ingest and Reconstruct
// pipelines share. It owns the startup lockstep check (invariant I1:
// the Index and the Pool must hold exactly the same number of records)
// and the dedup-or-append decision (invariant I2: a fingerprint match is
// only trusted after a byte-exact comparison against the candidate
// block already on disk).
package store

import (
	"bytes"
	"fmt"

	"github.com/tarndt/imagepile/pkg/fingerprint"
	"github.com/tarndt/imagepile/pkg/hashindex"
	"github.com/tarndt/imagepile/pkg/pool"
)

// Store is a single run's handle on one imagepile directory's Pool and
// Index. It is not safe for concurrent use by more than one writer.
type Store struct {
	Pool  *pool.Pool
	Index *hashindex.HashIndex
}

// Open opens the Pool file at poolPath and the Index file at indexPath,
// rebuilds the in-memory lookup, and validates that the two
// files are in lockstep before returning.
func Open(poolPath, indexPath string) (*Store, error) {
	p, err := pool.Open(poolPath)
	if err != nil {
		return nil, err
	}
	idx, err := hashindex.Open(indexPath)
	if err != nil {
		p.Close()
		return nil, err
	}
	if p.Blocks() != idx.Count() {
		p.Close()
		idx.Close()
		return nil, fmt.Errorf("pool has %d blocks but index has %d records: lockstep invariant violated", p.Blocks(), idx.Count())
	}
	return &Store{Pool: p, Index: idx}, nil
}

// Resolve returns the ordinal for block, a full pool.BlockSize slice,
// appending it to the Pool and recording its fingerprint in the Index
// only if no byte-identical block already exists. The append-then-index
// pair is the system's one critical section: a caller interrupted
// between these two calls would violate the lockstep invariant, so
// Resolve performs them back to back with no intervening I/O of its
// own.
func (s *Store) Resolve(block []byte) (uint32, error) {
	fp := fingerprint.Sum64(block)

	candidate := make([]byte, pool.BlockSize)
	cursor := s.Index.Find(fp)
	for {
		ordinal, ok := cursor.Next()
		if !ok {
			break
		}
		if err := s.Pool.Read(ordinal, candidate); err != nil {
			return 0, err
		}
		if bytes.Equal(candidate, block) {
			return ordinal, nil
		}
	}

	ordinal, err := s.Pool.Append(block)
	if err != nil {
		return 0, err
	}
	if err := s.Index.Insert(fp, ordinal); err != nil {
		return 0, fmt.Errorf("block appended at ordinal %d but index insert failed, pool and index are now out of lockstep: %w", ordinal, err)
	}
	return ordinal, nil
}

// Flush synchronizes the Pool and the Index to stable storage, in that
// order. A crash between the two flushes can leave the Index with fewer
// durable records than the Pool; Open then reports the lockstep
// violation and does not repair it.
func (s *Store) Flush() error {
	if err := s.Pool.Flush(); err != nil {
		return err
	}
	return s.Index.Flush()
}

// Close flushes and closes both the Pool and the Index.
func (s *Store) Close() error {
	ferr := s.Flush()
	perr := s.Pool.Close()
	ierr := s.Index.Close()
	if ferr != nil {
		return ferr
	}
	if perr != nil {
		return perr
	}
	return ierr
}
