// Package ledger keeps a durable history of past ingest runs, keyed by
// run sequence number, each recording the descriptor path it produced. It
// backs the `imagepile stat` CLI verb, letting an operator see how much
// of an image's data was novel versus deduplicated without re-reading
// the whole Pool.
//
// Unlike the Hash Index, the ledger is not part of the round-trip
// correctness contract: losing it loses history, not data. Pebble (an
// embedded LSM key/value store) is a natural fit for this kind of
// small, frequently-appended, occasionally-scanned metadata, the same
// role it plays as the block-lookup backend in the dedup disk device
// this module is descended from.
package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

// Entry records the outcome of a single ingest run.
type Entry struct {
	DescriptorPath string
	StartedAt      time.Time
	FinishedAt     time.Time
	BlocksTotal    uint32
	BlocksNovel    uint32
	HeadSkip       uint32
	TailBytes      uint32
}

// DedupRatio returns the fraction of blocks that were already present in
// the Pool before this run, 0 when BlocksTotal is 0.
func (e Entry) DedupRatio() float64 {
	if e.BlocksTotal == 0 {
		return 0
	}
	return 1 - float64(e.BlocksNovel)/float64(e.BlocksTotal)
}

// Ledger is a small embedded key/value log of Entry records, one per
// ingest run, keyed by a monotonically increasing sequence number so
// Recent can return them in run order without a secondary index.
type Ledger struct {
	db        *pebble.DB
	mu        sync.Mutex
	closeOnce sync.Once
}

// Open opens or creates the ledger database at dbPath.
func Open(dbPath string) (*Ledger, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("could not open ledger database %q: %w", dbPath, err)
	}
	return &Ledger{db: db}, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// Record appends entry to the ledger under the next sequence number.
func (l *Ledger) Record(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq, err := l.nextSeqLocked()
	if err != nil {
		return err
	}

	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("could not marshal ledger entry: %w", err)
	}
	if err := l.db.Set(seqKey(seq), val, pebble.Sync); err != nil {
		return fmt.Errorf("could not write ledger entry: %w", err)
	}
	return nil
}

func (l *Ledger) nextSeqLocked() (uint64, error) {
	iter := l.db.NewIter(nil)
	defer iter.Close()
	if !iter.Last() {
		return 0, nil
	}
	return binary.BigEndian.Uint64(iter.Key()) + 1, nil
}

// Recent returns up to limit of the most recently recorded entries,
// newest first.
func (l *Ledger) Recent(limit int) ([]Entry, error) {
	iter := l.db.NewIter(nil)
	defer iter.Close()

	var entries []Entry
	for valid := iter.Last(); valid && len(entries) < limit; valid = iter.Prev() {
		var entry Entry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return nil, fmt.Errorf("could not unmarshal ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("could not scan ledger: %w", err)
	}
	return entries, nil
}

// Totals returns every recorded entry, sorted by DescriptorPath for
// stable report output.
func (l *Ledger) Totals() ([]Entry, error) {
	entries, err := l.Recent(int(^uint(0) >> 1))
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].DescriptorPath < entries[j].DescriptorPath })
	return entries, nil
}

// Flush synchronizes the ledger to stable storage.
func (l *Ledger) Flush() error {
	return l.db.Flush()
}

// Close releases the ledger's database handle.
func (l *Ledger) Close() (err error) {
	l.closeOnce.Do(func() {
		err = l.db.Close()
	})
	return err
}
