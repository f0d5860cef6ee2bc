package hashindex

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// recordSize is the on-disk width of one fingerprint record.
const recordSize = 8

// file is the persistent, append-only backing store for fingerprints: a
// flat sequence of 64-bit little-endian values, one per Pool block, in
// ordinal order. Its size in bytes is always 8 * count (invariant I1,
// enforced jointly with the Pool by the caller in pkg/store).
type file struct {
	handle *os.File

	mu    sync.Mutex
	count uint32
}

func openFile(path string) (*file, error) {
	handle, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("could not open index file %q: %w", path, err)
	}

	info, err := handle.Stat()
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("could not stat index file %q: %w", path, err)
	}
	if info.Size()%recordSize != 0 {
		handle.Close()
		return nil, fmt.Errorf("index file %q has size %d, not a multiple of record size %d: corrupt partial record", path, info.Size(), recordSize)
	}

	return &file{handle: handle, count: uint32(info.Size() / recordSize)}, nil
}

// forEach sequentially reads every record in ordinal order, calling fn
// with the running ordinal and fingerprint. A short read on a trailing
// partial record is a fatal corruption error.
func (f *file) forEach(fn func(ordinal uint32, fingerprint uint64) error) error {
	const batch = 4096 //records per read, an implementation choice
	buf := make([]byte, batch*recordSize)

	var ordinal uint32
	var offset int64
	for {
		n, err := f.handle.ReadAt(buf, offset)
		if n > 0 {
			if n%recordSize != 0 {
				return fmt.Errorf("index file has a partial trailing record (%d stray bytes): corrupt", n%recordSize)
			}
			for pos := 0; pos < n; pos += recordSize {
				fp := binary.LittleEndian.Uint64(buf[pos : pos+recordSize])
				if err := fn(ordinal, fp); err != nil {
					return err
				}
				ordinal++
			}
			offset += int64(n)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not read index file: %w", err)
		}
	}
}

func (f *file) append(fingerprint uint64) error {
	var buf [recordSize]byte
	binary.LittleEndian.PutUint64(buf[:], fingerprint)

	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.handle.Write(buf[:])
	if err != nil {
		return fmt.Errorf("could not append fingerprint to index file: %w", err)
	}
	if n != recordSize {
		return fmt.Errorf("short write appending to index file (%d of %d bytes): %w", n, recordSize, io.ErrShortWrite)
	}
	f.count++
	return nil
}

func (f *file) Count() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *file) Flush() error {
	if err := f.handle.Sync(); err != nil {
		return fmt.Errorf("could not sync index file: %w", err)
	}
	return nil
}

func (f *file) Close() error {
	if err := f.handle.Close(); err != nil {
		return fmt.Errorf("could not close index file: %w", err)
	}
	return nil
}
