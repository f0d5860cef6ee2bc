// Package pool implements the append-only Block Pool: a flat file of
// fixed-size blocks addressed by their ordinal (zero-based) position.
// Blocks are written once at append and never mutated or removed.
package pool

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"launchpad.net/gommap"
)

// BlockSize is the compile-time fixed block size, B in the design doc.
const BlockSize = 4096

const syncDelay = time.Second * 5

// Pool is the append-only block store. The zero value is not usable;
// construct with Open. A Pool is safe for concurrent Read calls and for
// at most one concurrent Append call (single-writer invariant).
type Pool struct {
	file *os.File

	mu     sync.RWMutex
	view   gommap.MMap
	blocks uint32

	syncCh    chan struct{}
	closeOnce sync.Once
}

// Open opens or creates the pool file at path. The file's size must be a
// multiple of BlockSize; anything else is a fatal corruption error.
func Open(path string) (*Pool, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("could not open pool file %q: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("could not stat pool file %q: %w", path, err)
	}
	if info.Size()%BlockSize != 0 {
		file.Close()
		return nil, fmt.Errorf("pool file %q has size %d, not a multiple of block size %d", path, info.Size(), BlockSize)
	}

	p := &Pool{
		file:   file,
		blocks: uint32(info.Size() / BlockSize),
		syncCh: make(chan struct{}, 1),
	}
	if p.blocks > 0 {
		if err := p.remapLocked(); err != nil {
			file.Close()
			return nil, err
		}
	}
	go p.fsyncWorker()
	return p, nil
}

// remapLocked replaces the read-only mmap view with one covering the
// file's current size. Callers must hold mu for writing (or be in Open,
// before the Pool is shared).
func (p *Pool) remapLocked() error {
	if p.view != nil {
		if err := p.view.UnsafeUnmap(); err != nil {
			return fmt.Errorf("could not unmap pool file: %w", err)
		}
		p.view = nil
	}
	if p.blocks == 0 {
		return nil
	}
	view, err := gommap.Map(p.file.Fd(), gommap.PROT_READ, gommap.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("could not mmap pool file: %w", err)
	}
	p.view = view
	return nil
}

// Blocks returns the current number of blocks in the pool.
func (p *Pool) Blocks() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.blocks
}

// Append writes block (which must be exactly BlockSize bytes) to the end
// of the pool and returns its newly assigned ordinal. A short write is
// fatal, per the design's I-O failure disposition.
func (p *Pool) Append(block []byte) (ordinal uint32, err error) {
	if len(block) != BlockSize {
		return 0, fmt.Errorf("pool append requires exactly %d bytes, got %d", BlockSize, len(block))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ordinal = p.blocks
	offset := int64(ordinal) * BlockSize
	n, err := p.file.WriteAt(block, offset)
	if err != nil {
		return 0, fmt.Errorf("pool append write at block %d failed: %w", ordinal, err)
	}
	if n != BlockSize {
		return 0, fmt.Errorf("short write to pool appending block %d (%d of %d bytes): %w", ordinal, n, BlockSize, io.ErrShortWrite)
	}
	p.blocks++

	if err := p.remapLocked(); err != nil {
		return 0, err
	}

	select {
	case p.syncCh <- struct{}{}:
	default:
	}
	return ordinal, nil
}

// Read fills buf (which must be exactly BlockSize bytes) with the
// contents of the block at ordinal. A negative or out-of-range ordinal,
// or a short read, is fatal.
func (p *Pool) Read(ordinal uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("pool read requires a %d byte buffer, got %d", BlockSize, len(buf))
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if ordinal >= p.blocks {
		return fmt.Errorf("ordinal %d is out of bounds (pool has %d blocks): %w", ordinal, p.blocks, io.EOF)
	}

	offset := int64(ordinal) * BlockSize
	if p.view != nil && offset+BlockSize <= int64(len(p.view)) {
		copy(buf, p.view[offset:offset+BlockSize])
		return nil
	}

	n, err := p.file.ReadAt(buf, offset)
	if err != nil {
		return fmt.Errorf("pool read of block %d failed: %w", ordinal, err)
	}
	if n != BlockSize {
		return fmt.Errorf("short read from pool at block %d: %w", ordinal, io.ErrUnexpectedEOF)
	}
	return nil
}

// Flush synchronizes the pool file to stable storage.
func (p *Pool) Flush() error {
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("could not sync pool file: %w", err)
	}
	return nil
}

// Close flushes and releases the pool's file handle and mmap view.
func (p *Pool) Close() (err error) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		if flushErr := p.file.Sync(); flushErr != nil {
			err = fmt.Errorf("could not sync pool file on close: %w", flushErr)
		}
		if p.view != nil {
			if unmapErr := p.view.UnsafeUnmap(); unmapErr != nil && err == nil {
				err = fmt.Errorf("could not unmap pool file on close: %w", unmapErr)
			}
			p.view = nil
		}
		if closeErr := p.file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("could not close pool file: %w", closeErr)
		}
	})
	return err
}

func (p *Pool) fsyncWorker() {
	for range p.syncCh {
		time.Sleep(syncDelay)
		if err := p.Flush(); err != nil {
			log.Printf("pool: background sync failed: %s", err)
		}
		draining := true
		for draining {
			select {
			case <-p.syncCh:
			default:
				draining = false
			}
		}
	}
}
