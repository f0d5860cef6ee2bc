// Package archive backs up and restores an imagepile directory's Pool
// and Index files against a remote object store reachable through
// graymeta/stow. A backup is a single named item per file, optionally
// compressed and then encrypted in transit; it is not incremental,
// since the Pool and Index are themselves already append-only logs with
// no internal structure that would benefit from a diffing scheme.
package archive

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/graymeta/stow"

	"github.com/tarndt/imagepile/pkg/archive/compress"
	"github.com/tarndt/imagepile/pkg/archive/encrypt"
)

const (
	poolItemName  = "pool.db"
	indexItemName = "index.db"

	metaInitVect = "x-imagepile-iv"
)

// Options configures how an archive stream is written and read. Key
// must be set whenever Encrypt is not encrypt.ModeIdentity.
type Options struct {
	Compress compress.Mode
	Encrypt  encrypt.Mode
	Key      []byte
}

// Backup uploads the Pool file at poolPath and the Index file at
// indexPath as two items in container.
func Backup(container stow.Container, poolPath, indexPath string, opts Options) error {
	if err := backupFile(container, poolPath, poolItemName, opts); err != nil {
		return fmt.Errorf("could not back up pool file: %w", err)
	}
	if err := backupFile(container, indexPath, indexItemName, opts); err != nil {
		return fmt.Errorf("could not back up index file: %w", err)
	}
	return nil
}

func backupFile(container stow.Container, path, itemName string, opts Options) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", path, err)
	}
	defer src.Close()

	pipeRdr, pipeWtr := io.Pipe()

	metadata := map[string]interface{}{}
	var encWtr io.Writer = pipeWtr
	if opts.Encrypt != encrypt.ModeIdentity {
		var iv []byte
		encWtr, iv, err = opts.Encrypt.NewWriter(pipeWtr, opts.Key)
		if err != nil {
			return fmt.Errorf("could not create encryptor: %w", err)
		}
		metadata[metaInitVect] = hex.EncodeToString(iv)
	}
	compWtr, err := opts.Compress.NewWriter(encWtr)
	if err != nil {
		return fmt.Errorf("could not create compressor: %w", err)
	}

	go func() {
		if _, copyErr := io.Copy(compWtr, src); copyErr != nil {
			pipeWtr.CloseWithError(fmt.Errorf("could not stream %q to archive: %w", path, copyErr))
			return
		}
		if closeErr := compWtr.Close(); closeErr != nil {
			pipeWtr.CloseWithError(fmt.Errorf("could not flush compressor for %q: %w", path, closeErr))
			return
		}
		pipeWtr.Close()
	}()

	if _, err := container.Put(itemName, pipeRdr, stow.SizeUnknown, metadata); err != nil {
		return fmt.Errorf("could not upload %q to remote container %q: %w", itemName, container.Name(), err)
	}
	return nil
}

// Restore downloads the pool and index items from container into
// poolPath and indexPath. A missing item is an error, since a partial
// restore would leave the lockstep invariant unverifiable.
func Restore(container stow.Container, poolPath, indexPath string, opts Options) error {
	if err := restoreFile(container, poolItemName, poolPath, opts); err != nil {
		return fmt.Errorf("could not restore pool file: %w", err)
	}
	if err := restoreFile(container, indexItemName, indexPath, opts); err != nil {
		return fmt.Errorf("could not restore index file: %w", err)
	}
	return nil
}

func restoreFile(container stow.Container, itemName, destPath string, opts Options) error {
	item, err := container.Item(itemName)
	if err != nil {
		return fmt.Errorf("could not find remote item %q in container %q: %w", itemName, container.Name(), err)
	}

	rdr, err := item.Open()
	if err != nil {
		return fmt.Errorf("could not open remote item %q: %w", itemName, err)
	}
	defer rdr.Close()

	var decRdr io.Reader = rdr
	if opts.Encrypt != encrypt.ModeIdentity {
		md, err := item.Metadata()
		if err != nil {
			return fmt.Errorf("could not read metadata for %q: %w", itemName, err)
		}
		ivHex, _ := md[metaInitVect].(string)
		iv, err := hex.DecodeString(ivHex)
		if err != nil {
			return fmt.Errorf("could not decode initialization vector for %q: %w", itemName, err)
		}
		decRdr, err = opts.Encrypt.NewReader(rdr, opts.Key, iv)
		if err != nil {
			return fmt.Errorf("could not create decryptor for %q: %w", itemName, err)
		}
	}
	decompRdr, err := opts.Compress.NewReader(decRdr)
	if err != nil {
		return fmt.Errorf("could not create decompressor for %q: %w", itemName, err)
	}

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("could not create %q: %w", destPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, decompRdr); err != nil {
		return fmt.Errorf("could not write restored file %q: %w", destPath, err)
	}
	return dst.Sync()
}
