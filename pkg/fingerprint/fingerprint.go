// Package fingerprint computes the 64-bit block fingerprint used to drive
// dedup lookups. The design only requires a non-cryptographic hash with
// good distribution; xxhash is the concrete choice here. The fingerprint
// is never part of the Pool's on-disk format, only the Index's, so this
// package can be swapped out without touching pool.BlockSize or Pool.
package fingerprint

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

var digestPool = sync.Pool{
	New: func() interface{} { return xxhash.New() },
}

// Sum64 computes the 64-bit fingerprint of block.
func Sum64(block []byte) uint64 {
	digest := digestPool.Get().(*xxhash.Digest)
	digest.Reset()
	digest.Write(block) //xxhash.Digest.Write never errors
	sum := digest.Sum64()
	digestPool.Put(digest)
	return sum
}
