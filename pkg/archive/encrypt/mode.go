// Package encrypt applies optional symmetric encryption to archive
// streams. As with compress, this governs only the outer backup/restore
// stream; pooled blocks on local disk are never encrypted, matching the
// pool's own lack of an at-rest encryption requirement.
package encrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/tarndt/imagepile/pkg/util"
)

// Mode selects a stream cipher mode for an archive stream.
type Mode uint8

// Enumerate the available modes and their textual names.
const (
	ModeIdentity Mode = iota
	ModeUnknown
	ModeAESCTR

	ModeIdentityName = "identity"
	ModeAESCTRName   = "aes-ctr"
	ModeUnknownName  = "unknown"
)

// ModeFromName constructs a Mode from a textual name, defaulting to
// ModeIdentity for an empty string.
func ModeFromName(name string) Mode {
	switch name {
	case "", ModeIdentityName:
		return ModeIdentity
	case ModeAESCTRName:
		return ModeAESCTR
	}
	return ModeUnknown
}

// String returns the mode's textual name.
func (m Mode) String() string {
	switch m {
	case ModeIdentity:
		return ModeIdentityName
	case ModeAESCTR:
		return ModeAESCTRName
	}
	return ModeUnknownName
}

// NewReader wraps rdr with this mode's decryptor. initVect must be
// aes.BlockSize bytes for any mode but ModeIdentity.
func (m Mode) NewReader(rdr io.Reader, key, initVect []byte) (io.Reader, error) {
	if m == ModeIdentity {
		return rdr, nil
	}
	block, err := aesBlock(key, initVect)
	if err != nil {
		return nil, err
	}
	return cipher.StreamReader{S: cipher.NewCTR(block, initVect), R: rdr}, nil
}

// NewWriter wraps wtr with this mode's encryptor, returning a freshly
// generated initialization vector that must be stored alongside the
// ciphertext to allow later decryption.
func (m Mode) NewWriter(wtr io.Writer, key []byte) (encryptor io.Writer, initVect []byte, err error) {
	if m == ModeIdentity {
		return wtr, nil, nil
	}

	initVect = make([]byte, aes.BlockSize)
	if _, err := rand.Read(initVect); err != nil {
		return nil, nil, fmt.Errorf("could not read entropy source to populate AES initialization vector: %w", err)
	}
	block, err := aesBlock(key, initVect)
	if err != nil {
		return nil, nil, err
	}
	return cipher.StreamWriter{S: cipher.NewCTR(block, initVect), W: wtr}, initVect, nil
}

func aesBlock(key, initVect []byte) (cipher.Block, error) {
	if len(initVect) != aes.BlockSize {
		return nil, fmt.Errorf("initialization vector is %d bytes, need %d", len(initVect), aes.BlockSize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("could not create AES cipher: %w", err)
	}
	return block, nil
}

// MakeRandomAESKey generates an AES-256 key using a cryptographic
// entropy source.
func MakeRandomAESKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("could not read entropy source to populate AES key: %w", err)
	}
	return key, nil
}

// ValidAESKey confirms key is a valid AES-128/192/256 key and is not
// all zeros (a likely caller mistake).
func ValidAESKey(key []byte) error {
	switch len(key) {
	case 16, 24, 32:
	case 0:
		return fmt.Errorf("AES key is empty")
	default:
		return fmt.Errorf("AES key is %d bytes, must be 16, 24 or 32", len(key))
	}
	if util.IsZeros(key) {
		return fmt.Errorf("AES key is all zeros, refusing (likely a mistake)")
	}
	return nil
}
