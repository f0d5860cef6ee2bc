// Package compress applies transport compression to archive streams
// written to or read from remote object storage. It never touches
// pooled block data; the Pool's own bytes are stored and deduplicated
// as-is, and this package only wraps the outer archive stream that
// carries a snapshot of the Pool and Index files to and from a backup
// container.
package compress

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
)

// Mode selects a compression algorithm for an archive stream.
type Mode uint8

// Enumerate the available modes and their textual names.
const (
	ModeIdentity Mode = iota
	ModeUnknown
	ModeS2

	ModeIdentityName = "identity"
	ModeS2Name       = "s2"
	ModeUnknownName  = "unknown"
)

// ModeFromName constructs a Mode from a textual name, defaulting to
// ModeIdentity for an empty string.
func ModeFromName(name string) Mode {
	switch name {
	case "", ModeIdentityName:
		return ModeIdentity
	case ModeS2Name:
		return ModeS2
	}
	return ModeUnknown
}

// String returns the mode's textual name.
func (m Mode) String() string {
	switch m {
	case ModeIdentity:
		return ModeIdentityName
	case ModeS2:
		return ModeS2Name
	}
	return ModeUnknownName
}

// NewReader wraps rdr with this mode's decompressor.
func (m Mode) NewReader(rdr io.Reader) (io.Reader, error) {
	switch m {
	case ModeIdentity:
		return rdr, nil
	case ModeS2:
		return s2.NewReader(rdr), nil
	}
	return nil, fmt.Errorf("cannot create decompressor for %s compression mode", m)
}

// NewWriter wraps wtr with this mode's compressor.
func (m Mode) NewWriter(wtr io.Writer) (io.WriteCloser, error) {
	switch m {
	case ModeIdentity:
		return nopWriteCloser{wtr}, nil
	case ModeS2:
		return s2.NewWriter(wtr), nil
	}
	return nil, fmt.Errorf("cannot create compressor for %s compression mode", m)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
