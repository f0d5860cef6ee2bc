// Package conf parses command-line configuration for the imagepile CLI,
// following the same flag-based style (including the Capacity flag.Value
// wrapper around dustin/go-humanize) as the daemon this tool is descended
// from, generalized from a single always-running device config into a
// set of short-lived verb invocations.
package conf

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// ImgDirEnv is the environment variable imagepile directory discovery
// falls back to when no directory is given on the command line.
const ImgDirEnv = "IMGDIR"

// StoreDir resolves the imagepile directory to operate on: the explicit
// argument if non-empty, else $IMGDIR, else a fatal error. The resolved
// directory must already exist.
func StoreDir(explicit string) string {
	dir := explicit
	if dir == "" {
		dir = os.Getenv(ImgDirEnv)
	}
	if dir == "" {
		log.Fatalf("No imagepile directory was provided and %s is not set", ImgDirEnv)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		log.Fatalf("Could not resolve imagepile directory %q to an absolute path: %s", dir, err)
	}
	if fstat, err := os.Stat(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Fatalf("Imagepile directory %q does not exist", abs)
		}
		log.Fatalf("Imagepile directory %q could not be accessed: %s", abs, err)
	} else if !fstat.IsDir() {
		log.Fatalf("Imagepile path %q is not a directory", abs)
	}
	return abs
}

// PoolPath and IndexPath name the two files imagepile keeps inside a
// store directory. These names are fixed by the on-disk format, not a
// style choice: an existing store must be found under them as-is.
func PoolPath(storeDir string) string  { return filepath.Join(storeDir, "imagepile.db") }
func IndexPath(storeDir string) string { return filepath.Join(storeDir, "imagepile.hash_index") }
func LedgerPath(storeDir string) string {
	return filepath.Join(storeDir, "ledger")
}

// ParseAESKey resolves the same key:/file:/env: source syntax the daemon
// uses for its remote-object-store AES key.
func ParseAESKey(spec string) ([]byte, error) {
	switch {
	case spec == "":
		return nil, fmt.Errorf("no AES key was provided")
	case hasPrefix(spec, "file:"):
		return os.ReadFile(spec[len("file:"):])
	case hasPrefix(spec, "key:"):
		return []byte(spec[len("key:"):]), nil
	case hasPrefix(spec, "env:"):
		name := spec[len("env:"):]
		val, ok := os.LookupEnv(name)
		if !ok {
			return nil, fmt.Errorf("environment variable %q is not set", name)
		}
		return []byte(val), nil
	default:
		return nil, fmt.Errorf("AES key source %q is not valid, use key:, file: or env:", spec)
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
