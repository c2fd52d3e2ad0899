// Package loader resolves a module hash to its WebAssembly bytes for the
// System's reserved "loader" interface (spec.md §4.5, §5.7). Two Source
// implementations are provided: a LocalSource reading from a directory on
// disk, and a NetworkSource that discovers a peer advertising modules over
// mDNS and fetches them over a small length-prefixed TCP protocol — no
// HTTP client is introduced, matching the rest of the kernel's minimal
// wire-level framing.
package loader

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrNotFound is returned by a Source when no module matches the
// requested hash.
var ErrNotFound = errors.New("loader: module not found")

// Hash identifies a module by its wasmsig.Module content hash.
type Hash [32]byte

func (h Hash) hex() string { return hex.EncodeToString(h[:]) }

// ParseHash decodes a hex-encoded module hash, as taken from the kernel
// binary's command-line arguments.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("loader: invalid hash %q: %w", s, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("loader: hash %q must be %d bytes, got %d", s, len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// Source resolves a module hash to its raw bytes.
type Source interface {
	Fetch(hash Hash) ([]byte, error)
}
