package loader

import (
	"os"
	"path/filepath"
)

// LocalSource fetches module bytes from files named by their hex-encoded
// hash within a directory.
type LocalSource struct {
	Dir string
}

// NewLocalSource builds a LocalSource rooted at dir.
func NewLocalSource(dir string) *LocalSource {
	return &LocalSource{Dir: dir}
}

// Fetch reads Dir/<hex(hash)>.wasm.
func (s *LocalSource) Fetch(hash Hash) ([]byte, error) {
	path := filepath.Join(s.Dir, hash.hex()+".wasm")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}
