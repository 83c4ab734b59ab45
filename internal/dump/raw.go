// Package dump reads and writes tag images on disk.
//
// Raw dumps are the EEPROM bytes only, block i at offset i*4. Files ending
// in .cbor hold a Snapshot that also records the UID and system block.
package dump

import (
	"errors"
	"os"

	"github.com/SimplyPrint/srix-agent/internal/srix"
)

// Load reads a raw dump of exactly t.Size() bytes.
func Load(path string, t srix.TagType) (*srix.Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &srix.StorageError{Path: path, Op: "read", Err: err}
	}
	return fromBytes(path, t, data)
}

func fromBytes(path string, t srix.TagType, data []byte) (*srix.Store, error) {
	s, err := srix.StoreFromBytes(t, data)
	if err != nil {
		var se *srix.StorageError
		if errors.As(err, &se) {
			se.Path = path
		}
		return nil, err
	}
	return s, nil
}

// Save writes the raw image of s to path, replacing any existing file.
func Save(path string, s *srix.Store) error {
	if err := os.WriteFile(path, s.Bytes(), 0644); err != nil {
		return &srix.StorageError{Path: path, Op: "write", Err: err}
	}
	return nil
}

// Exists reports whether something is already at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
