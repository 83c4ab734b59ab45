package srix

import (
	"bytes"
	"fmt"
)

// Store is the EEPROM image of one tag: a fixed number of blocks where
// position i always holds the block at tag address i.
type Store struct {
	tagType TagType
	blocks  []Block
}

// NewStore returns a zero-filled store sized for t.
func NewStore(t TagType) *Store {
	s := &Store{tagType: t, blocks: make([]Block, t.Blocks())}
	for i := range s.blocks {
		s.blocks[i].Index = byte(i)
	}
	return s
}

// StoreFromBytes builds a store from a raw image of exactly t.Size() bytes.
func StoreFromBytes(t TagType, raw []byte) (*Store, error) {
	if len(raw) != t.Size() {
		return nil, &StorageError{
			Op:  "load",
			Err: fmt.Errorf("wrong size, expected %d bytes but got %d", t.Size(), len(raw)),
		}
	}

	s := NewStore(t)
	for i := range s.blocks {
		copy(s.blocks[i].Data[:], raw[i*BlockSize:(i+1)*BlockSize])
	}
	return s, nil
}

// TagType returns the geometry the store was built for.
func (s *Store) TagType() TagType { return s.tagType }

// Len returns the number of blocks. It never changes.
func (s *Store) Len() int { return len(s.blocks) }

// Block returns the block at index.
func (s *Store) Block(index int) (Block, error) {
	if index < 0 || index >= len(s.blocks) {
		return Block{}, fmt.Errorf("block index %d out of range (0-%d)", index, len(s.blocks)-1)
	}
	return s.blocks[index], nil
}

// Blocks returns a copy of all blocks in address order.
func (s *Store) Blocks() []Block {
	return append([]Block(nil), s.blocks...)
}

// Set replaces the block at b.Index.
func (s *Store) Set(b Block) error {
	if int(b.Index) >= len(s.blocks) {
		return fmt.Errorf("block index %d out of range (0-%d)", b.Index, len(s.blocks)-1)
	}
	s.blocks[b.Index] = b
	return nil
}

// Bytes returns the raw image, block i at offset i*4.
func (s *Store) Bytes() []byte {
	raw := make([]byte, 0, len(s.blocks)*BlockSize)
	for _, b := range s.blocks {
		raw = append(raw, b.Data[:]...)
	}
	return raw
}

// Equal reports whether both stores hold identical blocks.
func (s *Store) Equal(other *Store) bool {
	return s.Len() == other.Len() && bytes.Equal(s.Bytes(), other.Bytes())
}

// Clone returns an independent copy.
func (s *Store) Clone() *Store {
	return &Store{tagType: s.tagType, blocks: s.Blocks()}
}
