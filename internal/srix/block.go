package srix

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// TagType selects the EEPROM geometry.
type TagType string

const (
	TagSRIX4K TagType = "x4k"
	TagSRI512 TagType = "512"
)

// ParseTagType accepts the CLI spellings "x4k" and "512". Empty means x4k.
func ParseTagType(s string) (TagType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "x4k", "srix4k":
		return TagSRIX4K, nil
	case "512", "sri512":
		return TagSRI512, nil
	}
	return "", fmt.Errorf("unknown tag type %q (expected x4k or 512)", s)
}

// Blocks returns the number of EEPROM blocks.
func (t TagType) Blocks() int {
	if t == TagSRI512 {
		return 16
	}
	return 128
}

// Size returns the EEPROM size in bytes.
func (t TagType) Size() int {
	return t.Blocks() * BlockSize
}

func (t TagType) String() string {
	if t == TagSRI512 {
		return "SRI512"
	}
	return "SRIX4K"
}

// Region is the semantic area a block index belongs to.
type Region int

const (
	RegionResettableOTP Region = iota
	RegionCountdownCounter
	RegionLockableEEPROM
	RegionEEPROM
)

func (r Region) String() string {
	switch r {
	case RegionResettableOTP:
		return "Resettable OTP bits"
	case RegionCountdownCounter:
		return "Count down counter"
	case RegionLockableEEPROM:
		return "Lockable EEPROM"
	default:
		return "EEPROM"
	}
}

// Classify maps a block index to its region.
func Classify(index byte) Region {
	switch {
	case index < 5:
		return RegionResettableOTP
	case index < 7:
		return RegionCountdownCounter
	case index < 16:
		return RegionLockableEEPROM
	default:
		return RegionEEPROM
	}
}

// Block is one 4-byte EEPROM block as read from the tag.
type Block struct {
	Index byte
	Data  [BlockSize]byte
}

// Word interprets the block big-endian, the way dumps and diffs print it.
func (b Block) Word() uint32 {
	return binary.BigEndian.Uint32(b.Data[:])
}

// Region classifies the block.
func (b Block) Region() Region {
	return Classify(b.Index)
}

// Display returns the bytes in display order. reverse only changes how the
// block is shown, never what is stored or sent.
func (b Block) Display(reverse bool) [BlockSize]byte {
	if !reverse {
		return b.Data
	}
	return [BlockSize]byte{b.Data[3], b.Data[2], b.Data[1], b.Data[0]}
}

// WordBytes packs a big-endian word into block data.
func WordBytes(w uint32) [BlockSize]byte {
	var d [BlockSize]byte
	binary.BigEndian.PutUint32(d[:], w)
	return d
}
