package srix

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// ManufacturerST is the IC manufacturer code of STMicroelectronics.
const ManufacturerST byte = 0x02

// TagIdentity is the 64-bit UID returned by GET_UID. All fields are
// derived from UID on demand.
type TagIdentity struct {
	UID uint64
}

// DecodeUID assembles the GET_UID response. Byte 0 is least significant.
// Any length other than 8 is a transport or tag error.
func DecodeUID(rsp []byte) (TagIdentity, error) {
	if err := CheckResponseLen("GET_UID", rsp, UIDResponseLen); err != nil {
		return TagIdentity{}, err
	}
	return TagIdentity{UID: binary.LittleEndian.Uint64(rsp)}, nil
}

// Bytes returns the UID in the order the tag sent it (LSB first).
func (id TagIdentity) Bytes() [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], id.UID)
	return b
}

// Prefix is bits 63..56, 0xD0 on genuine tags.
func (id TagIdentity) Prefix() byte {
	return byte(id.UID >> 56)
}

// ManufacturerCode is bits 55..48.
func (id TagIdentity) ManufacturerCode() byte {
	return byte(id.UID >> 48)
}

// Manufacturer labels the manufacturer code. Unknown codes are not errors.
func (id TagIdentity) Manufacturer() string {
	if id.ManufacturerCode() == ManufacturerST {
		return "STMicroelectronics"
	}
	return "unknown"
}

// ICCode is the 3-bit IC code at bits 44..42.
func (id TagIdentity) ICCode() uint8 {
	return uint8((id.UID >> 42) & 0x7)
}

// ICCodeBits is the 6-bit IC code field (bits 47..42) as a binary string.
func (id TagIdentity) ICCodeBits() string {
	return id.Binary()[16:22]
}

// SerialNumber is the 42-bit unique serial number.
func (id TagIdentity) SerialNumber() uint64 {
	return id.UID & 0x3FFFFFFFFFF
}

// SerialNumberBits is SerialNumber as a 42-character binary string.
func (id TagIdentity) SerialNumberBits() string {
	return id.Binary()[22:]
}

// Binary renders the UID as 64 binary digits, most significant bit first.
func (id TagIdentity) Binary() string {
	s := strconv.FormatUint(id.UID, 2)
	return strings.Repeat("0", 64-len(s)) + s
}

// String renders the UID as 16 hex digits, most significant byte first.
func (id TagIdentity) String() string {
	return fmt.Sprintf("%016X", id.UID)
}
