// Package srix implements the ST SRIX4K / SRI512 command set and the
// EEPROM model built on top of it: UID and system block decoding, block
// regions, dump diffs and the OTP reset sequence.
package srix

import "fmt"

// Tag command codes.
const (
	CmdGetUID     byte = 0x0B
	CmdReadBlock  byte = 0x08
	CmdWriteBlock byte = 0x09
)

// Expected response lengths. WRITE_BLOCK has no response body.
const (
	UIDResponseLen   = 8
	BlockResponseLen = 4
)

// BlockSize is the size of one EEPROM block in bytes.
const BlockSize = 4

// GetUIDCommand builds the GET_UID frame.
//
//	[0x0B]
func GetUIDCommand() []byte {
	return []byte{CmdGetUID}
}

// ReadBlockCommand builds a READ_BLOCK frame for index.
// Index 0xFF addresses the system block.
//
//	[0x08][INDEX]
func ReadBlockCommand(index byte) []byte {
	return []byte{CmdReadBlock, index}
}

// WriteBlockCommand builds a WRITE_BLOCK frame.
//
//	[0x09][INDEX][D0][D1][D2][D3]
func WriteBlockCommand(index byte, data [BlockSize]byte) []byte {
	return []byte{CmdWriteBlock, index, data[0], data[1], data[2], data[3]}
}

// CheckResponseLen validates a response against the expected length for op.
func CheckResponseLen(op string, rsp []byte, want int) error {
	if len(rsp) != want {
		return &FrameLengthError{Op: op, Want: want, Got: len(rsp)}
	}
	return nil
}

func readOp(index byte) string {
	if index == SystemBlockIndex {
		return "READ_BLOCK system"
	}
	return fmt.Sprintf("READ_BLOCK 0x%02X", index)
}
