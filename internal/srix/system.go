package srix

import (
	"encoding/binary"
	"fmt"
)

// SystemBlockIndex addresses the system block (CHIP_ID, OTP_Lock_Reg).
const SystemBlockIndex byte = 0xFF

// LockBit is one bit of OTP_Lock_Reg. A cleared bit locks its blocks.
type LockBit struct {
	Bit    uint8 // 24..31
	Locked bool
}

// Blocks returns the blocks protected by this bit. b24 covers 0x07 and
// 0x08 together; b25..b31 each cover block bit-16.
func (l LockBit) Blocks() []byte {
	if l.Bit == 24 {
		return []byte{0x07, 0x08}
	}
	return []byte{l.Bit - 16}
}

// Label describes the protected blocks, e.g. "Block 07 and 08" or "Block 0A".
func (l LockBit) Label() string {
	if l.Bit == 24 {
		return "Block 07 and 08"
	}
	return fmt.Sprintf("Block %02X", l.Bit-16)
}

// SystemBlock is the decoded content of block 0xFF.
type SystemBlock struct {
	Raw      [BlockSize]byte
	ChipID   byte
	Reserved [2]byte
	LockBits [8]LockBit
}

// DecodeSystemBlock decodes the READ_BLOCK(0xFF) response.
// The word is assembled little-endian: byte 0 is CHIP_ID.
func DecodeSystemBlock(rsp []byte) (SystemBlock, error) {
	if err := CheckResponseLen(readOp(SystemBlockIndex), rsp, BlockResponseLen); err != nil {
		return SystemBlock{}, err
	}

	var sb SystemBlock
	copy(sb.Raw[:], rsp)
	sb.ChipID = rsp[0]
	sb.Reserved = [2]byte{rsp[1], rsp[2]}

	word := binary.LittleEndian.Uint32(rsp)
	for i := range sb.LockBits {
		p := uint8(24 + i)
		sb.LockBits[i] = LockBit{
			Bit:    p,
			Locked: (word>>p)&1 == 0,
		}
	}
	return sb, nil
}

// Word returns the little-endian system block word.
func (sb SystemBlock) Word() uint32 {
	return binary.LittleEndian.Uint32(sb.Raw[:])
}

// IsLocked reports whether the lock register protects block index.
// Blocks outside 0x07..0x0F are never write-locked by OTP_Lock_Reg.
func (sb SystemBlock) IsLocked(index byte) bool {
	for _, lb := range sb.LockBits {
		for _, b := range lb.Blocks() {
			if b == index {
				return lb.Locked
			}
		}
	}
	return false
}
