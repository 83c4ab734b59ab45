package srix

import (
	"encoding/binary"
	"testing"
)

func TestDecodeSystemBlock(t *testing.T) {
	// b24 and b27 cleared
	sb, err := DecodeSystemBlock([]byte{0x1F, 0x12, 0x34, 0xF6})
	if err != nil {
		t.Fatalf("DecodeSystemBlock failed: %v", err)
	}

	if sb.ChipID != 0x1F {
		t.Errorf("ChipID = %02X", sb.ChipID)
	}
	if sb.Reserved != [2]byte{0x12, 0x34} {
		t.Errorf("Reserved = % X", sb.Reserved)
	}
	if sb.Word() != 0xF634121F {
		t.Errorf("Word() = %08X", sb.Word())
	}

	locked := map[uint8]bool{24: true, 27: true}
	for _, lb := range sb.LockBits {
		if lb.Locked != locked[lb.Bit] {
			t.Errorf("b%d locked = %v", lb.Bit, lb.Locked)
		}
	}

	if !sb.IsLocked(0x07) || !sb.IsLocked(0x08) || !sb.IsLocked(0x0B) {
		t.Error("blocks 07, 08 and 0B should be locked")
	}
	if sb.IsLocked(0x09) || sb.IsLocked(0x0F) || sb.IsLocked(0x10) || sb.IsLocked(0x00) {
		t.Error("unexpected lock on an unlocked block")
	}
}

func TestLockBitMapping(t *testing.T) {
	sb, err := DecodeSystemBlock([]byte{0x00, 0x00, 0x00, 0xFF})
	if err != nil {
		t.Fatal(err)
	}

	if got := sb.LockBits[0].Blocks(); len(got) != 2 || got[0] != 0x07 || got[1] != 0x08 {
		t.Errorf("b24 blocks = % X", got)
	}
	if sb.LockBits[0].Label() != "Block 07 and 08" {
		t.Errorf("b24 label = %s", sb.LockBits[0].Label())
	}

	for i := 1; i < 8; i++ {
		lb := sb.LockBits[i]
		want := byte(0x09 + i - 1)
		if lb.Bit != uint8(24+i) {
			t.Errorf("LockBits[%d].Bit = %d", i, lb.Bit)
		}
		if got := lb.Blocks(); len(got) != 1 || got[0] != want {
			t.Errorf("b%d blocks = % X, want %02X", lb.Bit, got, want)
		}
		if lb.Locked {
			t.Errorf("b%d should be unlocked", lb.Bit)
		}
	}
	if sb.LockBits[7].Label() != "Block 0F" {
		t.Errorf("b31 label = %s", sb.LockBits[7].Label())
	}
}

func TestLockBitsIndependent(t *testing.T) {
	bases := []uint32{0x00000000, 0xFFFFFFFF, 0xA55A1F3C, 0x5AA5E0C3}
	for _, base := range bases {
		ref := decodeWord(t, base)
		for p := 24; p < 32; p++ {
			flipped := decodeWord(t, base^(1<<uint(p)))
			for i := range ref.LockBits {
				changed := ref.LockBits[i].Locked != flipped.LockBits[i].Locked
				if changed != (i == p-24) {
					t.Errorf("base %08X flip b%d: LockBits[%d] changed=%v", base, p, i, changed)
				}
			}
		}
	}
}

func TestDecodeSystemBlockWrongLength(t *testing.T) {
	if _, err := DecodeSystemBlock([]byte{0x01, 0x02}); !IsFrameLengthError(err) {
		t.Errorf("expected FrameLengthError, got %v", err)
	}
}

func decodeWord(t *testing.T, w uint32) SystemBlock {
	t.Helper()
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], w)
	sb, err := DecodeSystemBlock(raw[:])
	if err != nil {
		t.Fatal(err)
	}
	return sb
}
