package srix

import (
	"bytes"
	"testing"
)

func TestCommandFrames(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"get uid", GetUIDCommand(), []byte{0x0B}},
		{"read block 0", ReadBlockCommand(0x00), []byte{0x08, 0x00}},
		{"read block 7f", ReadBlockCommand(0x7F), []byte{0x08, 0x7F}},
		{"read system block", ReadBlockCommand(SystemBlockIndex), []byte{0x08, 0xFF}},
		{
			"write block",
			WriteBlockCommand(0x10, [4]byte{0xDE, 0xAD, 0xBE, 0xEF}),
			[]byte{0x09, 0x10, 0xDE, 0xAD, 0xBE, 0xEF},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !bytes.Equal(tt.got, tt.want) {
				t.Errorf("frame = % X, want % X", tt.got, tt.want)
			}
		})
	}
}

func TestCheckResponseLen(t *testing.T) {
	if err := CheckResponseLen("READ_BLOCK 0x01", make([]byte, 4), BlockResponseLen); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	for _, n := range []int{0, 3, 5, 8} {
		err := CheckResponseLen("READ_BLOCK 0x01", make([]byte, n), BlockResponseLen)
		if !IsFrameLengthError(err) {
			t.Fatalf("len %d: expected FrameLengthError, got %v", n, err)
		}
		fe := err.(*FrameLengthError)
		if fe.Got != n || fe.Want != 4 {
			t.Errorf("len %d: got %+v", n, fe)
		}
	}
}
