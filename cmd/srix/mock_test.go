package main

import (
	"errors"
	"sync"

	"github.com/SimplyPrint/srix-agent/internal/core"
)

// fakeTag emulates a reader with an SRIX4K in the field.
type fakeTag struct {
	mu      sync.Mutex
	present bool
	uid     [8]byte
	system  [4]byte
	blocks  [128][4]byte
	writes  []byte
	closed  int
}

func newFakeTag() *fakeTag {
	f := &fakeTag{
		present: true,
		uid:     [8]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x02, 0xD0},
		// b24 cleared: blocks 07 and 08 locked
		system: [4]byte{0x3C, 0xFF, 0xFF, 0xFE},
	}
	for i := range f.blocks {
		f.blocks[i] = [4]byte{byte(i), 0x11, 0x22, 0x33}
	}
	f.blocks[6] = [4]byte{0x60, 0x00, 0x00, 0x00}
	return f
}

func (f *fakeTag) Activate() (byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.present {
		return 0, core.ErrNoTag
	}
	return 0x3C, nil
}

func (f *fakeTag) Transceive(cmd []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd[0] {
	case 0x0B:
		return append([]byte(nil), f.uid[:]...), nil
	case 0x08:
		if cmd[1] == 0xFF {
			return append([]byte(nil), f.system[:]...), nil
		}
		b := f.blocks[cmd[1]]
		return append([]byte(nil), b[:]...), nil
	case 0x09:
		copy(f.blocks[cmd[1]][:], cmd[2:6])
		f.writes = append(f.writes, cmd[1])
		return nil, nil
	}
	return nil, errors.New("unknown command")
}

func (f *fakeTag) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTag) image() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw := make([]byte, 0, len(f.blocks)*4)
	for _, b := range f.blocks {
		raw = append(raw, b[:]...)
	}
	return raw
}
