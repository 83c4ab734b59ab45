package srix

import (
	"encoding/hex"
	"errors"
	"sync"
)

// MockTag emulates an SRIX tag behind a Transceiver.
type MockTag struct {
	mu        sync.Mutex
	uid       []byte
	blocks    [][BlockSize]byte
	system    [BlockSize]byte
	short     map[byte]bool // blocks that answer with 2 bytes
	shouldErr bool
	sent      []string // hex of every frame received
	writes    []byte   // block indexes written, in order
}

// NewMockTag creates a tag with n blocks filled with a recognizable pattern.
func NewMockTag(t TagType) *MockTag {
	m := &MockTag{
		uid:    []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x02, 0xD0},
		blocks: make([][BlockSize]byte, t.Blocks()),
		system: [BlockSize]byte{0x1F, 0xFF, 0xFF, 0xFF},
		short:  make(map[byte]bool),
	}
	for i := range m.blocks {
		m.blocks[i] = [BlockSize]byte{byte(i), 0xA0, 0xB0, 0xC0}
	}
	return m
}

func (m *MockTag) WithBlock(index byte, data [BlockSize]byte) *MockTag {
	m.blocks[index] = data
	return m
}

func (m *MockTag) WithShortRead(index byte) *MockTag {
	m.short[index] = true
	return m
}

func (m *MockTag) WithError() *MockTag {
	m.shouldErr = true
	return m
}

func (m *MockTag) Transceive(cmd []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldErr {
		return nil, errors.New("reader disconnected")
	}
	m.sent = append(m.sent, hex.EncodeToString(cmd))

	switch {
	case len(cmd) == 1 && cmd[0] == CmdGetUID:
		return append([]byte(nil), m.uid...), nil
	case len(cmd) == 2 && cmd[0] == CmdReadBlock:
		if m.short[cmd[1]] {
			return []byte{0x00, 0x00}, nil
		}
		if cmd[1] == SystemBlockIndex {
			return append([]byte(nil), m.system[:]...), nil
		}
		if int(cmd[1]) >= len(m.blocks) {
			return nil, nil
		}
		b := m.blocks[cmd[1]]
		return b[:], nil
	case len(cmd) == 6 && cmd[0] == CmdWriteBlock:
		if int(cmd[1]) < len(m.blocks) {
			copy(m.blocks[cmd[1]][:], cmd[2:])
		}
		m.writes = append(m.writes, cmd[1])
		return nil, nil
	}
	return nil, nil
}

func (m *MockTag) Writes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.writes...)
}

func (m *MockTag) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

// MockPrompter records previews and answers Confirm with a fixed value.
type MockPrompter struct {
	answer    bool
	err       error
	previews  []Preview
	questions []string
}

func (p *MockPrompter) Preview(pv Preview) {
	p.previews = append(p.previews, pv)
}

func (p *MockPrompter) Confirm(question string) (bool, error) {
	p.questions = append(p.questions, question)
	return p.answer, p.err
}
