package core

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"sync"
)

// MockSmartCardContext implements SmartCardContext for testing
type MockSmartCardContext struct {
	readers     []string
	cards       map[string]*MockSmartCard
	shouldError bool
	errorMsg    string
	released    bool
	connects    []uint32 // share modes in connect order
}

// MockSmartCard implements SmartCard for testing
type MockSmartCard struct {
	mu           sync.Mutex
	pn532        *MockPN532
	responses    map[string][]byte // APDU hex -> response, checked first
	directOnly   bool              // refuse shared connections, like an SR tag on ACR122U
	sent         []string
	controlled   int
	disconnected bool
}

// NewMockContext creates a new mock context with predefined readers
func NewMockContext() *MockSmartCardContext {
	return &MockSmartCardContext{
		readers: []string{
			"ACS ACR122U PICC Interface",
			"ACS ACR1252 Dual Reader PICC",
		},
		cards: make(map[string]*MockSmartCard),
	}
}

// WithReaders sets the readers for the mock context
func (m *MockSmartCardContext) WithReaders(readers []string) *MockSmartCardContext {
	m.readers = readers
	return m
}

// WithCard adds a mock card to a specific reader
func (m *MockSmartCardContext) WithCard(readerName string, card *MockSmartCard) *MockSmartCardContext {
	m.cards[readerName] = card
	return m
}

// WithError makes the context return errors
func (m *MockSmartCardContext) WithError(msg string) *MockSmartCardContext {
	m.shouldError = true
	m.errorMsg = msg
	return m
}

func (m *MockSmartCardContext) ListReaders() ([]string, error) {
	if m.shouldError {
		return nil, errors.New(m.errorMsg)
	}
	return m.readers, nil
}

func (m *MockSmartCardContext) Connect(reader string, shareMode uint32, protocol uint32) (SmartCard, error) {
	m.connects = append(m.connects, shareMode)
	if m.shouldError {
		return nil, errors.New(m.errorMsg)
	}
	card, ok := m.cards[reader]
	if !ok {
		return nil, errors.New("no card present")
	}
	if card.directOnly && shareMode != shareDirect {
		return nil, errors.New("no card present")
	}
	return card, nil
}

func (m *MockSmartCardContext) Release() error {
	m.released = true
	return nil
}

// MockFactory returns the same context every time.
type MockFactory struct {
	ctx *MockSmartCardContext
	err error
}

func (f *MockFactory) EstablishContext() (SmartCardContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ctx, nil
}

// NewMockCard creates a reader connection backed by a PN532 emulator.
func NewMockCard(pn *MockPN532) *MockSmartCard {
	return &MockSmartCard{
		pn532:     pn,
		responses: make(map[string][]byte),
	}
}

func (c *MockSmartCard) Transmit(cmd []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle(cmd)
}

func (c *MockSmartCard) Control(ioctl uint32, in []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ioctl != escapeIOCTL() {
		return nil, errors.New("unsupported ioctl")
	}
	c.controlled++
	return c.handle(in)
}

func (c *MockSmartCard) handle(apdu []byte) ([]byte, error) {
	key := hex.EncodeToString(apdu)
	c.sent = append(c.sent, key)

	if rsp, ok := c.responses[key]; ok {
		return rsp, nil
	}
	if len(apdu) < 5 || !bytes.Equal(apdu[:4], []byte{0xFF, 0x00, 0x00, 0x00}) || int(apdu[4]) != len(apdu)-5 {
		return []byte{0x6A, 0x81}, nil
	}
	rsp, err := c.pn532.Exchange(apdu[5:])
	if err != nil {
		return nil, err
	}
	return append(rsp, 0x90, 0x00), nil
}

func (c *MockSmartCard) Status() (SmartCardStatus, error) {
	return SmartCardStatus{Reader: "mock"}, nil
}

func (c *MockSmartCard) Disconnect(disposition uint32) error {
	c.disconnected = true
	return nil
}

// MockPN532 emulates the controller and an optional SR tag in its field.
type MockPN532 struct {
	mu       sync.Mutex
	present  bool
	selected bool
	chipID   byte
	uid      []byte
	blocks   [][4]byte
	failNext bool
	commands []string
}

// NewMockPN532 creates a controller with an SRIX4K tag in the field.
func NewMockPN532() *MockPN532 {
	pn := &MockPN532{
		present: true,
		chipID:  0x3C,
		uid:     []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x02, 0xD0},
		blocks:  make([][4]byte, 128),
	}
	for i := range pn.blocks {
		pn.blocks[i] = [4]byte{byte(i), 0x11, 0x22, 0x33}
	}
	return pn
}

// WithoutTag empties the field.
func (p *MockPN532) WithoutTag() *MockPN532 {
	p.present = false
	return p
}

func (p *MockPN532) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

// Exchange answers one host command.
func (p *MockPN532) Exchange(cmd []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.commands = append(p.commands, hex.EncodeToString(cmd))
	if p.failNext {
		p.failNext = false
		return nil, errors.New("reader unplugged")
	}
	if len(cmd) < 2 || cmd[0] != pn532HostToPN {
		return []byte{0x7F}, nil
	}

	switch cmd[1] {
	case cmdSAMConfiguration:
		return []byte{pn532PNToHost, cmdSAMConfiguration + 1}, nil
	case cmdInListPassiveTarget:
		// SR tags do not answer REQB
		p.selected = false
		return []byte{pn532PNToHost, cmdInListPassiveTarget + 1, 0x00}, nil
	case cmdInCommunicateThru:
		data, ok := p.tag(cmd[2:])
		if !ok {
			return []byte{pn532PNToHost, cmdInCommunicateThru + 1, statusTimeout}, nil
		}
		return append([]byte{pn532PNToHost, cmdInCommunicateThru + 1, statusOK}, data...), nil
	}
	return []byte{0x7F}, nil
}

func (p *MockPN532) tag(cmd []byte) ([]byte, bool) {
	if !p.present || len(cmd) == 0 {
		return nil, false
	}

	switch {
	case len(cmd) == 2 && cmd[0] == srInitiate:
		return []byte{p.chipID}, true
	case len(cmd) == 2 && cmd[0] == srSelect && cmd[1] == p.chipID:
		p.selected = true
		return []byte{p.chipID}, true
	}
	if !p.selected {
		return nil, false
	}

	switch {
	case len(cmd) == 1 && cmd[0] == 0x0B:
		return append([]byte(nil), p.uid...), true
	case len(cmd) == 2 && cmd[0] == 0x08:
		if cmd[1] == 0xFF {
			return []byte{0x3C, 0xFF, 0xFF, 0xFF}, true
		}
		if int(cmd[1]) >= len(p.blocks) {
			return nil, false
		}
		b := p.blocks[cmd[1]]
		return b[:], true
	case len(cmd) == 6 && cmd[0] == 0x09:
		if int(cmd[1]) < len(p.blocks) {
			copy(p.blocks[cmd[1]][:], cmd[2:])
		}
		return nil, false
	}
	return nil, false
}

// MockLink hands commands straight to a MockPN532.
type MockLink struct {
	pn     *MockPN532
	closed bool
}

func (l *MockLink) Exchange(cmd []byte) ([]byte, error) {
	return l.pn.Exchange(cmd)
}

func (l *MockLink) Close() error {
	l.closed = true
	return nil
}

// fakePort is a serial port that replays scripted bytes.
type fakePort struct {
	in      *bytes.Reader
	written bytes.Buffer
	closed  bool
}

func newFakePort(script ...[]byte) *fakePort {
	return &fakePort{in: bytes.NewReader(bytes.Join(script, nil))}
}

func (f *fakePort) Read(p []byte) (int, error) {
	if f.in.Len() == 0 {
		return 0, io.EOF
	}
	// one byte at a time, like a slow UART
	return f.in.Read(p[:1])
}

func (f *fakePort) Write(p []byte) (int, error) {
	return f.written.Write(p)
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}
