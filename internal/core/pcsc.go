package core

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/ebfe/scard"

	"github.com/SimplyPrint/srix-agent/internal/srix"
)

const (
	shareShared       = uint32(scard.ShareShared)
	shareDirect       = uint32(scard.ShareDirect)
	protocolAny       = uint32(scard.ProtocolAny)
	protocolUndefined = uint32(scard.ProtocolUndefined)
	leaveCard         = uint32(scard.LeaveCard)

	// maxPseudoAPDU is the largest PN532 command that fits in one Lc byte.
	maxPseudoAPDU = 255
)

// EstablishContext opens a real PC/SC context.
func (DefaultContextFactory) EstablishContext() (SmartCardContext, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, err
	}
	return &scardContext{ctx: ctx}, nil
}

type scardContext struct {
	ctx *scard.Context
}

func (c *scardContext) ListReaders() ([]string, error) {
	return c.ctx.ListReaders()
}

func (c *scardContext) Connect(reader string, shareMode uint32, protocol uint32) (SmartCard, error) {
	card, err := c.ctx.Connect(reader, scard.ShareMode(shareMode), scard.Protocol(protocol))
	if err != nil {
		return nil, err
	}
	return &scardCard{card: card}, nil
}

func (c *scardContext) Release() error {
	return c.ctx.Release()
}

type scardCard struct {
	card *scard.Card
}

func (c *scardCard) Transmit(cmd []byte) ([]byte, error) {
	return c.card.Transmit(cmd)
}

func (c *scardCard) Control(ioctl uint32, in []byte) ([]byte, error) {
	return c.card.Control(ioctl, in)
}

func (c *scardCard) Status() (SmartCardStatus, error) {
	s, err := c.card.Status()
	if err != nil {
		return SmartCardStatus{}, err
	}
	return SmartCardStatus{
		Reader:         s.Reader,
		State:          uint32(s.State),
		ActiveProtocol: uint32(s.ActiveProtocol),
		Atr:            s.Atr,
	}, nil
}

func (c *scardCard) Disconnect(disposition uint32) error {
	return c.card.Disconnect(scard.Disposition(disposition))
}

// ListReaders returns the names of all PC/SC readers.
func ListReaders(factory ContextFactory) ([]string, error) {
	ctx, err := factory.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to establish context: %w", err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("failed to list readers: %w", err)
	}
	return readers, nil
}

// PCSCLink tunnels PN532 commands through an ACR122U style reader with
// the pseudo-APDU FF 00 00 00 Lc.
type PCSCLink struct {
	ctx    SmartCardContext
	card   SmartCard
	reader string
	direct bool
}

// OpenPCSC connects to reader, or the first reader when reader is empty.
// A partial name matches case-insensitively.
func OpenPCSC(factory ContextFactory, reader string) (*PCSCLink, error) {
	ctx, err := factory.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to establish context: %v", srix.ErrTransportUnavailable, err)
	}

	name, err := selectReader(ctx, reader)
	if err != nil {
		ctx.Release()
		return nil, err
	}

	// SR tags are not seen by the reader's own polling, so a shared
	// connection fails without another card present. Direct mode talks
	// to the controller through the escape IOCTL instead.
	direct := false
	card, err := ctx.Connect(name, shareShared, protocolAny)
	if err != nil {
		card, err = ctx.Connect(name, shareDirect, protocolUndefined)
		direct = true
	}
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("%w: failed to connect to reader %s: %v", srix.ErrTransportUnavailable, name, err)
	}

	return &PCSCLink{ctx: ctx, card: card, reader: name, direct: direct}, nil
}

func selectReader(ctx SmartCardContext, want string) (string, error) {
	readers, err := ctx.ListReaders()
	if err != nil {
		return "", fmt.Errorf("%w: failed to list readers: %v", srix.ErrTransportUnavailable, err)
	}
	if len(readers) == 0 {
		return "", fmt.Errorf("%w: no PC/SC readers found", srix.ErrTransportUnavailable)
	}
	if want == "" {
		return readers[0], nil
	}

	for _, r := range readers {
		if r == want {
			return r, nil
		}
	}
	for _, r := range readers {
		if strings.Contains(strings.ToLower(r), strings.ToLower(want)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: reader %q not found", srix.ErrTransportUnavailable, want)
}

// Name returns the connected reader name.
func (l *PCSCLink) Name() string {
	return l.reader
}

// Exchange sends one PN532 command and strips the 90 00 status word.
func (l *PCSCLink) Exchange(cmd []byte) ([]byte, error) {
	if len(cmd) > maxPseudoAPDU {
		return nil, fmt.Errorf("PN532 command too long: %d bytes", len(cmd))
	}

	// Format: FF 00 00 00 [len] D4 ..
	apdu := make([]byte, 0, len(cmd)+5)
	apdu = append(apdu, 0xFF, 0x00, 0x00, 0x00, byte(len(cmd)))
	apdu = append(apdu, cmd...)

	var rsp []byte
	var err error
	if l.direct {
		rsp, err = l.card.Control(escapeIOCTL(), apdu)
	} else {
		rsp, err = l.card.Transmit(apdu)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transmit command: %w", err)
	}

	// Check response - should end with 90 00 (success)
	if len(rsp) < 2 {
		return nil, fmt.Errorf("invalid response length: %d", len(rsp))
	}
	sw1 := rsp[len(rsp)-2]
	sw2 := rsp[len(rsp)-1]
	if sw1 != 0x90 || sw2 != 0x00 {
		return nil, fmt.Errorf("command failed with status: %02X %02X", sw1, sw2)
	}
	return rsp[:len(rsp)-2], nil
}

// Close disconnects the reader and releases the context.
func (l *PCSCLink) Close() error {
	err := l.card.Disconnect(leaveCard)
	if rerr := l.ctx.Release(); err == nil {
		err = rerr
	}
	return err
}

// escapeIOCTL is SCARD_CTL_CODE(3500), the CCID escape used by ACR122U.
func escapeIOCTL() uint32 {
	if runtime.GOOS == "windows" {
		return 0x00310000 | 3500<<2
	}
	return 0x42000000 + 3500
}
