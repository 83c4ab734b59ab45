package core

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/SimplyPrint/srix-agent/internal/srix"
)

const (
	uartReadTimeout  = 100 * time.Millisecond
	uartFrameTimeout = 2 * time.Second

	// maxPreambleSkip bounds the bytes discarded while looking for 00 FF.
	maxPreambleSkip = 64
)

var (
	hsuAck    = []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}
	hsuWakeup = []byte{0x55, 0x55, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

	// ErrUARTTimeout means the controller did not answer in time.
	ErrUARTTimeout = errors.New("timeout waiting for PN532")
)

// EncodeFrame builds an HSU information frame:
// 00 00 FF LEN LCS data.. DCS 00
func EncodeFrame(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data) > 254 {
		return nil, fmt.Errorf("invalid PN532 frame length: %d", len(data))
	}

	var sum byte
	for _, b := range data {
		sum += b
	}

	n := byte(len(data))
	frame := make([]byte, 0, len(data)+7)
	frame = append(frame, 0x00, 0x00, 0xFF, n, ^n+1)
	frame = append(frame, data...)
	return append(frame, ^sum+1, 0x00), nil
}

// UARTLink talks to a PN532 in HSU mode over a serial port.
type UARTLink struct {
	port    io.ReadWriteCloser
	name    string
	timeout time.Duration
}

// OpenUART opens portName at baud, wakes the controller and puts its SAM
// in normal mode.
func OpenUART(portName string, baud int) (*UARTLink, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open port %s: %v", srix.ErrTransportUnavailable, portName, err)
	}
	if err := port.SetReadTimeout(uartReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	l := newUARTLink(port, portName)
	if err := l.wake(); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: PN532 on %s did not answer: %v", srix.ErrTransportUnavailable, portName, err)
	}
	return l, nil
}

func newUARTLink(port io.ReadWriteCloser, name string) *UARTLink {
	return &UARTLink{port: port, name: name, timeout: uartFrameTimeout}
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

func (l *UARTLink) wake() error {
	if _, err := l.port.Write(hsuWakeup); err != nil {
		return err
	}
	// SAMConfiguration: normal mode, 1 s timeout, IRQ enabled
	rsp, err := l.Exchange([]byte{pn532HostToPN, cmdSAMConfiguration, 0x01, 0x14, 0x01})
	if err != nil {
		return err
	}
	return checkResponse(rsp, cmdSAMConfiguration)
}

// Name returns the serial port name.
func (l *UARTLink) Name() string {
	return l.name
}

// Exchange writes one frame, waits for the ACK and returns the answer.
func (l *UARTLink) Exchange(cmd []byte) ([]byte, error) {
	frame, err := EncodeFrame(cmd)
	if err != nil {
		return nil, err
	}
	if _, err := l.port.Write(frame); err != nil {
		return nil, fmt.Errorf("failed to write frame: %w", err)
	}

	_, ack, err := l.readFrame()
	if err != nil {
		return nil, fmt.Errorf("failed to read ACK: %w", err)
	}
	if !ack {
		return nil, fmt.Errorf("expected ACK frame")
	}

	data, ack, err := l.readFrame()
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if ack {
		return nil, fmt.Errorf("unexpected second ACK frame")
	}
	return data, nil
}

// Close closes the serial port.
func (l *UARTLink) Close() error {
	return l.port.Close()
}

// readFrame reads one frame. ack is set for an ACK frame, which has no data.
func (l *UARTLink) readFrame() (data []byte, ack bool, err error) {
	if err := l.skipPreamble(); err != nil {
		return nil, false, err
	}

	var hdr [2]byte
	if err := l.readFull(hdr[:]); err != nil {
		return nil, false, err
	}
	n, lcs := hdr[0], hdr[1]

	switch {
	case n == 0x00 && lcs == 0xFF:
		if err := l.readFull(make([]byte, 1)); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	case n == 0xFF && lcs == 0x00:
		return nil, false, fmt.Errorf("PN532 sent NACK")
	case n+lcs != 0:
		return nil, false, fmt.Errorf("bad length checksum %02X %02X", n, lcs)
	}

	// data, DCS, postamble
	buf := make([]byte, int(n)+2)
	if err := l.readFull(buf); err != nil {
		return nil, false, err
	}
	data = buf[:n]

	sum := buf[n]
	for _, b := range data {
		sum += b
	}
	if sum != 0 {
		return nil, false, fmt.Errorf("bad data checksum")
	}
	if len(data) == 1 && data[0] == 0x7F {
		return nil, false, fmt.Errorf("PN532 reported a syntax error")
	}
	return data, false, nil
}

// skipPreamble consumes bytes up to and including the 00 FF start code.
func (l *UARTLink) skipPreamble() error {
	var b [1]byte
	prevZero := false
	for i := 0; i < maxPreambleSkip; i++ {
		if err := l.readFull(b[:]); err != nil {
			return err
		}
		if prevZero && b[0] == 0xFF {
			return nil
		}
		prevZero = b[0] == 0x00
	}
	return fmt.Errorf("no frame start code in %d bytes", maxPreambleSkip)
}

// readFull fills buf. A serial read timeout returns 0 bytes without an
// error, so reads are retried until the frame timeout elapses.
func (l *UARTLink) readFull(buf []byte) error {
	deadline := time.Now().Add(l.timeout)
	for n := 0; n < len(buf); {
		m, err := l.port.Read(buf[n:])
		if err != nil {
			return err
		}
		if m == 0 {
			if time.Now().After(deadline) {
				return ErrUARTTimeout
			}
			continue
		}
		n += m
	}
	return nil
}
