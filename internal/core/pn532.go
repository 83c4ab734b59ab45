package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SimplyPrint/srix-agent/internal/logging"
	"github.com/SimplyPrint/srix-agent/internal/srix"
)

const (
	pn532HostToPN = 0xD4
	pn532PNToHost = 0xD5

	cmdSAMConfiguration    = 0x14
	cmdInCommunicateThru   = 0x42
	cmdInListPassiveTarget = 0x4A

	// BrTy106TypeB selects ISO/IEC 14443-3B at 106 kbps.
	BrTy106TypeB = 0x03

	statusOK      = 0x00
	statusTimeout = 0x01

	srInitiate = 0x06
	srSelect   = 0x0E
)

// ErrNoTag means no SR tag answered in the reader field.
var ErrNoTag = fmt.Errorf("%w: no tag in field", srix.ErrTransportUnavailable)

// PN532Error is a non-zero status byte returned by the controller.
type PN532Error struct {
	Command byte
	Status  byte
}

func (e *PN532Error) Error() string {
	return fmt.Sprintf("PN532 command %02X failed with status %02X", e.Command, e.Status)
}

// BuildInListPassiveTarget builds InListPassiveTarget for one target at brty.
// The trailing byte is the AFI used by type B polling.
func BuildInListPassiveTarget(brty byte) []byte {
	return []byte{pn532HostToPN, cmdInListPassiveTarget, 0x01, brty, 0x00}
}

// BuildInCommunicateThru wraps raw tag bytes for InCommunicateThru.
func BuildInCommunicateThru(data []byte) []byte {
	cmd := make([]byte, 0, len(data)+2)
	cmd = append(cmd, pn532HostToPN, cmdInCommunicateThru)
	return append(cmd, data...)
}

// ParseInCommunicateThru returns the tag bytes of an InCommunicateThru
// answer. A target timeout yields an empty slice because SR writes never
// answer.
func ParseInCommunicateThru(rsp []byte) ([]byte, error) {
	if err := checkResponse(rsp, cmdInCommunicateThru); err != nil {
		return nil, err
	}
	if len(rsp) < 3 {
		return nil, fmt.Errorf("InCommunicateThru response too short: % X", rsp)
	}

	switch status := rsp[2] & 0x3F; status {
	case statusOK:
		return append([]byte{}, rsp[3:]...), nil
	case statusTimeout:
		return []byte{}, nil
	default:
		return nil, &PN532Error{Command: cmdInCommunicateThru, Status: status}
	}
}

// ParseInListPassiveTarget returns the number of targets found.
func ParseInListPassiveTarget(rsp []byte) (int, error) {
	if err := checkResponse(rsp, cmdInListPassiveTarget); err != nil {
		return 0, err
	}
	if len(rsp) < 3 {
		return 0, fmt.Errorf("InListPassiveTarget response too short: % X", rsp)
	}
	return int(rsp[2]), nil
}

func checkResponse(rsp []byte, cmd byte) error {
	if len(rsp) < 2 || rsp[0] != pn532PNToHost || rsp[1] != cmd+1 {
		return fmt.Errorf("unexpected PN532 response to command %02X: % X", cmd, rsp)
	}
	return nil
}

// Reader drives a PN532 over a Link and tunnels SR commands through
// InCommunicateThru.
type Reader struct {
	link Link
	name string
	log  *logging.Logger
}

// NewReader wraps link. log may be nil.
func NewReader(link Link, name string, log *logging.Logger) *Reader {
	return &Reader{link: link, name: name, log: log}
}

// Name returns the reader or port name.
func (r *Reader) Name() string {
	return r.name
}

// Transceive sends cmd to the selected tag.
func (r *Reader) Transceive(cmd []byte) ([]byte, error) {
	rsp, err := r.link.Exchange(BuildInCommunicateThru(cmd))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange with reader: %w", err)
	}
	return ParseInCommunicateThru(rsp)
}

// Activate configures the controller for ISO14443B, then selects the SR
// tag with INITIATE and SELECT. It returns the chip id, or ErrNoTag when
// nothing answers.
func (r *Reader) Activate() (byte, error) {
	rsp, err := r.link.Exchange(BuildInListPassiveTarget(BrTy106TypeB))
	if err != nil {
		return 0, fmt.Errorf("failed to poll for ISO14443B targets: %w", err)
	}
	found, err := ParseInListPassiveTarget(rsp)
	if err != nil {
		return 0, err
	}
	r.log.Debug(logging.CatTransport, "Searching for ISO14443B targets", map[string]any{
		"found": found,
	})

	chip, err := r.Transceive([]byte{srInitiate, 0x00})
	if err != nil {
		return 0, err
	}
	if len(chip) != 1 {
		return 0, ErrNoTag
	}

	echo, err := r.Transceive([]byte{srSelect, chip[0]})
	if err != nil {
		return 0, err
	}
	if len(echo) != 1 || echo[0] != chip[0] {
		return 0, fmt.Errorf("%w: chip %02X did not acknowledge SELECT", ErrNoTag, chip[0])
	}

	r.log.Debug(logging.CatTransport, "ISO14443B2SR target selected", map[string]any{
		"reader": r.name,
		"chipId": fmt.Sprintf("%02X", chip[0]),
	})
	return chip[0], nil
}

// Close releases the link.
func (r *Reader) Close() error {
	return r.link.Close()
}

// WaitForTag calls Activate every interval until a tag answers, a
// non-ErrNoTag error occurs, or ctx ends.
func WaitForTag(ctx context.Context, a Activator, interval time.Duration) (byte, error) {
	for {
		chip, err := a.Activate()
		if err == nil {
			return chip, nil
		}
		if !errors.Is(err, ErrNoTag) {
			return 0, err
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(interval):
		}
	}
}
