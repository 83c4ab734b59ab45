package srix

import (
	"fmt"

	"github.com/SimplyPrint/srix-agent/internal/logging"
)

// Transceiver sends one raw tag command and returns the tag's answer.
// Device discovery and target selection happen before a Transceiver is
// handed to a Session.
type Transceiver interface {
	Transceive(cmd []byte) ([]byte, error)
}

// Session issues tag commands over a Transceiver, one at a time.
// A Session is not safe for concurrent use.
type Session struct {
	tr  Transceiver
	log *logging.Logger
}

// NewSession wraps tr. log may be nil.
func NewSession(tr Transceiver, log *logging.Logger) *Session {
	return &Session{tr: tr, log: log}
}

func (s *Session) transceive(cmd []byte) ([]byte, error) {
	s.log.Frame("TX >>", cmd)
	rsp, err := s.tr.Transceive(cmd)
	if err != nil {
		return nil, err
	}
	s.log.Frame("RX <<", rsp)
	return rsp, nil
}

// GetUID sends GET_UID and decodes the answer.
func (s *Session) GetUID() (TagIdentity, error) {
	rsp, err := s.transceive(GetUIDCommand())
	if err != nil {
		return TagIdentity{}, fmt.Errorf("failed to read UID: %w", err)
	}
	id, err := DecodeUID(rsp)
	if err != nil {
		s.log.Debug(logging.CatTag, "Unexpected UID response", map[string]any{
			"received": len(rsp),
			"expected": UIDResponseLen,
		})
		return TagIdentity{}, fmt.Errorf("error while reading UID: %w", err)
	}
	return id, nil
}

// ReadBlock reads one block.
func (s *Session) ReadBlock(index byte) (Block, error) {
	rsp, err := s.transceive(ReadBlockCommand(index))
	if err != nil {
		return Block{}, &BlockReadError{Index: index, Err: err}
	}
	if err := CheckResponseLen(readOp(index), rsp, BlockResponseLen); err != nil {
		s.log.Debug(logging.CatTag, "Unexpected block response", map[string]any{
			"block":    index,
			"received": len(rsp),
			"expected": BlockResponseLen,
		})
		return Block{}, &BlockReadError{Index: index, Err: err}
	}

	b := Block{Index: index}
	copy(b.Data[:], rsp)
	return b, nil
}

// ReadSystemBlock reads and decodes block 0xFF.
func (s *Session) ReadSystemBlock() (SystemBlock, error) {
	b, err := s.ReadBlock(SystemBlockIndex)
	if err != nil {
		return SystemBlock{}, err
	}
	return DecodeSystemBlock(b.Data[:])
}

// WriteBlock sends WRITE_BLOCK. The tag does not acknowledge writes, so a
// nil error only means the frame was handed to the transport.
func (s *Session) WriteBlock(index byte, data [BlockSize]byte) error {
	if _, err := s.transceive(WriteBlockCommand(index, data)); err != nil {
		return fmt.Errorf("failed to write block %02X: %w", index, err)
	}
	s.log.Debug(logging.CatTag, "Block written", map[string]any{
		"block": fmt.Sprintf("%02X", index),
		"data":  logging.HexBytes(data[:]),
	})
	logging.AddBreadcrumb("tag", fmt.Sprintf("wrote block %02X", index))
	return nil
}

// ReadAll reads blocks 0..t.Blocks()-1 in ascending order. The first
// failing block aborts the read and no store is returned.
func (s *Session) ReadAll(t TagType) (*Store, error) {
	s.log.Debug(logging.CatTag, "Reading blocks", map[string]any{
		"blocks": t.Blocks(),
	})

	store := NewStore(t)
	for i := 0; i < t.Blocks(); i++ {
		b, err := s.ReadBlock(byte(i))
		if err != nil {
			return nil, err
		}
		store.blocks[i] = b
	}
	return store, nil
}

// ReadOTP reads blocks 0,1,2,3,4 and 6.
func (s *Session) ReadOTP() (OTPState, error) {
	var words [6]uint32
	for i, idx := range OTPBlockIndexes {
		b, err := s.ReadBlock(idx)
		if err != nil {
			return OTPState{}, err
		}
		words[i] = b.Word()
	}
	return NewOTPState(words), nil
}

// Execute sends every write of plan in order. It stops at the first
// transport failure and reports how many writes were sent.
func (s *Session) Execute(plan WritePlan) (int, error) {
	for i, w := range plan.Writes {
		if err := s.WriteBlock(w.Index, w.To); err != nil {
			return i, err
		}
	}
	return plan.Len(), nil
}
