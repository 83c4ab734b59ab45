package api

import (
	"context"
	"errors"
	"sync"

	"github.com/SimplyPrint/srix-agent/internal/core"
	"github.com/SimplyPrint/srix-agent/internal/srix"
)

// MockTagService implements TagService for handler tests
type MockTagService struct {
	mu      sync.Mutex
	readers []string
	info    *TagInfo
	dump    *DumpResult
	plan    *RestorePlan
	outcome *RestoreOutcome
	otp     *OTPInfo
	err     error

	calls     []string
	gotType   srix.TagType
	gotBlocks bool
	gotDump   *srix.Store
	gotID     string
}

func (m *MockTagService) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *MockTagService) Readers() ([]string, error) {
	m.record("Readers")
	if m.err != nil {
		return nil, m.err
	}
	if m.readers == nil {
		return []string{}, nil
	}
	return m.readers, nil
}

func (m *MockTagService) ReadTag(ctx context.Context, t srix.TagType, withBlocks bool) (*TagInfo, error) {
	m.record("ReadTag")
	m.gotType, m.gotBlocks = t, withBlocks
	return m.info, m.err
}

func (m *MockTagService) Dump(ctx context.Context, t srix.TagType) (*DumpResult, error) {
	m.record("Dump")
	m.gotType = t
	return m.dump, m.err
}

func (m *MockTagService) PlanRestore(ctx context.Context, dump *srix.Store) (*RestorePlan, error) {
	m.record("PlanRestore")
	m.gotDump = dump
	return m.plan, m.err
}

func (m *MockTagService) ExecutePlan(ctx context.Context, id string) (*RestoreOutcome, error) {
	m.record("ExecutePlan")
	m.gotID = id
	return m.outcome, m.err
}

func (m *MockTagService) OTPStatus(ctx context.Context) (*OTPInfo, error) {
	m.record("OTPStatus")
	return m.otp, m.err
}

func (m *MockTagService) ResetOTP(ctx context.Context, id string) (*OTPInfo, error) {
	m.record("ResetOTP")
	m.gotID = id
	return m.otp, m.err
}

func (m *MockTagService) called(call string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c == call {
			return true
		}
	}
	return false
}

// fakeDevice emulates a reader with an SRIX4K in the field.
type fakeDevice struct {
	mu      sync.Mutex
	present bool
	uid     [8]byte
	blocks  [128][4]byte
	system  [4]byte
	writes  []byte
	opens   int
	closed  int
}

func newFakeDevice() *fakeDevice {
	d := &fakeDevice{
		present: true,
		uid:     [8]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x02, 0xD0},
		system:  [4]byte{0x3C, 0xFF, 0xFF, 0xFF},
	}
	for i := range d.blocks {
		d.blocks[i] = [4]byte{byte(i), 0x11, 0x22, 0x33}
	}
	// counter byte 0x60 leaves 771 resets
	d.blocks[6] = [4]byte{0x60, 0x00, 0x00, 0x00}
	return d
}

// open returns the device as the service factory does.
func (d *fakeDevice) open() (Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	return d, nil
}

func (d *fakeDevice) Activate() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.present {
		return 0, core.ErrNoTag
	}
	return 0x3C, nil
}

func (d *fakeDevice) Transceive(cmd []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.present {
		return nil, errors.New("tag left the field")
	}

	switch cmd[0] {
	case 0x0B:
		return append([]byte(nil), d.uid[:]...), nil
	case 0x08:
		if cmd[1] == 0xFF {
			return append([]byte(nil), d.system[:]...), nil
		}
		b := d.blocks[cmd[1]]
		return append([]byte(nil), b[:]...), nil
	case 0x09:
		copy(d.blocks[cmd[1]][:], cmd[2:6])
		d.writes = append(d.writes, cmd[1])
		return nil, nil
	}
	return nil, errors.New("unknown command")
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *fakeDevice) store() *srix.Store {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw := make([]byte, 0, len(d.blocks)*4)
	for _, b := range d.blocks {
		raw = append(raw, b[:]...)
	}
	s, _ := srix.StoreFromBytes(srix.TagSRIX4K, raw)
	return s
}
