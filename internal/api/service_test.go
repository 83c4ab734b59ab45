package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SimplyPrint/srix-agent/internal/core"
	"github.com/SimplyPrint/srix-agent/internal/srix"
)

func newTestService(d *fakeDevice) *SessionService {
	svc := NewSessionService(d.open, func() ([]string, error) {
		return []string{"fake"}, nil
	}, nil)
	svc.WaitTimeout = 50 * time.Millisecond
	svc.PollInterval = 5 * time.Millisecond
	return svc
}

func TestSessionService_ReadTag(t *testing.T) {
	d := newFakeDevice()
	svc := newTestService(d)

	info, err := svc.ReadTag(context.Background(), srix.TagSRIX4K, true)
	if err != nil {
		t.Fatalf("ReadTag failed: %v", err)
	}

	if info.UID != "D002665544332211" {
		t.Errorf("UID = %s", info.UID)
	}
	if info.Manufacturer != "STMicroelectronics" {
		t.Errorf("Manufacturer = %s", info.Manufacturer)
	}
	if info.TagType != "x4k" {
		t.Errorf("TagType = %s", info.TagType)
	}
	if info.SystemBlock == nil || info.SystemBlock.ChipID != "3C" {
		t.Errorf("SystemBlock = %+v", info.SystemBlock)
	}
	if len(info.Blocks) != 128 {
		t.Fatalf("got %d blocks, want 128", len(info.Blocks))
	}
	if info.Blocks[7].Data != "07112233" {
		t.Errorf("block 7 = %s", info.Blocks[7].Data)
	}
	if d.opens != 1 || d.closed != 1 {
		t.Errorf("opens=%d closed=%d, want 1/1", d.opens, d.closed)
	}
}

func TestSessionService_ReadTagWithoutBlocks(t *testing.T) {
	svc := newTestService(newFakeDevice())

	info, err := svc.ReadTag(context.Background(), srix.TagSRI512, false)
	if err != nil {
		t.Fatal(err)
	}
	if info.Blocks != nil {
		t.Error("blocks should be omitted")
	}
	if len(info.SystemBlock.LockBits) != 8 {
		t.Errorf("got %d lock bits", len(info.SystemBlock.LockBits))
	}
}

func TestSessionService_NoTag(t *testing.T) {
	d := newFakeDevice()
	d.present = false
	svc := newTestService(d)

	_, err := svc.ReadTag(context.Background(), srix.TagSRIX4K, false)
	if !errors.Is(err, core.ErrNoTag) {
		t.Fatalf("expected ErrNoTag, got %v", err)
	}
	if !errors.Is(err, srix.ErrTransportUnavailable) {
		t.Error("ErrNoTag should wrap ErrTransportUnavailable")
	}
	if d.closed != 1 {
		t.Error("device should be closed after a failed wait")
	}
}

func TestSessionService_OpenError(t *testing.T) {
	openErr := errors.New("no reader")
	svc := NewSessionService(func() (Device, error) { return nil, openErr }, nil, nil)

	if _, err := svc.Dump(context.Background(), srix.TagSRIX4K); !errors.Is(err, openErr) {
		t.Errorf("expected open error, got %v", err)
	}

	readers, err := svc.Readers()
	if err != nil || len(readers) != 0 {
		t.Errorf("Readers() = %v, %v", readers, err)
	}
}

func TestSessionService_Dump(t *testing.T) {
	d := newFakeDevice()
	svc := newTestService(d)

	res, err := svc.Dump(context.Background(), srix.TagSRIX4K)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Store.Equal(d.store()) {
		t.Error("dump differs from the tag")
	}
	if res.Identity.String() != "D002665544332211" {
		t.Errorf("Identity = %s", res.Identity)
	}
	if res.SystemBlock.ChipID != 0x3C {
		t.Errorf("ChipID = %02X", res.SystemBlock.ChipID)
	}
}

func TestSessionService_PlanAndExecute(t *testing.T) {
	d := newFakeDevice()
	svc := newTestService(d)

	var events []WriteEvent
	svc.OnWrite = func(ev WriteEvent) { events = append(events, ev) }

	want := d.store()
	_ = want.Set(srix.Block{Index: 0x10, Data: [4]byte{0xAA, 0xBB, 0xCC, 0xDD}})
	_ = want.Set(srix.Block{Index: 0x7F, Data: [4]byte{0x01, 0x02, 0x03, 0x04}})
	// below the restore range, never written
	_ = want.Set(srix.Block{Index: 0x02, Data: [4]byte{0xFF, 0xFF, 0xFF, 0xFF}})

	plan, err := svc.PlanRestore(context.Background(), want)
	if err != nil {
		t.Fatalf("PlanRestore failed: %v", err)
	}
	if plan.ID == "" || plan.AlreadyRestored {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if len(plan.Writes) != 2 {
		t.Fatalf("got %d writes, want 2", len(plan.Writes))
	}
	if plan.Writes[0].Block != 0x10 || plan.Writes[0].From != "10112233" || plan.Writes[0].To != "AABBCCDD" {
		t.Errorf("first write = %+v", plan.Writes[0])
	}
	if len(d.writes) != 0 {
		t.Fatal("planning must not write")
	}

	out, err := svc.ExecutePlan(context.Background(), plan.ID)
	if err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}
	if out.Written != 2 {
		t.Errorf("Written = %d", out.Written)
	}
	if string(d.writes) != string([]byte{0x10, 0x7F}) {
		t.Errorf("writes = % X", d.writes)
	}
	if len(events) != 1 || events[0].Kind != "restore" || events[0].Written != 2 {
		t.Errorf("events = %+v", events)
	}

	if _, err := svc.ExecutePlan(context.Background(), plan.ID); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("second execution should fail with ErrPlanNotFound, got %v", err)
	}
}

func TestSessionService_PlanAlreadyRestored(t *testing.T) {
	d := newFakeDevice()
	svc := newTestService(d)

	plan, err := svc.PlanRestore(context.Background(), d.store())
	if err != nil {
		t.Fatal(err)
	}
	if !plan.AlreadyRestored || plan.ID != "" || len(plan.Writes) != 0 {
		t.Errorf("unexpected plan %+v", plan)
	}
}

func TestSessionService_ExecuteOnOtherTag(t *testing.T) {
	d := newFakeDevice()
	svc := newTestService(d)

	want := d.store()
	_ = want.Set(srix.Block{Index: 0x20, Data: [4]byte{1, 2, 3, 4}})
	plan, err := svc.PlanRestore(context.Background(), want)
	if err != nil {
		t.Fatal(err)
	}

	d.uid[0] = 0x99
	_, err = svc.ExecutePlan(context.Background(), plan.ID)
	if !errors.Is(err, ErrTagChanged) {
		t.Fatalf("expected ErrTagChanged, got %v", err)
	}
	if len(d.writes) != 0 {
		t.Error("nothing should be written to another tag")
	}

	// the plan is consumed even when it failed
	d.uid[0] = 0x11
	if _, err := svc.ExecutePlan(context.Background(), plan.ID); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestSessionService_PlanExpires(t *testing.T) {
	d := newFakeDevice()
	svc := newTestService(d)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	want := d.store()
	_ = want.Set(srix.Block{Index: 0x20, Data: [4]byte{1, 2, 3, 4}})
	plan, err := svc.PlanRestore(context.Background(), want)
	if err != nil {
		t.Fatal(err)
	}

	now = now.Add(svc.PlanTTL + time.Second)
	if _, err := svc.ExecutePlan(context.Background(), plan.ID); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("expected ErrPlanNotFound for expired plan, got %v", err)
	}
}

func TestSessionService_ExecuteUnknownPlan(t *testing.T) {
	d := newFakeDevice()
	svc := newTestService(d)

	if _, err := svc.ExecutePlan(context.Background(), "nope"); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("expected ErrPlanNotFound, got %v", err)
	}
	if d.opens != 0 {
		t.Error("unknown plan should not open the reader")
	}
}

func TestSessionService_OTP(t *testing.T) {
	d := newFakeDevice()
	svc := newTestService(d)

	var events []WriteEvent
	svc.OnWrite = func(ev WriteEvent) { events = append(events, ev) }

	status, err := svc.OTPStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status.AlreadyReset || status.ID == "" || status.ExpiresAt == nil {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.ResetsAvailable != 0x303 || status.ResetsAfter != 0x302 {
		t.Errorf("resets = %d -> %d", status.ResetsAvailable, status.ResetsAfter)
	}
	if len(status.Writes) != 6 || status.Writes[0].Block != 6 || status.Writes[0].To != "60406060" {
		t.Errorf("preview = %+v", status.Writes)
	}
	if len(d.writes) != 0 {
		t.Fatal("status must not write")
	}

	res, err := svc.ResetOTP(context.Background(), status.ID)
	if err != nil {
		t.Fatalf("ResetOTP failed: %v", err)
	}
	if res.Written != 6 {
		t.Errorf("Written = %d", res.Written)
	}
	if string(d.writes) != string([]byte{6, 0, 1, 2, 3, 4}) {
		t.Errorf("write order = % X", d.writes)
	}
	if len(events) != 1 || events[0].Kind != "otp_reset" {
		t.Errorf("events = %+v", events)
	}

	if _, err := svc.ResetOTP(context.Background(), status.ID); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("second reset with the same id: %v", err)
	}

	again, err := svc.OTPStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !again.AlreadyReset || again.ID != "" || len(again.Writes) != 0 {
		t.Errorf("status after reset = %+v", again)
	}
	if len(events) != 1 {
		t.Error("no event expected when nothing was written")
	}
}

func TestSessionService_ResetOTPRefused(t *testing.T) {
	tests := []struct {
		name   string
		change func(d *fakeDevice, svc *SessionService)
		id     func(statusID, restoreID string) string
		want   error
	}{
		{
			name: "unknown id",
			id:   func(string, string) string { return "nope" },
			want: ErrPlanNotFound,
		},
		{
			name: "restore id",
			id:   func(_, restoreID string) string { return restoreID },
			want: ErrPlanNotFound,
		},
		{
			name: "expired",
			change: func(d *fakeDevice, svc *SessionService) {
				later := time.Now().Add(svc.PlanTTL + time.Second)
				svc.now = func() time.Time { return later }
			},
			want: ErrPlanNotFound,
		},
		{
			name:   "other tag",
			change: func(d *fakeDevice, svc *SessionService) { d.uid[0] = 0x99 },
			want:   ErrTagChanged,
		},
		{
			name:   "counter changed",
			change: func(d *fakeDevice, svc *SessionService) { d.blocks[6] = [4]byte{0x5F, 0, 0, 0} },
			want:   ErrTagChanged,
		},
		{
			name:   "OTP bits changed",
			change: func(d *fakeDevice, svc *SessionService) { d.blocks[2] = [4]byte{0xFF, 0xFF, 0xFF, 0xFF} },
			want:   ErrTagChanged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDevice()
			svc := newTestService(d)

			status, err := svc.OTPStatus(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			want := d.store()
			_ = want.Set(srix.Block{Index: 0x20, Data: [4]byte{1, 2, 3, 4}})
			restore, err := svc.PlanRestore(context.Background(), want)
			if err != nil {
				t.Fatal(err)
			}

			if tt.change != nil {
				tt.change(d, svc)
			}
			id := status.ID
			if tt.id != nil {
				id = tt.id(status.ID, restore.ID)
			}

			if _, err := svc.ResetOTP(context.Background(), id); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(d.writes) != 0 {
				t.Errorf("writes = % X, nothing may be written", d.writes)
			}
		})
	}
}

func TestSessionService_OTPIdNotUsableForRestore(t *testing.T) {
	d := newFakeDevice()
	svc := newTestService(d)

	status, err := svc.OTPStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ExecutePlan(context.Background(), status.ID); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("expected ErrPlanNotFound, got %v", err)
	}
	if _, err := svc.ResetOTP(context.Background(), status.ID); err != nil {
		t.Errorf("OTP plan should survive a restore attempt with its id: %v", err)
	}
}
