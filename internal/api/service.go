package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SimplyPrint/srix-agent/internal/core"
	"github.com/SimplyPrint/srix-agent/internal/logging"
	"github.com/SimplyPrint/srix-agent/internal/srix"
)

var (
	// ErrPlanNotFound means the plan id is unknown, expired or already used.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrTagChanged means the tag in the field no longer matches the one
	// the plan was previewed for.
	ErrTagChanged = errors.New("tag in field does not match the planned tag")
)

// TagService defines the tag operations exposed over HTTP and WebSocket.
// Used for dependency injection and mocking in tests
type TagService interface {
	Readers() ([]string, error)
	ReadTag(ctx context.Context, t srix.TagType, withBlocks bool) (*TagInfo, error)
	Dump(ctx context.Context, t srix.TagType) (*DumpResult, error)
	PlanRestore(ctx context.Context, dump *srix.Store) (*RestorePlan, error)
	ExecutePlan(ctx context.Context, id string) (*RestoreOutcome, error)
	OTPStatus(ctx context.Context) (*OTPInfo, error)
	ResetOTP(ctx context.Context, id string) (*OTPInfo, error)
}

// Device is an open reader that can select a tag.
type Device interface {
	core.Transport
	core.Activator
}

// TagInfo describes the tag in the field.
type TagInfo struct {
	UID          string      `json:"uid"`
	Manufacturer string      `json:"manufacturer"`
	ICCode       uint8       `json:"icCode"`
	SerialNumber string      `json:"serialNumber"`
	TagType      string      `json:"tagType"`
	SystemBlock  *SystemInfo `json:"systemBlock,omitempty"`
	Blocks       []BlockInfo `json:"blocks,omitempty"`
}

type SystemInfo struct {
	Raw      string     `json:"raw"`
	ChipID   string     `json:"chipId"`
	LockBits []LockInfo `json:"lockBits"`
}

type LockInfo struct {
	Label  string `json:"label"`
	Locked bool   `json:"locked"`
}

type BlockInfo struct {
	Index  int    `json:"index"`
	Data   string `json:"data"`
	Region string `json:"region"`
}

// DumpResult is a full read with its metadata.
type DumpResult struct {
	Store       *srix.Store
	Identity    srix.TagIdentity
	SystemBlock srix.SystemBlock
}

type WriteInfo struct {
	Block int    `json:"block"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// RestorePlan is a diff waiting to be executed. ID is empty when the tag
// already matches and nothing was stored.
type RestorePlan struct {
	ID              string      `json:"id,omitempty"`
	UID             string      `json:"uid"`
	AlreadyRestored bool        `json:"alreadyRestored"`
	Writes          []WriteInfo `json:"writes"`
	ExpiresAt       *time.Time  `json:"expiresAt,omitempty"`
}

type RestoreOutcome struct {
	ID      string `json:"id"`
	UID     string `json:"uid"`
	Written int    `json:"written"`
}

// OTPInfo is the counter region of a tag. ID names the pending reset
// previewed by Writes; it is empty when the area is already reset.
type OTPInfo struct {
	ID              string      `json:"id,omitempty"`
	ExpiresAt       *time.Time  `json:"expiresAt,omitempty"`
	UID             string      `json:"uid"`
	Words           []string    `json:"words"`
	AlreadyReset    bool        `json:"alreadyReset"`
	ResetsAvailable uint32      `json:"resetsAvailable"`
	ResetsAfter     uint32      `json:"resetsAfter"`
	Exhausted       bool        `json:"exhausted"`
	Writes          []WriteInfo `json:"writes,omitempty"`
	Written         int         `json:"written"`
}

// WriteEvent is published after any write to a tag.
type WriteEvent struct {
	Kind    string `json:"kind"` // "restore" or "otp_reset"
	UID     string `json:"uid"`
	Written int    `json:"written"`
}

// pendingPlan is a previewed write waiting for its execution request.
// otp is set for OTP resets and holds the words the preview was built from.
type pendingPlan struct {
	uid     srix.TagIdentity
	plan    srix.WritePlan
	otp     *srix.OTPState
	expires time.Time
}

// SessionService opens the reader for every operation and serializes
// access to it. Restore plans are kept in memory and consumed once.
type SessionService struct {
	mu   sync.Mutex // one tag operation at a time
	open func() (Device, error)
	list func() ([]string, error)
	log  *logging.Logger

	WaitTimeout  time.Duration
	PollInterval time.Duration
	PlanTTL      time.Duration
	OnWrite      func(WriteEvent)

	plansMu sync.Mutex
	plans   map[string]*pendingPlan
	now     func() time.Time
}

// NewSessionService creates a service around open. list may be nil when
// the transport cannot enumerate readers.
func NewSessionService(open func() (Device, error), list func() ([]string, error), log *logging.Logger) *SessionService {
	return &SessionService{
		open:         open,
		list:         list,
		log:          log,
		WaitTimeout:  5 * time.Second,
		PollInterval: 250 * time.Millisecond,
		PlanTTL:      5 * time.Minute,
		plans:        make(map[string]*pendingPlan),
		now:          time.Now,
	}
}

// Readers lists the readers the transport can see.
func (s *SessionService) Readers() ([]string, error) {
	if s.list == nil {
		return []string{}, nil
	}
	return s.list()
}

// withSession opens the device, waits for a tag and runs fn.
func (s *SessionService) withSession(ctx context.Context, fn func(sess *srix.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, err := s.open()
	if err != nil {
		return err
	}
	defer dev.Close()

	waitCtx, cancel := context.WithTimeout(ctx, s.WaitTimeout)
	defer cancel()
	if _, err := core.WaitForTag(waitCtx, dev, s.PollInterval); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return core.ErrNoTag
		}
		return err
	}

	return fn(srix.NewSession(dev, s.log))
}

// ReadTag reads the UID and system block, plus every block when withBlocks is set.
func (s *SessionService) ReadTag(ctx context.Context, t srix.TagType, withBlocks bool) (*TagInfo, error) {
	var info *TagInfo
	err := s.withSession(ctx, func(sess *srix.Session) error {
		id, err := sess.GetUID()
		if err != nil {
			return err
		}
		sys, err := sess.ReadSystemBlock()
		if err != nil {
			return err
		}

		info = newTagInfo(id, t)
		info.SystemBlock = newSystemInfo(sys)

		if withBlocks {
			store, err := sess.ReadAll(t)
			if err != nil {
				return err
			}
			info.Blocks = newBlockInfos(store)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(logging.CatTag, "Tag read", map[string]any{
		"uid":    info.UID,
		"blocks": len(info.Blocks),
	})
	return info, nil
}

// Dump reads the whole EEPROM with the UID and system block.
func (s *SessionService) Dump(ctx context.Context, t srix.TagType) (*DumpResult, error) {
	var res DumpResult
	err := s.withSession(ctx, func(sess *srix.Session) error {
		var err error
		if res.Identity, err = sess.GetUID(); err != nil {
			return err
		}
		if res.SystemBlock, err = sess.ReadSystemBlock(); err != nil {
			return err
		}
		res.Store, err = sess.ReadAll(t)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// PlanRestore diffs dump against the tag and stores the plan under a new id.
func (s *SessionService) PlanRestore(ctx context.Context, dump *srix.Store) (*RestorePlan, error) {
	var (
		id   srix.TagIdentity
		plan srix.WritePlan
	)
	err := s.withSession(ctx, func(sess *srix.Session) error {
		var err error
		if id, err = sess.GetUID(); err != nil {
			return err
		}
		plan, err = srix.PlanRestore(sess, dump)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := &RestorePlan{
		UID:    id.String(),
		Writes: newWriteInfos(plan),
	}
	if plan.Empty() {
		out.AlreadyRestored = true
		return out, nil
	}

	out.ID, out.ExpiresAt = s.register(&pendingPlan{uid: id, plan: plan})

	s.log.Info(logging.CatTag, "Restore planned", map[string]any{
		"id":     out.ID,
		"uid":    out.UID,
		"writes": plan.Len(),
	})
	return out, nil
}

// register stores p under a new id and drops expired plans.
func (s *SessionService) register(p *pendingPlan) (string, *time.Time) {
	now := s.now()
	p.expires = now.Add(s.PlanTTL)
	id := uuid.NewString()

	s.plansMu.Lock()
	defer s.plansMu.Unlock()
	for k, old := range s.plans {
		if now.After(old.expires) {
			delete(s.plans, k)
		}
	}
	s.plans[id] = p
	return id, &p.expires
}

// take removes and returns the plan. A plan is never executed twice, and
// a restore id never runs an OTP reset or the other way round.
func (s *SessionService) take(id string, otp bool) (*pendingPlan, bool) {
	s.plansMu.Lock()
	defer s.plansMu.Unlock()

	p, ok := s.plans[id]
	if !ok || (p.otp != nil) != otp {
		return nil, false
	}
	delete(s.plans, id)
	if s.now().After(p.expires) {
		return nil, false
	}
	return p, true
}

// ExecutePlan writes a stored plan, after checking the same tag is present.
func (s *SessionService) ExecutePlan(ctx context.Context, id string) (*RestoreOutcome, error) {
	p, ok := s.take(id, false)
	if !ok {
		return nil, ErrPlanNotFound
	}

	out := &RestoreOutcome{ID: id, UID: p.uid.String()}
	err := s.withSession(ctx, func(sess *srix.Session) error {
		cur, err := sess.GetUID()
		if err != nil {
			return err
		}
		if cur != p.uid {
			return fmt.Errorf("%w: planned %s, found %s", ErrTagChanged, p.uid, cur)
		}
		out.Written, err = sess.Execute(p.plan)
		return err
	})
	if err != nil {
		return out, err
	}

	s.log.Info(logging.CatTag, "Dump restored", map[string]any{
		"uid":    out.UID,
		"blocks": out.Written,
	})
	s.publish(WriteEvent{Kind: "restore", UID: out.UID, Written: out.Written})
	return out, nil
}

// OTPStatus reads the counter region without writing and registers the
// previewed reset under a new id.
func (s *SessionService) OTPStatus(ctx context.Context) (*OTPInfo, error) {
	var (
		id    srix.TagIdentity
		state srix.OTPState
	)
	err := s.withSession(ctx, func(sess *srix.Session) error {
		var err error
		if id, err = sess.GetUID(); err != nil {
			return err
		}
		state, err = sess.ReadOTP()
		return err
	})
	if err != nil {
		return nil, err
	}

	info := newOTPInfo(id, state)
	if state.AlreadyReset() {
		return info, nil
	}
	plan, err := state.ResetPlan()
	if err != nil {
		return nil, err
	}
	info.Writes = newWriteInfos(plan)
	info.ID, info.ExpiresAt = s.register(&pendingPlan{uid: id, plan: plan, otp: &state})

	s.log.Info(logging.CatTag, "OTP reset planned", map[string]any{
		"id":  info.ID,
		"uid": info.UID,
	})
	return info, nil
}

// ResetOTP executes the reset previewed by OTPStatus under id. The UID and
// the six counter words are read again and must match the preview.
func (s *SessionService) ResetOTP(ctx context.Context, id string) (*OTPInfo, error) {
	p, ok := s.take(id, true)
	if !ok {
		return nil, ErrPlanNotFound
	}

	info := newOTPInfo(p.uid, *p.otp)
	info.ID = id
	info.Writes = newWriteInfos(p.plan)
	err := s.withSession(ctx, func(sess *srix.Session) error {
		cur, err := sess.GetUID()
		if err != nil {
			return err
		}
		if cur != p.uid {
			return fmt.Errorf("%w: planned %s, found %s", ErrTagChanged, p.uid, cur)
		}
		state, err := sess.ReadOTP()
		if err != nil {
			return err
		}
		if state.Words != p.otp.Words {
			return fmt.Errorf("%w: OTP area of %s changed since the preview", ErrTagChanged, cur)
		}

		if state.Exhausted() {
			s.log.Warn(logging.CatTag, "OTP counter reports no resets left", map[string]any{
				"uid": cur.String(),
			})
		}
		info.Written, err = sess.Execute(p.plan)
		return err
	})
	if err != nil {
		return info, err
	}

	s.log.Info(logging.CatTag, "OTP area reset", map[string]any{
		"uid":          info.UID,
		"resetsRemain": info.ResetsAfter,
	})
	s.publish(WriteEvent{Kind: "otp_reset", UID: info.UID, Written: info.Written})
	return info, nil
}

func (s *SessionService) publish(ev WriteEvent) {
	if s.OnWrite != nil {
		s.OnWrite(ev)
	}
}

func newTagInfo(id srix.TagIdentity, t srix.TagType) *TagInfo {
	return &TagInfo{
		UID:          id.String(),
		Manufacturer: id.Manufacturer(),
		ICCode:       id.ICCode(),
		SerialNumber: fmt.Sprintf("%011X", id.SerialNumber()),
		TagType:      t.String(),
	}
}

func newSystemInfo(sys srix.SystemBlock) *SystemInfo {
	info := &SystemInfo{
		Raw:      fmt.Sprintf("%08X", sys.Word()),
		ChipID:   fmt.Sprintf("%02X", sys.ChipID),
		LockBits: make([]LockInfo, 0, len(sys.LockBits)),
	}
	for _, lb := range sys.LockBits {
		info.LockBits = append(info.LockBits, LockInfo{Label: lb.Label(), Locked: lb.Locked})
	}
	return info
}

func newBlockInfos(store *srix.Store) []BlockInfo {
	blocks := store.Blocks()
	out := make([]BlockInfo, len(blocks))
	for i, b := range blocks {
		out[i] = BlockInfo{
			Index:  int(b.Index),
			Data:   fmt.Sprintf("%08X", b.Word()),
			Region: b.Region().String(),
		}
	}
	return out
}

func newWriteInfos(plan srix.WritePlan) []WriteInfo {
	out := make([]WriteInfo, len(plan.Writes))
	for i, w := range plan.Writes {
		out[i] = WriteInfo{
			Block: int(w.Index),
			From:  fmt.Sprintf("%08X", w.FromWord()),
			To:    fmt.Sprintf("%08X", w.ToWord()),
		}
	}
	return out
}

func newOTPInfo(id srix.TagIdentity, state srix.OTPState) *OTPInfo {
	info := &OTPInfo{
		UID:             id.String(),
		Words:           make([]string, len(state.Words)),
		AlreadyReset:    state.AlreadyReset(),
		ResetsAvailable: state.ResetsAvailable(),
		ResetsAfter:     state.ResetsAfter(),
		Exhausted:       state.Exhausted(),
	}
	for i, w := range state.Words {
		info.Words[i] = fmt.Sprintf("%08X", w)
	}
	return info
}
