package srix

import (
	"github.com/SimplyPrint/srix-agent/internal/logging"
)

// ConfirmQuestion is asked before any irreversible write.
const ConfirmQuestion = "This action is irreversible.\nAre you sure?"

// Preview is everything shown to the user before an irreversible write.
type Preview struct {
	Plan WritePlan
	// OTP is set for OTP resets.
	OTP *OTPState
}

// Prompter presents a preview and asks for confirmation. Confirm blocks
// until the user answers.
type Prompter interface {
	Preview(p Preview)
	Confirm(question string) (bool, error)
}

// Options control the interactive workflows.
type Options struct {
	// SkipConfirmation answers yes to every prompt. The preview is still shown.
	SkipConfirmation bool
}

// RestoreResult describes a finished restore.
type RestoreResult struct {
	Plan            WritePlan
	AlreadyRestored bool
	Written         int
}

// PlanRestore reads the tag and diffs it against dump.
func PlanRestore(s *Session, dump *Store) (WritePlan, error) {
	current, err := s.ReadAll(dump.TagType())
	if err != nil {
		return WritePlan{}, err
	}
	return Diff(dump, current)
}

// Restore writes every block from RestoreStartIndex onward that differs
// between dump and the tag. An identical tag returns AlreadyRestored
// without prompting. Otherwise the full plan is previewed and, unless
// skipped, confirmed before the first write. A "no" returns ErrUserDeclined.
func Restore(s *Session, dump *Store, p Prompter, opts Options) (RestoreResult, error) {
	plan, err := PlanRestore(s, dump)
	if err != nil {
		return RestoreResult{}, err
	}

	res := RestoreResult{Plan: plan}
	if plan.Empty() {
		res.AlreadyRestored = true
		s.log.Info(logging.CatTag, "Tag already restored", nil)
		return res, nil
	}

	p.Preview(Preview{Plan: plan})
	if err := confirm(p, opts); err != nil {
		return res, err
	}

	res.Written, err = s.Execute(plan)
	if err != nil {
		return res, err
	}

	s.log.Info(logging.CatTag, "Dump restored", map[string]any{
		"blocks": res.Written,
	})
	return res, nil
}

// OTPResult describes a finished OTP reset.
type OTPResult struct {
	State        OTPState
	Plan         WritePlan
	AlreadyReset bool
	Written      int
}

// ResetOTP reads the counter region and, unless it is already erased,
// decrements the counter and erases blocks 0..4. Always previewed and
// confirmed unless skipped; never retried.
func ResetOTP(s *Session, p Prompter, opts Options) (OTPResult, error) {
	state, err := s.ReadOTP()
	if err != nil {
		return OTPResult{}, err
	}

	res := OTPResult{State: state}
	if state.AlreadyReset() {
		res.AlreadyReset = true
		s.log.Info(logging.CatTag, "OTP area already reset", nil)
		return res, nil
	}

	if state.Exhausted() {
		s.log.Warn(logging.CatTag, "OTP counter reports no resets left", map[string]any{
			"counter": state.CounterWord(),
		})
	}

	res.Plan, err = state.ResetPlan()
	if err != nil {
		return res, err
	}

	p.Preview(Preview{Plan: res.Plan, OTP: &state})
	if err := confirm(p, opts); err != nil {
		return res, err
	}

	res.Written, err = s.Execute(res.Plan)
	if err != nil {
		return res, err
	}

	s.log.Info(logging.CatTag, "OTP area reset", map[string]any{
		"resetsRemaining": state.ResetsAfter(),
	})
	return res, nil
}

func confirm(p Prompter, opts Options) error {
	if opts.SkipConfirmation {
		return nil
	}
	ok, err := p.Confirm(ConfirmQuestion)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserDeclined
	}
	return nil
}
