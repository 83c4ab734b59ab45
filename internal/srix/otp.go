package srix

// OTPBlockIndexes are the blocks read for an OTP reset. Block 5 does not
// exist on this tag family and is skipped.
var OTPBlockIndexes = [6]byte{0, 1, 2, 3, 4, 6}

// OTPResetOrder is the write order of a reset. Block 6 goes first so the
// tag runs its auto-erase cycle before 0..4 are rewritten.
var OTPResetOrder = [6]byte{6, 0, 1, 2, 3, 4}

const (
	otpErased      uint32 = 0xFFFFFFFF
	otpCounterStep uint32 = 1 << 21
)

// OTPState holds the counter-region words, index-aligned with OTPBlockIndexes.
type OTPState struct {
	Words [6]uint32
}

// NewOTPState wraps the big-endian words of blocks 0,1,2,3,4,6.
func NewOTPState(words [6]uint32) OTPState {
	return OTPState{Words: words}
}

// AlreadyReset reports whether blocks 0..4 are all erased.
func (s OTPState) AlreadyReset() bool {
	for _, w := range s.Words[:5] {
		if w != otpErased {
			return false
		}
	}
	return true
}

// Block6 returns the raw word of block 6.
func (s OTPState) Block6() uint32 {
	return s.Words[5]
}

// CounterWord replicates the first byte of block 6 into all four lanes,
// the way the tag stores its countdown counter.
func (s OTPState) CounterWord() uint32 {
	b := s.Words[5] >> 24
	return b<<24 | b<<16 | b<<8 | b
}

// ResetsAvailable is the number of resets the counter still allows.
func (s OTPState) ResetsAvailable() uint32 {
	return s.CounterWord() >> 21
}

// Exhausted reports a counter at zero. A reset is still permitted; callers
// only warn about it.
func (s OTPState) Exhausted() bool {
	return s.ResetsAvailable() == 0
}

// NextCounterWord is the block 6 value written by one reset. An exhausted
// counter is written back unchanged so it never wraps around.
func (s OTPState) NextCounterWord() uint32 {
	if s.Exhausted() {
		return s.CounterWord()
	}
	return s.CounterWord() - otpCounterStep
}

// ResetsAfter is ResetsAvailable once NextCounterWord has been written.
func (s OTPState) ResetsAfter() uint32 {
	return s.NextCounterWord() >> 21
}

// ResetPlan builds the reset writes in OTPResetOrder: block 6 gets the
// decremented counter, blocks 0..4 get 0xFFFFFFFF.
func (s OTPState) ResetPlan() (WritePlan, error) {
	if s.AlreadyReset() {
		return WritePlan{}, ErrOTPAlreadyReset
	}

	plan := WritePlan{Writes: make([]PlannedWrite, 0, len(OTPResetOrder))}
	for _, idx := range OTPResetOrder {
		to := otpErased
		if idx == 6 {
			to = s.NextCounterWord()
		}
		plan.Writes = append(plan.Writes, PlannedWrite{
			Index: idx,
			From:  WordBytes(s.word(idx)),
			To:    WordBytes(to),
		})
	}
	return plan, nil
}

func (s OTPState) word(index byte) uint32 {
	for i, idx := range OTPBlockIndexes {
		if idx == index {
			return s.Words[i]
		}
	}
	return 0
}
