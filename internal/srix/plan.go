package srix

import "fmt"

// RestoreStartIndex is the first block a restore compares or writes.
// Blocks 0..6 (OTP bits and counter) are only touched by the OTP reset.
const RestoreStartIndex = 7

// PlannedWrite is one block write with the value it replaces.
type PlannedWrite struct {
	Index byte            `json:"index"`
	From  [BlockSize]byte `json:"from"`
	To    [BlockSize]byte `json:"to"`
}

// FromWord and ToWord are the big-endian words shown in diffs.
func (w PlannedWrite) FromWord() uint32 { return Block{Data: w.From}.Word() }
func (w PlannedWrite) ToWord() uint32   { return Block{Data: w.To}.Word() }

func (w PlannedWrite) String() string {
	return fmt.Sprintf("[%02X] %08X -> %08X", w.Index, w.FromWord(), w.ToWord())
}

// WritePlan is an ordered list of block writes. It is built for one
// comparison, executed once, then discarded.
type WritePlan struct {
	Writes []PlannedWrite `json:"writes"`
}

// Empty means the tag already matches.
func (p WritePlan) Empty() bool {
	return len(p.Writes) == 0
}

// Len returns the number of writes.
func (p WritePlan) Len() int {
	return len(p.Writes)
}

// Indexes returns the block indexes in write order.
func (p WritePlan) Indexes() []byte {
	idx := make([]byte, len(p.Writes))
	for i, w := range p.Writes {
		idx[i] = w.Index
	}
	return idx
}

// Apply performs the plan on an in-memory store.
func (p WritePlan) Apply(s *Store) error {
	for _, w := range p.Writes {
		if err := s.Set(Block{Index: w.Index, Data: w.To}); err != nil {
			return err
		}
	}
	return nil
}

// Diff compares source (the wanted state) with target (the current state)
// from RestoreStartIndex onward and returns one write per differing block,
// in ascending index order, carrying the source bytes.
func Diff(source, target *Store) (WritePlan, error) {
	if source.Len() != target.Len() {
		return WritePlan{}, fmt.Errorf("cannot compare %d blocks with %d blocks", source.Len(), target.Len())
	}

	plan := WritePlan{Writes: []PlannedWrite{}}
	for i := RestoreStartIndex; i < source.Len(); i++ {
		want, cur := source.blocks[i], target.blocks[i]
		if want.Data != cur.Data {
			plan.Writes = append(plan.Writes, PlannedWrite{
				Index: byte(i),
				From:  cur.Data,
				To:    want.Data,
			})
		}
	}
	return plan, nil
}
