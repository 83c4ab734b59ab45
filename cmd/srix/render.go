package main

import (
	"fmt"
	"io"
	"os"

	"github.com/SimplyPrint/srix-agent/internal/srix"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiDim    = "\x1b[2m"
)

// printer writes the human-readable output. Colors are only emitted to a
// terminal and never when NO_COLOR is set.
type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer) *printer {
	p := &printer{w: w}
	if f, ok := w.(*os.File); ok && os.Getenv("NO_COLOR") == "" {
		p.color = isTerminal(f.Fd())
	}
	return p
}

func (p *printer) paint(code, s string) string {
	if !p.color {
		return s
	}
	return code + s + ansiReset
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) errorf(format string, args ...any) {
	p.printf("%s%s\n", p.paint(ansiRed, "ERROR: "), fmt.Sprintf(format, args...))
}

func (p *printer) warnf(format string, args ...any) {
	p.printf("%s%s\n", p.paint(ansiYellow, "WARNING: "), fmt.Sprintf(format, args...))
}

// identity prints the UID and its decoded fields as a tree.
func (p *printer) identity(id srix.TagIdentity) {
	p.printf("UID: %s\n", id)
	p.printf("├── Prefix: %02X\n", id.Prefix())
	p.printf("├── IC manufacturer code: %02X (%s)\n", id.ManufacturerCode(), id.Manufacturer())
	p.printf("├── IC code: %s [%d]\n", id.ICCodeBits(), id.ICCode())
	p.printf("└── 42bit unique serial number: %s [%d]\n", id.SerialNumberBits(), id.SerialNumber())
}

// block prints one block as read from the tag.
func (p *printer) block(b srix.Block, reverse bool) {
	d := b.Display(reverse)
	p.printf("[%02X]> %02X %02X %02X %02X %s\n", b.Index, d[0], d[1], d[2], d[3],
		p.paint(ansiDim, "--- "+b.Region().String()))
}

// systemBlock prints block 0xFF in the same byte order as the data blocks,
// then the state of every OTP_Lock_Reg bit.
func (p *printer) systemBlock(sb srix.SystemBlock, reverse bool) {
	r := sb.Raw
	if reverse {
		r[0], r[1], r[2], r[3] = r[3], r[2], r[1], r[0]
	}
	p.printf("System block: %02X %02X %02X %02X\n", r[0], r[1], r[2], r[3])
	p.printf("├── CHIP_ID: %02X\n", sb.ChipID)
	p.printf("├── ST reserved: %02X%02X\n", sb.Reserved[0], sb.Reserved[1])
	p.printf("└── OTP_Lock_Reg:\n")

	for i, lb := range sb.LockBits {
		branch := "├──"
		if i == len(sb.LockBits)-1 {
			branch = "└──"
		}
		verb := "is"
		if len(lb.Blocks()) > 1 {
			verb = "are"
		}
		bit, state := 1, p.paint(ansiGreen, "unlocked")
		if lb.Locked {
			bit, state = 0, p.paint(ansiRed, "LOCKED")
		}
		p.printf("    %s b%d = %d - %s %s %s\n", branch, lb.Bit, bit, lb.Label(), verb, state)
	}
}

// dumpColumns prints a stored image on one or two columns.
func (p *printer) dumpColumns(s *srix.Store, columns int) {
	blocks := s.Blocks()
	if columns != 2 {
		for _, b := range blocks {
			d := b.Data
			p.printf("[%02X]> %02X %02X %02X %02X --- %s\n", b.Index, d[0], d[1], d[2], d[3], b.Region())
		}
		return
	}

	for i := 0; i+1 < len(blocks); i += 2 {
		l, r := blocks[i], blocks[i+1]
		p.printf("%19s --- [%02X]> %02X %02X %02X %02X  %02X %02X %02X %02X <[%02X] --- %s\n",
			l.Region(), l.Index, l.Data[0], l.Data[1], l.Data[2], l.Data[3],
			r.Data[0], r.Data[1], r.Data[2], r.Data[3], r.Index, r.Region())
	}
}

// plan prints every write as "[idx] current -> new".
func (p *printer) plan(plan srix.WritePlan) {
	for _, w := range plan.Writes {
		p.printf("%s\n", w)
	}
}

// otpState prints the counter-region words and reset budget.
func (p *printer) otpState(s srix.OTPState) {
	for _, w := range s.Words {
		p.printf("%08X\n", w)
	}
}

func (p *printer) otpBudget(s srix.OTPState) {
	p.printf("OTP resets available: %d\n", s.ResetsAvailable())
	p.printf("OTP resets remaining after this operation: %d\n", s.ResetsAfter())
	if s.Exhausted() {
		p.warnf("the counter reports no resets left, the tag may refuse the write")
	}
}
