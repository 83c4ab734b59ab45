package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/SimplyPrint/srix-agent/internal/srix"
)

// stdinPrompter previews plans on the terminal and reads Y/N answers.
type stdinPrompter struct {
	p  *printer
	in *bufio.Reader
}

func (s *stdinPrompter) Preview(pv srix.Preview) {
	if pv.OTP != nil {
		s.p.otpState(*pv.OTP)
		s.p.otpBudget(*pv.OTP)
	}
	s.p.plan(pv.Plan)
}

func (s *stdinPrompter) Confirm(question string) (bool, error) {
	s.p.printf("%s [Y/N] ", question)
	return readYes(s.in)
}

// readYes skips blank lines and accepts the first non-blank answer when it
// starts with Y or y. End of input counts as no.
func readYes(r *bufio.Reader) (bool, error) {
	for {
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("failed to read answer: %w", err)
		}

		answer := strings.TrimSpace(line)
		if answer != "" {
			return answer[0] == 'Y' || answer[0] == 'y', nil
		}
		if err != nil {
			return false, nil
		}
	}
}
