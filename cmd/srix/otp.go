package main

import (
	"github.com/spf13/cobra"

	"github.com/SimplyPrint/srix-agent/internal/srix"
)

func (a *app) otpResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "otp-reset",
		Short: "Erase the resettable OTP area and decrement the counter",
		Long: `Writes the decremented countdown counter to block 06, which makes the
tag erase blocks 00..04, then sets blocks 00..04 to FFFFFFFF. Every reset
consumes one unit of the counter.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, done, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			res, err := srix.ResetOTP(sess, a.prompter(), srix.Options{SkipConfirmation: a.yes})
			if err != nil {
				return err
			}
			if res.AlreadyReset {
				a.out.otpState(res.State)
				a.out.printf("OTP area already reset.\n")
			}
			return nil
		},
	}
}
