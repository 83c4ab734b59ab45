package main

import (
	"github.com/spf13/cobra"

	"github.com/SimplyPrint/srix-agent/internal/dump"
	"github.com/SimplyPrint/srix-agent/internal/srix"
)

func (a *app) restoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <dump>",
		Short: "Write a saved dump back to the tag",
		Long: `Compares the dump with the tag from block 07 onward, prints every
difference and, once confirmed, writes the differing blocks. Blocks 00..06
are left to otp-reset.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.tagType()
			if err != nil {
				return err
			}
			want, err := dump.LoadAny(args[0], t)
			if err != nil {
				return err
			}

			sess, done, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			res, err := srix.Restore(sess, want, a.prompter(), srix.Options{SkipConfirmation: a.yes})
			if err != nil {
				return err
			}
			if res.AlreadyRestored {
				a.out.printf("Tag already restored.\n")
			}
			return nil
		},
	}
}
