package main

import (
	"github.com/spf13/cobra"

	"github.com/SimplyPrint/srix-agent/internal/dump"
)

func (a *app) viewCommand() *cobra.Command {
	var columns int

	cmd := &cobra.Command{
		Use:   "view <dump>",
		Short: "Print a saved dump without a reader",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			t, err := a.tagType()
			if err != nil {
				return err
			}
			store, err := dump.LoadAny(args[0], t)
			if err != nil {
				return err
			}

			if columns != 1 && columns != 2 {
				a.errOut.warnf("Invalid number of columns. Input is %d, but must be either 1 or 2.", columns)
				columns = 1
			}
			a.out.dumpColumns(store, columns)
			return nil
		},
	}

	cmd.Flags().IntVarP(&columns, "columns", "c", 1, "print on one or two columns")
	return cmd
}
