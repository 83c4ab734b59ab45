package main

import (
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/SimplyPrint/srix-agent/internal/dump"
	"github.com/SimplyPrint/srix-agent/internal/logging"
	"github.com/SimplyPrint/srix-agent/internal/settings"
	"github.com/SimplyPrint/srix-agent/internal/srix"
)

type readOptions struct {
	uid     bool
	system  bool
	all     bool
	reverse bool
	copyUID bool
}

func (a *app) readCommand() *cobra.Command {
	var opts readOptions

	cmd := &cobra.Command{
		Use:   "read [dump.bin|dump.cbor]",
		Short: "Print every block of the tag and optionally save a dump",
		Long: `Reads the whole EEPROM and prints each block with its region.
When a path is given the image is written there: a .cbor path gets a
snapshot with the UID and system block, anything else a raw dump.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return a.read(cmd, path, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&opts.uid, "uid", "u", false, "print UID")
	f.BoolVarP(&opts.system, "system", "s", false, "print system block")
	f.BoolVarP(&opts.all, "all", "a", false, "enable -s and -u together")
	f.BoolVarP(&opts.reverse, "reverse", "r", false, "fix read direction (default from settings)")
	f.BoolVar(&opts.copyUID, "copy-uid", false, "copy the UID to the clipboard")
	return cmd
}

func (a *app) read(cmd *cobra.Command, path string, opts readOptions) error {
	t, err := a.tagType()
	if err != nil {
		return err
	}
	if opts.all {
		opts.uid, opts.system = true, true
	}
	if !cmd.Flags().Changed("reverse") {
		opts.reverse = settings.Get().FixReadDirection
	}
	snapshot := path != "" && dump.IsSnapshot(path)

	sess, done, err := a.connect(cmd.Context())
	if err != nil {
		return err
	}
	defer done()

	var id *srix.TagIdentity
	if opts.uid || opts.copyUID || snapshot {
		got, err := sess.GetUID()
		if err != nil {
			return err
		}
		id = &got
	}
	if opts.uid {
		a.out.identity(*id)
	}
	if opts.copyUID {
		if err := clipboard.WriteAll(id.String()); err != nil {
			a.errOut.warnf("failed to copy UID to the clipboard: %v", err)
		} else {
			a.log.Info(logging.CatSystem, "UID copied to clipboard", map[string]any{"uid": id.String()})
		}
	}

	store, err := sess.ReadAll(t)
	if err != nil {
		return err
	}
	for _, b := range store.Blocks() {
		a.out.block(b, opts.reverse)
	}

	var sys *srix.SystemBlock
	if opts.system || snapshot {
		sb, err := sess.ReadSystemBlock()
		if err != nil {
			return err
		}
		sys = &sb
		if opts.system {
			a.out.systemBlock(sb, opts.reverse)
		}
	}

	if path == "" {
		return nil
	}
	if dump.Exists(path) && !a.yes {
		a.out.printf("\"%s\" already exists.\n", path)
		ok, err := a.prompter().Confirm("Do you want to overwrite it?")
		if err != nil {
			return err
		}
		if !ok {
			return srix.ErrUserDeclined
		}
	}

	if err := dump.SaveAny(path, store, id, sys, time.Now()); err != nil {
		return err
	}
	a.out.printf("Written dump to \"%s\".\n", path)
	return nil
}
