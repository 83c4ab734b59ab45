package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/SimplyPrint/srix-agent/internal/api"
	"github.com/SimplyPrint/srix-agent/internal/updater"
)

func (a *app) versionCommand() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// no config or reader needed
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.out.printf("srix %s\n", api.Version)
			a.out.printf("Build time: %s\n", api.BuildTime)
			a.out.printf("Git commit: %s\n", api.GitCommit)
			if check {
				a.printUpdate(cmd.Context(), updater.NewChecker(api.Version, ""))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "check GitHub for a newer release")
	return cmd
}

func (a *app) printUpdate(ctx context.Context, c *updater.Checker) {
	ctx, cancel := context.WithTimeout(ctx, updater.RequestTimeout)
	defer cancel()

	info := c.Check(ctx, true)
	switch {
	case info.Error != "":
		a.errOut.warnf("update check failed: %s", info.Error)
	case info.Available:
		a.out.printf("Update available: %s (%s)\n", info.LatestVersion, info.ReleaseURL)
		if info.DownloadURL != "" {
			a.out.printf("Download: %s\n", info.DownloadURL)
		}
	case info.IsDev:
		a.out.printf("Development build, latest release is %s\n", info.LatestVersion)
	default:
		a.out.printf("Up to date (latest release %s, checked %s)\n", info.LatestVersion, info.CheckedAt.Format(time.RFC3339))
	}
}
