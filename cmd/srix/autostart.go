package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/SimplyPrint/srix-agent/internal/service"
)

func (a *app) autostartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autostart",
		Short: "Start the agent with the user session",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "install",
			Short: "Register \"srix serve\" to start at login",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				if err := a.autostartService().Install(); err != nil {
					return err
				}
				a.out.printf("Auto-start installed successfully\n")
				return nil
			},
		},
		&cobra.Command{
			Use:   "uninstall",
			Short: "Remove the login entry",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				if err := a.autostartService().Uninstall(); err != nil {
					return err
				}
				a.out.printf("Auto-start removed successfully\n")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show whether the agent is registered and running",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				status, err := a.autostartService().Status()
				if err != nil && !errors.Is(err, service.ErrUnsupported) {
					return err
				}
				a.out.printf("%s\n", status)
				return nil
			},
		},
	)
	return cmd
}

// autostartService starts "srix serve" with the same config file.
func (a *app) autostartService() service.Service {
	args := []string{"serve"}
	if a.configPath != "" {
		args = append(args, "--config", a.configPath)
	}
	return service.New(args...)
}
