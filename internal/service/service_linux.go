//go:build linux

package service

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
)

const appName = "srix-agent"

// Started with the graphical session so PC/SC access is granted to the
// active user.
var desktopEntry = template.Must(template.New("desktop entry").Parse(`[Desktop Entry]
Type=Application
Name=SRIX Agent
Comment=Local SRIX4K/SRI512 tag service for web applications
Exec={{.}}
Terminal=false
Categories=Utility;
StartupNotify=false
X-GNOME-Autostart-enabled=true
`))

type linuxService struct {
	args []string
}

// New creates a manager that starts the current binary with args.
func New(args ...string) Service {
	return &linuxService{args: args}
}

func (s *linuxService) entryPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "autostart", appName+".desktop")
}

func (s *linuxService) Install() error {
	if s.IsInstalled() {
		return ErrAlreadyInstalled
	}

	execPath, err := executable()
	if err != nil {
		return err
	}
	return writeTemplate(s.entryPath(), desktopEntry, commandLine(execPath, s.args))
}

func (s *linuxService) Uninstall() error {
	if !s.IsInstalled() {
		return ErrNotInstalled
	}
	if err := os.Remove(s.entryPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove autostart entry: %w", err)
	}
	return nil
}

func (s *linuxService) IsInstalled() bool {
	_, err := os.Stat(s.entryPath())
	return err == nil
}

func (s *linuxService) Status() (string, error) {
	if !s.IsInstalled() {
		return "not installed", nil
	}

	// the entry starts "srix serve ..."
	if err := exec.Command("pgrep", "-f", "srix serve").Run(); err == nil {
		return "running (autostart)", nil
	}
	return "installed (autostart) but not running", nil
}
