//go:build darwin

package service

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"text/template"
)

const launchAgentLabel = "com.simplyprint.srix-agent"

var launchAgentPlist = template.Must(template.New("launch agent").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
{{- range .Command}}
        <string>{{.}}</string>
{{- end}}
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>StandardErrorPath</key>
    <string>{{.LogDir}}/srix-agent.err</string>
</dict>
</plist>
`))

// "PID" = 1234; in launchctl list <label> output
var launchctlPID = regexp.MustCompile(`"PID"\s*=\s*(\d+);`)

type darwinService struct {
	args []string
}

// New creates a manager that starts the current binary with args.
func New(args ...string) Service {
	return &darwinService{args: args}
}

func (s *darwinService) plistPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "LaunchAgents", launchAgentLabel+".plist")
}

func guiDomain() string {
	return "gui/" + strconv.Itoa(os.Getuid())
}

func (s *darwinService) Install() error {
	if s.IsInstalled() {
		return ErrAlreadyInstalled
	}

	execPath, err := executable()
	if err != nil {
		return err
	}
	home, _ := os.UserHomeDir()
	logDir := filepath.Join(home, "Library", "Logs", "SRIX-Agent")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	data := struct {
		Label   string
		Command []string
		LogDir  string
	}{launchAgentLabel, append([]string{execPath}, s.args...), logDir}
	if err := writeTemplate(s.plistPath(), launchAgentPlist, data); err != nil {
		return err
	}

	if out, err := exec.Command("launchctl", "bootstrap", guiDomain(), s.plistPath()).CombinedOutput(); err != nil {
		return fmt.Errorf("failed to load launch agent: %s: %w", out, err)
	}
	return nil
}

func (s *darwinService) Uninstall() error {
	if !s.IsInstalled() {
		return ErrNotInstalled
	}

	// fails when the agent is not loaded
	_ = exec.Command("launchctl", "bootout", guiDomain()+"/"+launchAgentLabel).Run()

	if err := os.Remove(s.plistPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove launch agent: %w", err)
	}
	return nil
}

func (s *darwinService) IsInstalled() bool {
	_, err := os.Stat(s.plistPath())
	return err == nil
}

func (s *darwinService) Status() (string, error) {
	if !s.IsInstalled() {
		return "not installed", nil
	}

	out, err := exec.Command("launchctl", "list", launchAgentLabel).Output()
	if err != nil {
		return "installed but not loaded", nil
	}
	if m := launchctlPID.FindSubmatch(out); m != nil {
		return "running (pid " + string(m[1]) + ")", nil
	}
	return "loaded but not running", nil
}
