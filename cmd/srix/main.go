// Command srix reads, dumps, restores and resets SRIX4K/SRI512 tags, and
// serves the same operations to browsers as a local agent.
package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/SimplyPrint/srix-agent/internal/api"
	"github.com/SimplyPrint/srix-agent/internal/config"
	"github.com/SimplyPrint/srix-agent/internal/core"
	"github.com/SimplyPrint/srix-agent/internal/logging"
	"github.com/SimplyPrint/srix-agent/internal/settings"
	"github.com/SimplyPrint/srix-agent/internal/srix"
)

const defaultPollInterval = 250 * time.Millisecond

// app carries the state shared by every subcommand.
type app struct {
	verbose    bool
	tagFlag    string
	configPath string
	yes        bool

	cfg *config.Config
	log *logging.Logger

	// open connects to the configured reader. Replaced in tests.
	open func() (api.Device, error)

	out    *printer
	errOut *printer
	in     *bufio.Reader
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{
		out:    newPrinter(out),
		errOut: newPrinter(errOut),
		in:     bufio.NewReader(in),
	}
}

func main() {
	a := newApp(os.Stdin, os.Stdout, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := a.rootCommand().ExecuteContext(ctx)
	stop()

	code := a.exit(err)
	logging.FlushSentry(2 * time.Second)
	os.Exit(code)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "srix",
		Short: "SRIX4K/SRI512 tag tool",
		Long: `srix reads, dumps, restores and resets the OTP area of ST SRIX4K and
SRI512 tags through a PC/SC reader or a PN532 on a serial port.

"srix serve" exposes the same operations over HTTP and WebSocket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "print debugging data")
	pf.StringVarP(&a.tagFlag, "type", "t", "", "tag type x4k|512 (default from config, then settings)")
	pf.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	pf.BoolVarP(&a.yes, "yes", "y", false, "answer YES to all questions")

	root.AddCommand(
		a.readCommand(),
		a.viewCommand(),
		a.restoreCommand(),
		a.otpResetCommand(),
		a.serveCommand(),
		a.autostartCommand(),
		a.versionCommand(),
	)
	return root
}

// setup loads config and settings and installs the process logger.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	a.cfg = cfg

	if _, err := settings.Load(); err != nil {
		a.errOut.warnf("failed to load settings: %v", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	if a.verbose {
		level = logging.LevelDebug
	}
	a.log = logging.Init(cfg.Logging.Buffer, level)
	if a.verbose {
		a.log.WithConsole(a.errOut.w, logging.LevelDebug)
	}

	if logging.InitSentry(api.Version, settings.IsCrashReportingEnabled()) {
		tagType, _ := a.tagType()
		logging.SetReporterTags(a.cfg.Transport.Kind, string(tagType))
	}

	if a.open == nil {
		a.open = func() (api.Device, error) {
			r, err := core.Open(a.cfg.Transport, a.log)
			if err != nil {
				return nil, err
			}
			return r, nil
		}
	}
	return nil
}

// tagType resolves -t, then tag.type from config, then the saved default.
func (a *app) tagType() (srix.TagType, error) {
	if a.tagFlag != "" {
		return srix.ParseTagType(a.tagFlag)
	}
	if a.cfg != nil && a.cfg.Tag.Type != "" {
		return srix.ParseTagType(a.cfg.Tag.Type)
	}
	return settings.TagType(), nil
}

func (a *app) pollInterval() time.Duration {
	if a.cfg == nil || a.cfg.Transport.PollIntervalMs <= 0 {
		return defaultPollInterval
	}
	return time.Duration(a.cfg.Transport.PollIntervalMs) * time.Millisecond
}

// connect opens the reader and blocks until a tag is selected or ctx ends.
// The returned func closes the reader.
func (a *app) connect(ctx context.Context) (*srix.Session, func(), error) {
	dev, err := a.open()
	if err != nil {
		return nil, nil, err
	}

	a.out.printf("Waiting for tag...\n")
	if _, err := core.WaitForTag(ctx, dev, a.pollInterval()); err != nil {
		dev.Close()
		return nil, nil, err
	}

	closeFn := func() {
		if err := dev.Close(); err != nil {
			a.log.Warn(logging.CatTransport, "Failed to close reader", map[string]any{
				"error": err.Error(),
			})
		}
	}
	return srix.NewSession(dev, a.log), closeFn, nil
}

func (a *app) prompter() *stdinPrompter {
	return &stdinPrompter{p: a.out, in: a.in}
}

// exit reports err and returns the process exit code. A declined prompt
// is a clean exit.
func (a *app) exit(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, srix.ErrUserDeclined):
		a.out.printf("Exiting...\n")
		return 0
	case errors.Is(err, context.Canceled):
		a.errOut.errorf("interrupted")
		return 1
	}

	// missing readers and unreadable dump files are not bugs
	if !errors.Is(err, srix.ErrTransportUnavailable) && !srix.IsStorageError(err) {
		logging.CaptureError(err, "cli", nil)
	}
	a.errOut.errorf("%v", err)
	return 1
}
