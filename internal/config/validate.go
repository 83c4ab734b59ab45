package config

import (
	"fmt"

	"github.com/SimplyPrint/srix-agent/internal/logging"
)

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errNilConfig
	}

	// ---- transport ----

	switch cfg.Transport.Kind {
	case TransportPCSC:
	case TransportUART:
		if cfg.Transport.Port == "" {
			return fmt.Errorf("transport %q requires a port", cfg.Transport.Kind)
		}
		if cfg.Transport.Baud <= 0 {
			return fmt.Errorf("transport baud must be positive, got %d", cfg.Transport.Baud)
		}
	default:
		return fmt.Errorf("unknown transport kind %q (want %q or %q)",
			cfg.Transport.Kind, TransportPCSC, TransportUART)
	}

	if cfg.Transport.PollIntervalMs < 0 {
		return fmt.Errorf("transport poll_interval_ms must not be negative, got %d",
			cfg.Transport.PollIntervalMs)
	}

	// ---- tag ----

	switch cfg.Tag.Type {
	case "", "x4k", "512":
	default:
		return fmt.Errorf("unknown tag type %q (want x4k or 512)", cfg.Tag.Type)
	}

	// ---- server ----

	if cfg.Server.Host == "" {
		return fmt.Errorf("server host must not be empty")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", cfg.Server.Port)
	}

	// ---- logging ----

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if cfg.Logging.Buffer < 0 {
		return fmt.Errorf("logging buffer must not be negative, got %d", cfg.Logging.Buffer)
	}

	return nil
}
