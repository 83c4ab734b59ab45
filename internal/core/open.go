package core

import (
	"fmt"

	"github.com/SimplyPrint/srix-agent/internal/config"
	"github.com/SimplyPrint/srix-agent/internal/logging"
)

// Open connects to the reader described by cfg.
func Open(cfg config.TransportConfig, log *logging.Logger) (*Reader, error) {
	return openWith(DefaultContextFactory{}, cfg, log)
}

func openWith(factory ContextFactory, cfg config.TransportConfig, log *logging.Logger) (*Reader, error) {
	switch cfg.Kind {
	case config.TransportPCSC, "":
		link, err := OpenPCSC(factory, cfg.Reader)
		if err != nil {
			return nil, err
		}
		log.Info(logging.CatTransport, "NFC reader opened", map[string]any{
			"reader": link.Name(),
			"direct": link.direct,
		})
		return NewReader(link, link.Name(), log), nil

	case config.TransportUART:
		link, err := OpenUART(cfg.Port, cfg.Baud)
		if err != nil {
			return nil, err
		}
		log.Info(logging.CatTransport, "NFC reader opened", map[string]any{
			"port": cfg.Port,
			"baud": cfg.Baud,
		})
		return NewReader(link, link.Name(), log), nil
	}
	return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
}
