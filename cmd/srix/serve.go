package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/SimplyPrint/srix-agent/internal/api"
	"github.com/SimplyPrint/srix-agent/internal/config"
	"github.com/SimplyPrint/srix-agent/internal/core"
	"github.com/SimplyPrint/srix-agent/internal/logging"
)

const shutdownTimeout = 5 * time.Second

func (a *app) serveCommand() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP and WebSocket agent",
		Long: fmt.Sprintf(`Serves the tag operations on http://%s:%d/v1 and ws://%s:%d/v1/ws.

Environment variables:
  SRIX_AGENT_HOST    Host to bind to
  SRIX_AGENT_PORT    Port to listen on`,
			config.DefaultHost, config.DefaultPort, config.DefaultHost, config.DefaultPort),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if host != "" {
				a.cfg.Server.Host = host
			}
			if port != 0 {
				a.cfg.Server.Port = port
			}

			ln, err := net.Listen("tcp", a.cfg.Address())
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", a.cfg.Address(), err)
			}
			return a.serve(cmd.Context(), ln)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "host to bind to (overrides config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

// listReaders enumerates PC/SC readers or serial ports, whichever the
// configured transport uses.
func (a *app) listReaders() ([]string, error) {
	if a.cfg.Transport.Kind == config.TransportUART {
		return core.ListPorts()
	}
	return core.ListReaders(core.DefaultContextFactory{})
}

// newMux wires the tag service into the HTTP and WebSocket API.
func (a *app) newMux() *http.ServeMux {
	svc := api.NewSessionService(a.open, a.listReaders, a.log)
	svc.PollInterval = a.pollInterval()
	svc.OnWrite = api.BroadcastWrite

	mux := api.NewMux(svc)
	mux.HandleFunc("/v1/ws", api.InitWebSocket())
	return mux
}

// serve runs the agent on ln until ctx ends or /v1/shutdown is called.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	defer logging.RecoverAndLog("serve", true)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	api.SetShutdownHandler(cancel)

	srv := &http.Server{
		Handler:           a.newMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	addr := ln.Addr().String()
	a.log.Info(logging.CatSystem, "SRIX agent starting", map[string]any{
		"version": api.Version,
		"address": addr,
	})
	a.out.printf("srix-agent %s listening on http://%s\n", api.Version, addr)
	a.out.printf("WebSocket available at ws://%s/v1/ws\n", addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	a.log.Info(logging.CatSystem, "Shutting down", nil)
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}
