package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/callkit/config"
	"github.com/vinayprograms/callkit/credentials"
	"github.com/vinayprograms/callkit/shutdown"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(viper.New(), opts.configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, nil)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// serve runs the server until ctx ends or a component fails, then shuts
// everything down in phases. If ready is non-nil it receives the bound
// address once the listener is open.
func serve(ctx context.Context, cfg *config.Config, ready chan<- net.Addr) error {
	log := newLogger(cfg)
	gin.SetMode(gin.ReleaseMode)

	creds, credsPath, err := credentials.Load()
	if err != nil {
		return err
	}
	if credsPath != "" {
		log.Info("credentials_loaded", map[string]interface{}{"path": credsPath})
	}

	a, err := wireApp(ctx, cfg, creds, log)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		a.release()
		return err
	}

	httpServer := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	coord := shutdown.NewCoordinator(log)
	coord.Register("http", shutdown.PhaseHTTP, func(ctx context.Context) error {
		a.server.CloseStreams()
		return httpServer.Shutdown(ctx)
	})
	if a.relay != nil {
		coord.Register("nats_relay", shutdown.PhaseRelays, func(context.Context) error {
			return a.relay.Close()
		})
	}
	coord.Register("event_bus", shutdown.PhaseBus, func(context.Context) error {
		return a.events.Close()
	})
	coord.Register("agents", shutdown.PhaseStorage, func(context.Context) error {
		a.agents.Close()
		return nil
	})
	coord.Register("transcript", shutdown.PhaseStorage, func(context.Context) error {
		return a.transcript.Close()
	})
	coord.Register("providers", shutdown.PhaseStorage, func(context.Context) error {
		return a.catalog.Close()
	})
	coord.Register("rate_limiter", shutdown.PhaseStorage, func(context.Context) error {
		return a.limiter.Close()
	})
	coord.Register("tracing", shutdown.PhaseStorage, a.tracing.Shutdown)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server_listening", map[string]interface{}{
			"addr":      ln.Addr().String(),
			"version":   Version,
			"providers": a.catalog.Names(),
		})
		if ready != nil {
			ready <- ln.Addr()
		}
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if a.relay != nil {
		g.Go(func() error {
			return a.relay.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown_started", nil)
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return coord.Shutdown(sctx)
	})

	return g.Wait()
}
