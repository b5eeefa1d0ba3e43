package main

import (
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"script-rpc/middleware"
	"script-rpc/registry"
	"script-rpc/server"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr      string
		publicURL string
		imageDir  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a demo backend",
		Long: `Run a backend exposing the demo functions (echo, add, getItems) and, with
--images, serving files from a directory as binary resources.

When etcd.endpoints and etcd.deployment are configured the backend publishes
--public-url (default http://<addr>/exec) and withdraws it on shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			if publicURL == "" {
				publicURL = "http://" + listener.Addr().String() + "/exec"
			}

			opts := []server.Option{server.WithLogger(a.logger)}
			if imageDir != "" {
				opts = append(opts, server.WithImageSource(dirImages(imageDir)))
			}
			if len(a.cfg.Etcd.Endpoints) > 0 && a.cfg.Etcd.Deployment != "" {
				reg, err := registry.NewEtcdRegistry(a.cfg.Etcd.Endpoints)
				if err != nil {
					listener.Close()
					return err
				}
				defer reg.Close()
				ep := registry.EndpointFrom(a.cfg.Client)
				ep.URL = publicURL
				opts = append(opts, server.WithRegistry(reg, a.cfg.Etcd.Deployment, ep))
			}

			svr := server.NewServer(opts...)
			if err := svr.Register(&Demo{}); err != nil {
				listener.Close()
				return err
			}
			svr.Use(middleware.LoggingMiddleware(a.logger))
			if a.cfg.RateLimit.RPS > 0 {
				svr.Use(middleware.RateLimitMiddleware(a.cfg.RateLimit.RPS, max(a.cfg.RateLimit.Burst, 1)))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- svr.ServeListener(listener) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			a.logger.Info("shutting down", zap.String("addr", listener.Addr().String()))
			if err := svr.Shutdown(5 * time.Second); err != nil {
				return err
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&publicURL, "public-url", "", "URL clients use to reach this backend")
	cmd.Flags().StringVar(&imageDir, "images", "", "directory served through ?img=<file name>")
	return cmd
}
