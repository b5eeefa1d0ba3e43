package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"script-rpc/client"
	"script-rpc/config"
	"script-rpc/logging"
	"script-rpc/registry"
)

// globalFlags 全局标志，覆盖配置文件中的同名项
type globalFlags struct {
	ConfigFile string
	Endpoint   string
	Timeout    time.Duration
	Debug      bool
}

// app carries what PersistentPreRunE prepared for the subcommands.
type app struct {
	flags  globalFlags
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "scriptrpc",
		Short: "Call script backend functions over HTTP",
		Long: `scriptrpc calls functions exposed by a script web-app deployment.

Examples:
  scriptrpc call getItems 42
  scriptrpc image file123 --out photo.png
  scriptrpc serve --addr :8080
  scriptrpc publish --ttl 0`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.ConfigFile, "config", "c", "", "config file (yaml)")
	pf.StringVar(&a.flags.Endpoint, "endpoint", "", "deployment URL, overrides endpoint_url")
	pf.DurationVar(&a.flags.Timeout, "timeout", 0, "per-call timeout, overrides timeout")
	pf.BoolVar(&a.flags.Debug, "debug", false, "log every call")

	root.AddCommand(
		newCallCmd(a),
		newImageCmd(a),
		newServeCmd(a),
		newPublishCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flags.ConfigFile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		cfg.Client.EndpointURL = a.flags.Endpoint
	}
	if flags.Changed("timeout") {
		cfg.Client.Timeout = a.flags.Timeout
	}
	if flags.Changed("debug") {
		cfg.Client.Debug = a.flags.Debug
	}
	if cfg.Client.Debug {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// clientConfig returns the configured endpoint, or resolves it from etcd when
// none is configured and a deployment name is.
func (a *app) clientConfig() (config.ClientConfig, error) {
	cfg := a.cfg.Client
	if cfg.EndpointURL != "" || len(a.cfg.Etcd.Endpoints) == 0 || a.cfg.Etcd.Deployment == "" {
		return cfg, nil
	}

	reg, err := registry.NewEtcdRegistry(a.cfg.Etcd.Endpoints)
	if err != nil {
		return cfg, err
	}
	defer reg.Close()

	ep, err := reg.Resolve(a.cfg.Etcd.Deployment)
	if err != nil {
		if errors.Is(err, registry.ErrNotPublished) {
			return cfg, fmt.Errorf("deployment %q has no published endpoint", a.cfg.Etcd.Deployment)
		}
		return cfg, err
	}
	resolved := ep.ClientConfig()
	resolved.Debug = resolved.Debug || cfg.Debug
	if a.flags.Timeout > 0 {
		resolved.Timeout = a.flags.Timeout
	}
	a.logger.Debug("endpoint resolved",
		zap.String("deployment", a.cfg.Etcd.Deployment),
		zap.String("endpoint_url", resolved.EndpointURL),
	)
	return resolved, nil
}

func (a *app) newClient() (*client.Client, error) {
	cfg, err := a.clientConfig()
	if err != nil {
		return nil, err
	}
	return client.New(cfg,
		client.WithLogger(a.logger),
		client.WithRateLimit(a.cfg.RateLimit.RPS, a.cfg.RateLimit.Burst),
	), nil
}
