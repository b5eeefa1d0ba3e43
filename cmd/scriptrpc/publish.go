package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"script-rpc/registry"
)

func newPublishCmd(a *app) *cobra.Command {
	var (
		ttl      int64
		withdraw bool
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish the configured endpoint to etcd",
		Long: `Publish endpoint_url under etcd.deployment so clients configured with only
the deployment name can resolve it. --ttl 0 publishes without a lease;
with a lease the entry lapses ttl seconds after this command exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(a.cfg.Etcd.Endpoints) == 0 || a.cfg.Etcd.Deployment == "" {
				return errors.New("etcd.endpoints and etcd.deployment must be set")
			}
			reg, err := registry.NewEtcdRegistry(a.cfg.Etcd.Endpoints)
			if err != nil {
				return err
			}
			defer reg.Close()

			deployment := a.cfg.Etcd.Deployment
			if withdraw {
				if err := reg.Withdraw(deployment); err != nil {
					return err
				}
				a.logger.Info("endpoint withdrawn", zap.String("deployment", deployment))
				return nil
			}

			if err := a.cfg.Client.Validate(); err != nil {
				return fmt.Errorf("refusing to publish: %w", err)
			}
			ep := registry.EndpointFrom(a.cfg.Client)
			if err := reg.Publish(deployment, ep, ttl); err != nil {
				return err
			}
			a.logger.Info("endpoint published",
				zap.String("deployment", deployment),
				zap.String("endpoint_url", ep.URL),
				zap.Int64("ttl", ttl),
			)
			return nil
		},
	}
	cmd.Flags().Int64Var(&ttl, "ttl", 0, "lease TTL in seconds, 0 for none")
	cmd.Flags().BoolVar(&withdraw, "withdraw", false, "remove the published endpoint instead")
	return cmd
}
