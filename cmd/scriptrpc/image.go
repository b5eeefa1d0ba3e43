package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newImageCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "image <id>",
		Short: "Fetch a binary resource by identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			if out == "" {
				raw, err := c.FetchBinary(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), raw)
			}

			img, data, err := c.FetchImage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes (%s) to %s\n", len(data), img.MimeType, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "decode the payload and write it to this file")
	return cmd
}
