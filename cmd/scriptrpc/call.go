package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"script-rpc/client"
	"script-rpc/codec"
)

func newCallCmd(a *app) *cobra.Command {
	var surface string

	cmd := &cobra.Command{
		Use:   "call <function> [arg...]",
		Short: "Call a backend function",
		Long: `Call a backend function and print its JSON result.

Each argument is parsed as JSON; anything that is not valid JSON is sent as a
string, so 'call greet bob' and 'call greet "\"bob\""' are the same call.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			ns := client.NewNamespaces(c)
			script := ns.Google
			switch surface {
			case "google":
			case "api":
				script = ns.API
			default:
				return fmt.Errorf("unknown surface %q (want google or api)", surface)
			}

			out := cmd.OutOrStdout()
			var failure error
			call := script.Run().
				WithSuccessHandler(func(res json.RawMessage) {
					failure = printJSON(out, res)
				}).
				WithFailureHandler(func(err error) {
					failure = err
				}).
				Call(args[0], parseArgs(args[1:])...)

			<-call.Done
			return failure
		},
	}
	cmd.Flags().StringVar(&surface, "surface", "google", "call surface: google or api")
	return cmd
}

func parseArgs(args []string) []any {
	parsed := make([]any, 0, len(args))
	for _, arg := range args {
		var v any
		if err := codec.Default.Decode([]byte(arg), &v); err != nil {
			parsed = append(parsed, arg)
			continue
		}
		parsed = append(parsed, v)
	}
	return parsed
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		buf.Reset()
		buf.Write(raw)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
