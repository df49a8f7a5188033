package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chriskillpack/promptenhance/enhancer"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Test the connection to the configured server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withEnhancer(func(e enhancer.Enhancer) error {
				ok := e.TestConnection(cmd.Context())

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Endpoint:  %s\n", cfg.Ollama.BaseURL())
				fmt.Fprintf(out, "Backend:   %s\n", e.Name())
				fmt.Fprintf(out, "Model:     %s\n", e.Model())
				fmt.Fprintf(out, "Reachable: %s\n", yesNo(ok))
				if !ok {
					return fmt.Errorf("server at %s is not responding", cfg.Ollama.BaseURL())
				}
				return nil
			})
		},
	}
}
