package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chriskillpack/promptenhance"
	"github.com/chriskillpack/promptenhance/enhancer"
	"github.com/chriskillpack/promptenhance/internal/logging"
)

func newEnhanceCommand(ctx *commandContext) *cobra.Command {
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "enhance <prompt>",
		Short: "Enhance a single prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				return fmt.Errorf("prompt is empty")
			}

			return ctx.withEnhancer(func(e enhancer.Enhancer) error {
				id := uuid.NewString()
				reqCtx := logging.WithRequestID(cmd.Context(), id)

				enhanced, err := e.Enhance(reqCtx, prompt)
				if err != nil {
					if kind := enhancer.KindName(err); kind != "" {
						return fmt.Errorf("enhance failed (%s): %w", kind, err)
					}
					return fmt.Errorf("enhance failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), enhanced)

				if !noHistory {
					ctx.recordHistory(cmd.Context(), []*promptenhance.Conversion{{
						RequestID: id,
						Backend:   e.Name(),
						Model:     e.Model(),
						Original:  prompt,
						Enhanced:  enhanced,
					}})
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record the conversion")
	return cmd
}
