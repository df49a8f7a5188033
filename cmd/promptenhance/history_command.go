package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chriskillpack/promptenhance"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent conversions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be positive")
			}
			return ctx.withHistory(cmd.Context(), func(h *promptenhance.History) error {
				convs, err := h.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
				total, err := h.Count(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(convs) == 0 {
					fmt.Fprintln(out, "No conversions recorded")
					return nil
				}
				fmt.Fprintln(out, renderHistory(convs))
				fmt.Fprintf(out, "Showing %d of %d\n", len(convs), total)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of conversions to show")
	return cmd
}

func renderHistory(convs []*promptenhance.Conversion) string {
	headers := []string{"ID", "When", "Backend", "Model", "Original", "Enhanced", "Fallback"}
	rows := make([][]string, 0, len(convs))
	for _, c := range convs {
		rows = append(rows, []string{
			strconv.Itoa(c.Id),
			c.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			c.Backend,
			c.Model,
			truncate(c.Original, 40),
			truncate(c.Enhanced, 60),
			yesNo(c.Fallback),
		})
	}
	return renderTable(headers, rows, []columnAlignment{alignRight})
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
