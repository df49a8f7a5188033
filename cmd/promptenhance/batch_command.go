package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/chriskillpack/promptenhance"
	"github.com/chriskillpack/promptenhance/enhancer"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var concurrent bool
	var outputPath string
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "batch [file]",
		Short: "Enhance one prompt per line from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open prompts: %w", err)
				}
				defer f.Close()
				in = f
			}
			prompts, err := readPrompts(in)
			if err != nil {
				return err
			}
			if len(prompts) == 0 {
				return fmt.Errorf("no prompts to enhance")
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var bar *progressbar.ProgressBar
			if cfg.UI.ShowProgress && isTerminal(os.Stderr) {
				bar = newProgressBar(len(prompts))
			}

			var (
				results   []string
				fallbacks = make([]bool, len(prompts))
				backend   string
				model     string
			)
			progress := func(i int, fallback bool) {
				fallbacks[i] = fallback
				if bar != nil {
					bar.Add(1)
				}
			}

			if concurrent {
				err = ctx.withPool(func(pool *promptenhance.Pool) error {
					pool.Progress = progress
					backend, model = pool.Client(0).Name(), pool.Client(0).Model()
					results = pool.EnhanceConcurrent(cmd.Context(), prompts)
					return nil
				})
			} else {
				err = ctx.withEnhancer(func(e enhancer.Enhancer) error {
					backend, model = e.Name(), e.Model()
					results = enhancer.Batch(cmd.Context(), e.Enhance, prompts, enhancer.BatchOptions{
						Delay:    enhancer.DefaultBatchDelay,
						Logger:   ctx.logger,
						Progress: progress,
					})
					return nil
				})
			}
			if err != nil {
				return err
			}
			if bar != nil {
				bar.Finish()
			}

			out := cmd.OutOrStdout()
			if outputPath != "" {
				f, err := os.Create(outputPath)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				out = f
			}
			if err := writeResults(out, results); err != nil {
				return err
			}

			failed := 0
			for _, fb := range fallbacks {
				if fb {
					failed++
				}
			}
			if failed > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d prompts could not be enhanced and were kept as is\n", failed, len(prompts))
			}

			if !noHistory {
				ctx.recordHistory(cmd.Context(), conversions(backend, model, prompts, results, fallbacks))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&concurrent, "concurrent", false, "Spread prompts over the client pool instead of one at a time")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write results to a file instead of stdout")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record the conversions")
	return cmd
}

// readPrompts returns the non-blank lines of r.
func readPrompts(r io.Reader) ([]string, error) {
	var prompts []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			prompts = append(prompts, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	return prompts, nil
}

func writeResults(w io.Writer, results []string) error {
	bw := bufio.NewWriter(w)
	for _, r := range results {
		if _, err := fmt.Fprintln(bw, r); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func conversions(backend, model string, prompts, results []string, fallbacks []bool) []*promptenhance.Conversion {
	convs := make([]*promptenhance.Conversion, len(prompts))
	for i := range prompts {
		convs[i] = &promptenhance.Conversion{
			RequestID: uuid.NewString(),
			Backend:   backend,
			Model:     model,
			Original:  prompts[i],
			Enhanced:  results[i],
			Fallback:  fallbacks[i],
		}
	}
	return convs
}

func newProgressBar(n int) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		n,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Enhancing prompts"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
