package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"metasearch/internal/usecase/scheduling"
)

func newCheckCmd(root *rootOptions) *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Query every engine once with a canned query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root.configPath)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if query != "" {
				a.cfg.Checker.Query = query
			}
			results := a.newChecker().Run(ctx)
			return printCheck(cmd.OutOrStdout(), a.cfg.Checker.Query, results)
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "Query to check with (default from checker.query)")
	return cmd
}

// printCheck reports check results and fails when any engine failed.
func printCheck(w io.Writer, query string, results []scheduling.CheckResult) error {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("metasearch check (query %q)", query)))
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, fail int
	for _, r := range results {
		if r.OK {
			pass++
			fmt.Fprintf(w, "  %s %s: %d results in %s\n", passStyle.Render("[PASS]"), r.Engine, r.Results, r.Duration.Round(time.Millisecond))
			continue
		}
		fail++
		detail := r.Error
		if r.Code != "" {
			detail = fmt.Sprintf("%s (%s)", r.Error, r.Code)
		}
		fmt.Fprintf(w, "  %s %s: %s\n", errorStyle.Render("[FAIL]"), r.Engine, detail)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d failed\n", pass, fail)

	if fail > 0 {
		return fmt.Errorf("%d engine(s) failed", fail)
	}
	return nil
}
