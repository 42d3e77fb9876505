package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"metasearch/internal/adapter/gateway"
	"metasearch/internal/domain"
	"metasearch/internal/usecase/search"
)

type searchOptions struct {
	engines    []string
	categories []string
	timeout    time.Duration
	pageNo     int
	lang       string
	timeRange  string
	asJSON     bool
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	opts := &searchOptions{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run one search and print the merged results",
		Example: `  metasearch search golang generics
  metasearch search --engines ddg,wikipedia --timeout 2s "rate limiting"
  metasearch search '!!gh cobra'
  metasearch search --json random uuid`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root.configPath)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			qopts := a.queryOptions()
			qopts.Engines = opts.engines
			qopts.Categories = opts.categories
			qopts.TimeRange = opts.timeRange
			if opts.pageNo > 0 {
				qopts.PageNo = opts.pageNo
			}
			if opts.lang != "" {
				qopts.Lang = opts.lang
			}
			if opts.timeout > 0 {
				limit := opts.timeout
				qopts.TimeoutLimit = &limit
			}

			q, err := search.ParseQuery(strings.Join(args, " "), qopts, a.engines)
			if err != nil {
				return err
			}

			s := search.NewWithPlugins(q, a.searchDeps(), a.plugins.Ordered(), &domain.SearchRequest{
				RemoteAddr: "127.0.0.1",
				UserAgent:  "metasearch-cli",
			})
			c := s.Run(ctx)
			resp := gateway.NewSearchResponse(q.Query, c, s.ActualTimeout())

			if opts.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printSearch(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.engines, "engines", nil, "Engines to query, by name or shortcut (comma separated)")
	f.StringSliceVar(&opts.categories, "categories", nil, "Categories to query (comma separated)")
	f.DurationVar(&opts.timeout, "timeout", 0, "Time limit for the whole search, e.g. 2s")
	f.IntVar(&opts.pageNo, "page", 1, "Result page")
	f.StringVar(&opts.lang, "lang", "", "Search language, e.g. en or de-CH")
	f.StringVar(&opts.timeRange, "time-range", "", "Restrict results to day, week, month or year")
	f.BoolVar(&opts.asJSON, "json", false, "Print the response as JSON")
	return cmd
}

// printSearch writes a search response for the terminal.
func printSearch(w io.Writer, resp gateway.SearchResponse) {
	if resp.RedirectURL != "" {
		fmt.Fprintf(w, "%s %s\n", headerStyle.Render("redirect:"), urlStyle.Render(resp.RedirectURL))
		return
	}

	for _, a := range resp.Answers {
		fmt.Fprintln(w, answerStyle.Render(a.Answer))
	}
	for _, ib := range resp.Infoboxes {
		fmt.Fprintln(w, titleStyle.Render(ib.Title))
		if ib.Content != "" {
			fmt.Fprintln(w, contentStyle.Render(ib.Content))
		}
		fmt.Fprintln(w)
	}

	for i, r := range resp.Results {
		fmt.Fprintf(w, "%s %s\n", metaStyle.Render(fmt.Sprintf("%2d.", i+1)), titleStyle.Render(r.Title))
		fmt.Fprintf(w, "    %s\n", urlStyle.Render(r.URL))
		if r.Content != "" {
			fmt.Fprintf(w, "    %s\n", contentStyle.Render(r.Content))
		}
		fmt.Fprintf(w, "    %s\n\n", metaStyle.Render(fmt.Sprintf("%s  score %.2f", strings.Join(r.Engines, ", "), r.Score)))
	}

	if len(resp.Suggestions) > 0 {
		fmt.Fprintf(w, "%s %s\n", headerStyle.Render("suggestions:"), strings.Join(resp.Suggestions, " | "))
	}
	if len(resp.Corrections) > 0 {
		fmt.Fprintf(w, "%s %s\n", headerStyle.Render("did you mean:"), strings.Join(resp.Corrections, " | "))
	}
	for _, u := range resp.UnresponsiveEngines {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("! %s: %s", u.Engine, u.Reason)))
	}

	summary := fmt.Sprintf("%d results", len(resp.Results))
	if resp.Timeout > 0 {
		summary += fmt.Sprintf(" within %.1fs", resp.Timeout)
	}
	fmt.Fprintln(w, metaStyle.Render(summary))
}
