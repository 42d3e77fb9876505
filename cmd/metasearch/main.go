package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("error:"), err)
		os.Exit(1)
	}
}

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "metasearch",
		Short: "Metasearch aggregator",
		Long: `metasearch queries many search engines at once and merges their results.

Commands:
  metasearch search <query>   Run one search and print the results
  metasearch engines          List the configured engines
  metasearch serve            Serve the HTTP search API
  metasearch check            Query every engine once`,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath(),
		"Path to the config file (env METASEARCH_CONFIG)")

	root.AddCommand(
		newSearchCmd(opts),
		newEnginesCmd(opts),
		newServeCmd(opts),
		newCheckCmd(opts),
	)
	return root
}

func defaultConfigPath() string {
	if p := os.Getenv("METASEARCH_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}
