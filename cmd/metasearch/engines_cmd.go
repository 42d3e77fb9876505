package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"metasearch/internal/adapter/engine"
)

func newEnginesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List the configured engines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root.configPath)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			printEngines(cmd.OutOrStdout(), a.engines.List(), a.bangs.Names())
			return nil
		},
	}
}

func printEngines(w io.Writer, infos []engine.Info, bangs []string) {
	if len(infos) == 0 {
		fmt.Fprintln(w, warnStyle.Render("no engines configured"))
	} else {
		rows := make([][]string, 0, len(infos))
		for _, info := range infos {
			status := "active"
			if info.Suspended {
				status = "suspended"
			}
			shortcut := info.Shortcut
			if shortcut != "" {
				shortcut = "!" + shortcut
			}
			rows = append(rows, []string{
				info.Name,
				info.Type,
				shortcut,
				strings.Join(info.Categories, ","),
				info.Timeout.String(),
				fmt.Sprintf("%g", info.Weight),
				status,
			})
		}
		renderTable(w, []string{"ENGINE", "TYPE", "SHORTCUT", "CATEGORIES", "TIMEOUT", "WEIGHT", "STATUS"}, rows,
			func(row, col int) lipgloss.Style {
				switch {
				case col == 0:
					return titleStyle
				case col == 6 && infos[row].Suspended:
					return warnStyle
				default:
					return lipgloss.NewStyle()
				}
			})
	}

	if len(bangs) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s %s\n", headerStyle.Render("bangs:"), metaStyle.Render("!!"+strings.Join(bangs, " !!")))
	}
}
