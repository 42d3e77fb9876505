package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	urlStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Underline(true)

	contentStyle = lipgloss.NewStyle().
			Width(80)

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	answerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("32")).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("32")).
			Padding(0, 1)

	passStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

// renderTable writes rows as aligned columns. Column widths are measured on
// the unstyled cells so styles do not break the alignment.
func renderTable(w io.Writer, headers []string, rows [][]string, style func(row, col int) lipgloss.Style) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	line := func(cells []string, styleOf func(col int) lipgloss.Style) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = styleOf(i).Width(widths[i] + 2).Render(cell)
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, ""), " "))
	}

	line(headers, func(int) lipgloss.Style { return headerStyle })
	for r, row := range rows {
		line(row, func(col int) lipgloss.Style {
			if style == nil {
				return lipgloss.NewStyle()
			}
			return style(r, col)
		})
	}
}
