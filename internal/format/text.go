package format

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// Text renders a bordered table for terminals.
//
//plug:socket Formatter
type Text struct{}

func (Text) Name() string        { return "table" }
func (Text) Description() string { return "bordered table for terminals" }

func (Text) Render(w io.Writer, t Table) error {
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(upper(t.Columns)...).
		Rows(t.Rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := io.WriteString(w, tbl.Render()+"\n")
	return err
}

func upper(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.ToUpper(c)
	}
	return out
}
