package cmd

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/plugboard/internal/component"
	"github.com/zjrosen/plugboard/internal/format"
	"github.com/zjrosen/plugboard/internal/registry"
)

var listCmd = &cobra.Command{
	Use:   "list [socket]",
	Short: "List sockets, or the descriptors recorded for one socket",
	Long: `Read the descriptor index of the configured artifacts without instantiating
anything. With no argument, list every socket and how many components
provide it. With a socket id, list its components and their properties.

Examples:
  plugboard list
  plugboard list github.com/acme/app/shapes.Shape -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reg := newRegistry()
	if len(args) == 0 {
		s := reg.Standalone(ctx)
		t := format.Table{Columns: []string{"socket", "components"}}
		for _, socket := range s.Sockets() {
			t.Rows = append(t.Rows, []string{socket, strconv.Itoa(len(s.Descriptors(socket)))})
		}
		return render(cmd, t)
	}

	descs, err := registry.Descriptors(ctx, reg, args[0])
	if err != nil {
		return err
	}
	t := format.Table{Columns: []string{"implementation", "id", "properties"}}
	for _, d := range descs {
		id, _ := d.Properties.Get("id")
		t.Rows = append(t.Rows, []string{d.Implementation, id, joinProps(d.Properties)})
	}
	return render(cmd, t)
}

func joinProps(p component.Properties) string {
	pairs := make([]string, 0, len(p))
	for k, v := range p.All() {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, " ")
}
