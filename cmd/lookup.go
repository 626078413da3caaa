package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/plugboard/internal/component"
	"github.com/zjrosen/plugboard/internal/format"
	"github.com/zjrosen/plugboard/internal/handle"
	"github.com/zjrosen/plugboard/internal/log"
	"github.com/zjrosen/plugboard/internal/registry"
)

var lookupIDs []string

var lookupCmd = &cobra.Command{
	Use:   "lookup <socket>",
	Short: "Resolve a socket to live instances",
	Long: `Resolve a socket through the standalone strategy: read its descriptors,
instantiate each implementation compiled into this binary and report the
handles. Components that fail to resolve are skipped and counted.

Examples:
  plugboard lookup github.com/zjrosen/plugboard/internal/format.Formatter
  plugboard lookup github.com/acme/app/shapes.Shape --id square`,
	Args: cobra.ExactArgs(1),
	RunE: runLookup,
}

func init() {
	lookupCmd.Flags().StringArrayVar(&lookupIDs, "id", nil, "keep only components with this id property (repeatable)")
	rootCmd.AddCommand(lookupCmd)
}

func runLookup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	socket := args[0]
	reg := newRegistry()

	hs, err := reg.Lookup(ctx, socket)
	if err != nil {
		return err
	}
	if len(lookupIDs) > 0 {
		want := make(map[string]bool, len(lookupIDs))
		for _, id := range lookupIDs {
			want[id] = true
		}
		hs = registry.Filter(hs, func(p component.Properties) bool {
			id, _ := p.Get("id")
			return want[id]
		})
	}
	defer func() {
		for _, h := range hs {
			if err := h.Close(); err != nil {
				log.ErrorErr(log.CatCLI, "releasing handle", err, "socket", socket)
			}
		}
	}()

	t := format.Table{Columns: []string{"id", "type", "properties"}}
	for _, h := range hs {
		t.Rows = append(t.Rows, []string{h.ID(), typeOf(h), joinProps(h.Properties())})
	}
	if err := render(cmd, t); err != nil {
		return err
	}
	if n := reg.Standalone(ctx).Skipped(socket); n > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d components of %s skipped; run with --debug for details\n", n, socket)
	}
	return nil
}

func typeOf(h *handle.Handle[any]) string {
	v, err := h.Get()
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return fmt.Sprintf("%T", v)
}
