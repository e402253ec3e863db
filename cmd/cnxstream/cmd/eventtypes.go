package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/illmade-knight/go-cnxstream/pkg/registry"
	"github.com/spf13/cobra"
)

var eventTypesCmd = &cobra.Command{
	Use:   "event-types",
	Short: "List the event types this client decodes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := registry.MustDefault()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "EVENT TYPE\tSCHEMA\tFIELD")
		for _, eventType := range reg.EventTypes() {
			rule, _ := reg.Lookup(eventType)
			fmt.Fprintf(tw, "%s\t%s\t%s\n", eventType, rule.Schema.FullName(), rule.Field)
		}
		return tw.Flush()
	},
}
