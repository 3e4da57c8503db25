package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"znp-host/internal/unpi"
	"znp-host/internal/znp"
)

func newCommandsCmd() *cobra.Command {
	var subsystem string
	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List the known MT commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup(cmd, false)
			if err != nil {
				return err
			}
			registry, err := znp.LoadRegistry(cfg.Definitions...)
			if err != nil {
				return fmt.Errorf("load definitions: %w", err)
			}
			var only *unpi.Subsystem
			if subsystem != "" {
				sub, ok := unpi.ParseSubsystem(subsystem)
				if !ok {
					return fmt.Errorf("unknown subsystem %q", subsystem)
				}
				only = &sub
			}
			return printCommands(cmd.OutOrStdout(), registry, only)
		},
	}
	cmd.Flags().StringVarP(&subsystem, "subsystem", "s", "", "only list one subsystem")
	return cmd
}

func printCommands(w io.Writer, registry *znp.Registry, only *unpi.Subsystem) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBSYS\tTYPE\tID\tNAME\tREQUEST\tRESPONSE")
	for _, def := range registry.All() {
		if only != nil && def.Subsystem != *only {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t0x%02X\t%s\t%s\t%s\n",
			def.Subsystem, def.Type, def.ID, def.Name, formatParams(def.Request), formatParams(def.Response))
	}
	return tw.Flush()
}

func formatParams(defs []znp.ParamDef) string {
	if len(defs) == 0 {
		return "-"
	}
	parts := make([]string, len(defs))
	for i, d := range defs {
		parts[i] = d.Name + ":" + d.Type.String()
	}
	return strings.Join(parts, " ")
}
