package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KilimcininKorOglu/obadir/internal/dn"
)

func newBackendsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List configured backends and their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tBASE DNS\tPARENT\tWRITABILITY\tCAPABILITIES")
			for _, b := range e.router.Backends() {
				parent := "-"
				if p := b.Parent(); p != nil {
					parent = p.ID()
				}
				caps := strings.Join(b.Capabilities().Names(), ",")
				if caps == "" {
					caps = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					b.ID(),
					strings.Join(dn.Strings(b.BaseDNs()), ";"),
					parent,
					b.Writability(),
					caps,
				)
			}
			return tw.Flush()
		},
	}
}

func newRouteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "route <dn>",
		Short: "Print the backend that owns a DN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := dn.Parse(args[0])
			if err != nil {
				return err
			}
			e, err := loadEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()

			b := e.router.Route(d)
			if b == nil {
				return fmt.Errorf("no backend serves %q", d)
			}
			fmt.Fprintln(cmd.OutOrStdout(), b.ID())
			return nil
		},
	}
}
