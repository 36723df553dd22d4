package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/KilimcininKorOglu/obadir/internal/backend"
	"github.com/KilimcininKorOglu/obadir/internal/dn"
)

func parseDNs(ss []string) ([]dn.DN, error) {
	out := make([]dn.DN, 0, len(ss))
	for _, s := range ss {
		d, err := dn.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func newExportCmd(opts *globalOptions) *cobra.Command {
	var (
		id, output       string
		include, exclude []string
		excludeAttrs     []string
		wrap             int
	)
	cmd := &cobra.Command{
		Use:   "export-ldif",
		Short: "Export a backend's entries as LDIF",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()
			b, err := e.backend(id)
			if err != nil {
				return err
			}
			inc, err := parseDNs(include)
			if err != nil {
				return err
			}
			exc, err := parseDNs(exclude)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			res, err := b.ExportLDIF(contextOf(cmd), backend.ExportConfig{
				Writer:            w,
				IncludeBranches:   inc,
				ExcludeBranches:   exc,
				ExcludeAttributes: excludeAttrs,
				WrapColumn:        wrap,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d entries, skipped %d\n", res.Exported, res.Skipped)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&id, "backend", "b", "", "backend ID")
	f.StringVarP(&output, "output", "o", "-", "output file, - for stdout")
	f.StringSliceVar(&include, "include-branch", nil, "export only entries under these DNs")
	f.StringSliceVar(&exclude, "exclude-branch", nil, "skip entries under these DNs")
	f.StringSliceVar(&excludeAttrs, "exclude-attribute", nil, "leave these attributes out")
	f.IntVar(&wrap, "wrap", 0, "fold column, negative disables folding")
	return cmd
}

func newImportCmd(opts *globalOptions) *cobra.Command {
	var (
		id, input, rejects string
		include, exclude   []string
		replace            bool
		rate               int
	)
	cmd := &cobra.Command{
		Use:   "import-ldif",
		Short: "Import LDIF into a backend",
		Long: `Import LDIF into a backend. Entries under the base DNs of other
backends nested inside this one are skipped, in addition to any
--exclude-branch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()
			b, err := e.backend(id)
			if err != nil {
				return err
			}
			inc, err := parseDNs(include)
			if err != nil {
				return err
			}
			exc, err := parseDNs(exclude)
			if err != nil {
				return err
			}
			exc = append(exc, e.router.ImportExcludes(id)...)

			var r io.Reader = cmd.InOrStdin()
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			cfg := backend.ImportConfig{
				Reader:              r,
				IncludeBranches:     inc,
				ExcludeBranches:     exc,
				ReplaceExisting:     replace,
				MaxEntriesPerSecond: e.cfg.Import.MaxEntriesPerSecond,
			}
			if cmd.Flags().Changed("rate") {
				cfg.MaxEntriesPerSecond = rate
			}
			if rejects != "" {
				f, err := os.Create(rejects)
				if err != nil {
					return err
				}
				defer f.Close()
				cfg.Rejects = f
			}

			res, err := b.ImportLDIF(contextOf(cmd), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "read %d entries: imported %d, skipped %d, rejected %d\n",
				res.Read, res.Imported, res.Skipped, res.Rejected)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&id, "backend", "b", "", "backend ID")
	f.StringVarP(&input, "input", "i", "-", "input file, - for stdin")
	f.StringVar(&rejects, "rejects", "", "write rejected entries to this file")
	f.StringSliceVar(&include, "include-branch", nil, "import only entries under these DNs")
	f.StringSliceVar(&exclude, "exclude-branch", nil, "skip entries under these DNs")
	f.BoolVar(&replace, "replace-existing", false, "overwrite entries that already exist")
	f.IntVar(&rate, "rate", 0, "maximum entries per second, 0 for unlimited")
	return cmd
}

// contextOf returns the command's context, or a background context when
// the command runs without one.
func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
