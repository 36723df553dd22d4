package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/KilimcininKorOglu/obadir/internal/backend"
	"github.com/KilimcininKorOglu/obadir/internal/backup"
)

func newVerifyCmd(opts *globalOptions) *cobra.Command {
	var (
		id    string
		attrs []string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a backend's indexes against its entries",
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
			report, err := b.Verify(contextOf(cmd), backend.VerifyConfig{Attributes: attrs})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d entries: %d missing, %d dangling index keys\n",
				report.EntriesChecked, report.Missing, report.Dangling)
			if !report.OK() {
				return fmt.Errorf("backend %s has inconsistent indexes; run rebuild-index", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&id, "backend", "b", "", "backend ID")
	cmd.Flags().StringSliceVarP(&attrs, "attribute", "a", nil, "verify only these attributes")
	return cmd
}

func newRebuildIndexCmd(opts *globalOptions) *cobra.Command {
	var (
		id    string
		attrs []string
	)
	cmd := &cobra.Command{
		Use:   "rebuild-index",
		Short: "Rebuild a backend's indexes",
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
			n, err := b.RebuildIndexes(contextOf(cmd), attrs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d entries\n", n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&id, "backend", "b", "", "backend ID")
	cmd.Flags().StringSliceVarP(&attrs, "attribute", "a", nil, "rebuild only these attributes")
	return cmd
}

func newBackupCmd(opts *globalOptions) *cobra.Command {
	var (
		id, dir, name, level string
		all                  bool
	)
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up one backend, or every backend that supports it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()
			if dir == "" {
				dir = e.cfg.Backup.Directory
			}
			if level == "" {
				level = e.cfg.Backup.CompressionLevel
			}
			compression, err := backup.ParseCompressionLevel(level)
			if err != nil {
				return err
			}

			var targets []backend.Backend
			if all {
				for _, b := range e.router.Backends() {
					if b.Supports(backend.CapBackup) {
						targets = append(targets, b)
					}
				}
			} else {
				b, err := e.backend(id)
				if err != nil {
					return err
				}
				targets = append(targets, b)
			}

			for _, b := range targets {
				desc, err := b.CreateBackup(contextOf(cmd), backend.BackupConfig{
					Directory:        dir,
					ID:               name,
					CompressionLevel: compression,
				})
				if err != nil {
					return fmt.Errorf("backup %s: %w", b.ID(), err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d entries\t%d bytes\n",
					b.ID(), desc.ID, desc.EntryCount, desc.CompressedSize)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&id, "backend", "b", "", "backend ID")
	f.BoolVar(&all, "all", false, "back up every backend that supports backups")
	f.StringVarP(&dir, "dir", "d", "", "backup directory (default backup.directory)")
	f.StringVar(&name, "id", "", "backup ID (default generated)")
	f.StringVar(&level, "compression", "", "fastest, default, better or best")
	return cmd
}

func newListBackupsCmd(opts *globalOptions) *cobra.Command {
	var id, dir string
	cmd := &cobra.Command{
		Use:   "list-backups",
		Short: "List the backups of a backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()
			if _, err := e.backend(id); err != nil {
				return err
			}
			if dir == "" {
				dir = e.cfg.Backup.Directory
			}

			descs, err := backup.NewManager(dir, backup.WithLogger(e.logger)).List(id)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tFORMAT\tENTRIES\tSIZE\tRATIO")
			for _, d := range descs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.2f\n",
					d.ID, d.Created.Format(time.RFC3339), d.Format, d.EntryCount, d.CompressedSize, d.CompressionRatio())
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&id, "backend", "b", "", "backend ID")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "backup directory (default backup.directory)")
	return cmd
}

func newRemoveBackupCmd(opts *globalOptions) *cobra.Command {
	var id, dir string
	cmd := &cobra.Command{
		Use:   "remove-backup <backup-id>",
		Short: "Delete a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()
			b, err := e.backend(id)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = e.cfg.Backup.Directory
			}
			return b.RemoveBackup(dir, args[0])
		},
	}
	cmd.Flags().StringVarP(&id, "backend", "b", "", "backend ID")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "backup directory (default backup.directory)")
	return cmd
}

func newRestoreCmd(opts *globalOptions) *cobra.Command {
	var (
		id, dir, name string
		verifyOnly    bool
	)
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Replace a backend's contents with a backup",
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
			if dir == "" {
				dir = e.cfg.Backup.Directory
			}
			desc, err := b.RestoreBackup(contextOf(cmd), backend.RestoreConfig{
				Directory:  dir,
				ID:         name,
				VerifyOnly: verifyOnly,
			})
			if err != nil {
				return err
			}
			verb := "restored"
			if verifyOnly {
				verb = "verified"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s backup %s of %s (%d entries)\n", verb, desc.ID, b.ID(), desc.EntryCount)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&id, "backend", "b", "", "backend ID")
	f.StringVarP(&dir, "dir", "d", "", "backup directory (default backup.directory)")
	f.StringVar(&name, "id", "", "backup ID (default latest)")
	f.BoolVar(&verifyOnly, "verify-only", false, "check the archive without restoring it")
	return cmd
}
