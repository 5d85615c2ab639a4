package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dukerupert/medreminder/internal/backup"
	"github.com/dukerupert/medreminder/internal/config"
	"github.com/dukerupert/medreminder/internal/database"
	"github.com/dukerupert/medreminder/internal/store"
)

func newBackupManager(cfg *config.Config, db *sql.DB, logger *slog.Logger) *backup.Manager {
	m := backup.NewManager(cfg.BackupConfig(), db, store.NewStateStore(db), logger)
	if !m.Enabled() {
		logger.Info("backups disabled")
	}
	return m
}

func openBackupManager() (*backup.Manager, *sql.DB, error) {
	cfg, logger, err := bootstrap()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return newBackupManager(cfg, db, logger), db, nil
}

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage encrypted database snapshots",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Take a snapshot now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, db, err := openBackupManager()
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := m.Run(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, db, err := openBackupManager()
			if err != nil {
				return err
			}
			defer db.Close()

			keys, err := m.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <key> <dst-path>",
		Short: "Download and decrypt a snapshot into a new database file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, db, err := openBackupManager()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := m.Restore(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s to %s\n", args[0], args[1])
			return nil
		},
	})
	return cmd
}
