package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/medreminder/internal/auth"
	"github.com/dukerupert/medreminder/internal/config"
	"github.com/dukerupert/medreminder/internal/database"
	"github.com/dukerupert/medreminder/internal/model"
	"github.com/dukerupert/medreminder/internal/store"
)

func openDB() (*config.Config, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, db, nil
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign a bearer token for an existing user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			u, err := store.NewUserStore(db).GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if u == nil {
				return fmt.Errorf("user %q not found", args[0])
			}
			tok, err := auth.NewVerifier(cfg.JWTSecret).Sign(auth.AuthContext{
				UserID: u.ID,
				Email:  u.Email,
				Role:   u.Role,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var role, name string
	add := &cobra.Command{
		Use:   "add <id> <email>",
		Short: "Create or update an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case model.RolePatient, model.RoleCaregiver, model.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			_, db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			u, err := store.NewUserStore(db).Upsert(cmd.Context(), args[0], args[1], name, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", u.ID, u.Email, u.Role)
			return nil
		},
	}
	add.Flags().StringVar(&role, "role", model.RolePatient, "patient, caregiver or admin")
	add.Flags().StringVar(&name, "name", "", "display name")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "disable <id>",
		Short: "Deactivate an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			return store.NewUserStore(db).SetActive(cmd.Context(), args[0], false)
		},
	})
	return cmd
}

func caregiverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "caregiver",
		Short: "Manage caregiver links",
	}
	link := func(active bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			_, db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			cs := store.NewCaregiverStore(db)
			ctx := cmd.Context()
			if active {
				return cs.Link(ctx, args[0], args[1])
			}
			return cs.Unlink(ctx, args[0], args[1])
		}
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "link <patient-id> <caregiver-id>",
		Short: "Let a caregiver receive escalations for a patient",
		Args:  cobra.ExactArgs(2),
		RunE:  link(true),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "unlink <patient-id> <caregiver-id>",
		Short: "Stop escalations to a caregiver",
		Args:  cobra.ExactArgs(2),
		RunE:  link(false),
	})
	return cmd
}
