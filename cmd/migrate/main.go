package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"referralpay/internal/auth"
	"referralpay/internal/codes"
	"referralpay/internal/config"
	"referralpay/internal/db"
	"referralpay/internal/logging"
	"referralpay/internal/models"
	"referralpay/internal/store"
)

func main() {
	cfg := config.Load()
	logging.Configure(cfg.LogLevel, cfg.LogFormat)

	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the referral database schema",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(upCmd(cfg))
	rootCmd.AddCommand(downCmd(cfg))
	rootCmd.AddCommand(statusCmd(cfg))
	rootCmd.AddCommand(ensureHouseCmd(cfg))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connect(cfg config.Config) (*sqlx.DB, error) {
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return database, nil
}

func upCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := connect(cfg)
			if err != nil {
				return err
			}
			defer database.Close()
			return db.MigrateUp(database.DB)
		},
	}
}

func downCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				parsed, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid steps %q: %w", args[0], err)
				}
				steps = parsed
			}
			database, err := connect(cfg)
			if err != nil {
				return err
			}
			defer database.Close()
			return db.MigrateDown(database.DB, steps)
		},
	}
}

func statusCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := connect(cfg)
			if err != nil {
				return err
			}
			defer database.Close()
			status, err := db.MigrateStatus(database.DB)
			if err != nil {
				return err
			}
			switch {
			case !status.Applied:
				fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
			case status.Dirty:
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty)\n", status.Version)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "version %d\n", status.Version)
			}
			return nil
		},
	}
}

func ensureHouseCmd(cfg config.Config) *cobra.Command {
	var email, username string
	cmd := &cobra.Command{
		Use:   "ensure-house",
		Short: "Create the fallback account that owns MASTER_REFERRAL_CODE if it is missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := connect(cfg)
			if err != nil {
				return err
			}
			defer database.Close()
			created, err := ensureHouse(cmd.Context(), db.NewTxRunner(database), store.NewUserStore(database), cfg.MasterReferralCode, email, username)
			if err != nil {
				return err
			}
			logger := log.WithField("referral_code", cfg.MasterReferralCode)
			if created {
				logger.Info("Fallback account created")
			} else {
				logger.Info("Fallback account already present")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "house@referralpay.local", "email of the fallback account")
	cmd.Flags().StringVar(&username, "username", "house", "username of the fallback account")
	return cmd
}

type houseStore interface {
	ReferralCodeExists(ctx context.Context, q store.Getter, code string) (bool, error)
	Create(ctx context.Context, tx store.Execer, input store.UserInput) error
}

// ensureHouse creates the account owning code unless one exists. Its
// password is random and never shown; the account is not meant for login.
func ensureHouse(ctx context.Context, txRunner db.TxRunner, users houseStore, code, email, username string) (bool, error) {
	secret, err := codes.Random(32)
	if err != nil {
		return false, fmt.Errorf("generate secret: %w", err)
	}
	hash, err := auth.HashPassword(secret)
	if err != nil {
		return false, fmt.Errorf("hash secret: %w", err)
	}

	var created bool
	err = txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		created = false
		exists, err := users.ReferralCodeExists(ctx, tx, code)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		err = users.Create(ctx, tx, store.UserInput{
			ID:           uuid.NewString(),
			Email:        email,
			Username:     username,
			PasswordHash: hash,
			FirstName:    "House",
			LastName:     "Account",
			ReferralCode: code,
			Role:         models.RoleAdmin,
		})
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ensure fallback account: %w", err)
	}
	return created, nil
}
