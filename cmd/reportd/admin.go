package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/centralreports/reportd/internal/auth"
	"github.com/centralreports/reportd/internal/config"
	"github.com/centralreports/reportd/internal/domain"
	"github.com/centralreports/reportd/internal/postgres"
	"github.com/centralreports/reportd/internal/validate"
)

// withPool loads the config, connects, applies migrations and runs fn.
func withPool(ctx context.Context, fn func(context.Context, *config.Config, *pgxpool.Pool) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("failed to run migrations", "error", err)
		return err
	}
	return fn(ctx, cfg, pool)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPool(cmd.Context(), func(context.Context, *config.Config, *pgxpool.Pool) error {
				slog.Info("migrations applied")
				return nil
			})
		},
	}
}

func newCreateAccountCmd() *cobra.Command {
	var in auth.NewAccount
	cmd := &cobra.Command{
		Use:   "create-account",
		Short: "Create a user and the profile that grants its role",
		Example: `  reportd create-account --email root@example.org --password "$PW" --role super_admin
  reportd create-account --email north@example.org --password "$PW" --role unit_admin --unit <unit-id>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if in.Password == "" {
				in.Password = os.Getenv("REPORTD_ACCOUNT_PASSWORD")
			}
			return withPool(cmd.Context(), func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				acct, err := auth.CreateAccount(ctx, postgres.NewAccountStore(pool), in)
				if err != nil {
					slog.Error("failed to create account", "email", in.Email, "error", err)
					return err
				}
				slog.Info("account created", "user_id", acct.ID, "role", string(acct.Role), "unit_id", acct.UnitID)
				return printJSON(cmd.OutOrStdout(), acct)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Email, "email", "", "sign-in email (required)")
	f.StringVar(&in.Password, "password", "", "password, 8 to 72 characters (default $REPORTD_ACCOUNT_PASSWORD)")
	f.StringVar(&in.Role, "role", string(domain.RolePublic), "super_admin, unit_admin or public")
	f.StringVar(&in.UnitID, "unit", "", "unit managed by a unit_admin")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// newUnit is the create-unit input.
type newUnit struct {
	ID         string `form:"id" validate:"max=64"`
	Name       string `form:"name" validate:"required,max=200"`
	Address    string `form:"address" validate:"max=500"`
	CoverImage string `form:"cover_image" validate:"omitempty,max=2048,http_url"`
}

func newCreateUnitCmd() *cobra.Command {
	var in newUnit
	cmd := &cobra.Command{
		Use:   "create-unit",
		Short: "Create an organizational unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Name = strings.TrimSpace(in.Name)
			if err := validate.Struct(in); err != nil {
				return err
			}
			return withPool(cmd.Context(), func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				unit := &domain.Unit{
					ID:         strings.TrimSpace(in.ID),
					Name:       in.Name,
					Address:    strings.TrimSpace(in.Address),
					CoverImage: strings.TrimSpace(in.CoverImage),
				}
				if err := postgres.NewUnitStore(pool).CreateUnit(ctx, unit); err != nil {
					slog.Error("failed to create unit", "name", in.Name, "error", err)
					return err
				}
				slog.Info("unit created", "unit_id", unit.ID, "name", unit.Name)
				return printJSON(cmd.OutOrStdout(), unit)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.ID, "id", "", "unit id (generated when empty)")
	f.StringVar(&in.Name, "name", "", "display name (required)")
	f.StringVar(&in.Address, "address", "", "postal address")
	f.StringVar(&in.CoverImage, "cover-image", "", "cover image URL")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newReapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Run one session and audit cleanup pass and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				cfg.Reaper.Enabled = true
				reap, err := newReaper(cfg, pool)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), reap.RunNow(ctx))
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
