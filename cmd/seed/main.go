package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tableside/api/internal/config"
	"github.com/tableside/api/internal/database"
	"github.com/tableside/api/internal/enum"
	"github.com/tableside/api/internal/logging"
	"github.com/tableside/api/internal/model"
	"golang.org/x/crypto/bcrypt"
)

type options struct {
	email    string
	password string
	name     string
	sample   bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Create the first owner account and, optionally, a sample menu",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	// Flags fall back to environment variables, then to development defaults.
	cmd.Flags().StringVar(&opts.email, "email", envOr("SEED_EMAIL", "owner@tableside.local"), "Owner email address")
	cmd.Flags().StringVar(&opts.password, "password", os.Getenv("SEED_PASSWORD"), "Owner password")
	cmd.Flags().StringVar(&opts.name, "name", envOr("SEED_NAME", "Owner"), "Owner full name")
	cmd.Flags().BoolVar(&opts.sample, "sample", false, "Also insert a sample menu when the catalog is empty")
	return cmd
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if opts.password == "" {
		opts.password = "password123"
		logrus.Warn("using default password 'password123'. Change immediately in production!")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("unable to ping database: %w", err)
	}
	logrus.Info("connected to database")

	// Seed in a transaction: owner and sample menu, or nothing.
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	q := database.New(pool).WithTx(tx)

	ownerID, err := seedOwner(ctx, q, opts.email, opts.password, opts.name)
	if err != nil {
		return fmt.Errorf("seed owner: %w", err)
	}
	if opts.sample {
		if err := seedMenu(ctx, q); err != nil {
			return fmt.Errorf("seed menu: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	logrus.WithField("owner_id", ownerID).Info("seed completed successfully")
	return nil
}

// seedOwner creates the owner account if it doesn't exist. An existing
// account keeps its password; its profile is created or promoted.
func seedOwner(ctx context.Context, q *database.Queries, email, password, fullName string) (string, error) {
	existing, err := q.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		logrus.WithField("email", email).Info("user already exists, ensuring owner profile")
		if err := q.CreateProfile(ctx, existing.ID, fullName, enum.RoleOwner); err != nil {
			return "", err
		}
		if _, err := q.UpdateProfileRole(ctx, existing.ID, enum.RoleOwner); err != nil {
			return "", err
		}
		return existing.ID.String(), nil
	case !errors.Is(err, model.ErrNotFound):
		return "", fmt.Errorf("check user: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	user, err := q.CreateUser(ctx, email, string(hashed))
	if err != nil {
		return "", err
	}
	if err := q.CreateProfile(ctx, user.ID, fullName, enum.RoleOwner); err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{"email": email, "id": user.ID}).Info("created owner user")
	return user.ID.String(), nil
}

type sampleItem struct {
	name        string
	description string
	price       string
	toppings    []model.Modifier
}

// seedMenu inserts a small menu, skipped when any category already exists.
func seedMenu(ctx context.Context, q *database.Queries) error {
	existing, err := q.ListCategories(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logrus.WithField("categories", len(existing)).Info("catalog not empty, skipping sample menu")
		return nil
	}

	menu := []struct {
		category string
		items    []sampleItem
	}{
		{"Burgers", []sampleItem{
			{"Classic Burger", "Beef patty, cheddar, pickles", "9.50", []model.Modifier{
				{Name: "Bacon", Price: decimal.RequireFromString("1.50")},
				{Name: "Extra cheese", Price: decimal.RequireFromString("0.75")},
			}},
			{"Veggie Burger", "Black bean patty, avocado", "8.75", nil},
		}},
		{"Drinks", []sampleItem{
			{"Lemonade", "Fresh squeezed", "3.00", nil},
			{"Iced Tea", "", "2.50", []model.Modifier{{Name: "Peach syrup", Price: decimal.RequireFromString("0.50")}}},
		}},
	}

	for i, group := range menu {
		cat, err := q.CreateCategory(ctx, database.CreateCategoryParams{Name: group.category, SortOrder: int32(i)})
		if err != nil {
			return err
		}
		for _, it := range group.items {
			_, err := q.CreateMenuItem(ctx, database.MenuItemParams{
				Name:        it.name,
				Description: it.description,
				Price:       decimal.RequireFromString(it.price),
				CategoryID:  &cat.ID,
				IsAvailable: true,
				Toppings:    it.toppings,
			})
			if err != nil {
				return err
			}
		}
	}

	original := decimal.RequireFromString("12.50")
	_, err = q.CreateDailyOffer(ctx, database.OfferParams{
		Title:         "Burger + Lemonade",
		Description:   "Classic Burger with a lemonade",
		NewPrice:      decimal.RequireFromString("10.00"),
		OriginalPrice: &original,
		IsActive:      true,
	})
	if err != nil {
		return err
	}
	logrus.Info("sample menu created")
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
