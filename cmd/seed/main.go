// Seed loads a local database with a few demo participants, funded wallets,
// and an open book ready for a matching pass.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/BraydenSmith1/kora/internal/config"
	"github.com/BraydenSmith1/kora/internal/ledger"
	"github.com/BraydenSmith1/kora/internal/storage"
	"github.com/BraydenSmith1/kora/libs/logging"
)

type seedOrder struct {
	email       string
	priceCents  int64
	quantityKwh string
	selling     bool
}

var seedUsers = []struct {
	email  string
	name   string
	region string
	cents  int64
}{
	{"solar@example.com", "Solar Rooftop Co-op", "region-north", 0},
	{"battery@example.com", "Battery Barn", "region-north", 5_000},
	{"bakery@example.com", "Corner Bakery", "region-north", 25_000},
	{"workshop@example.com", "Night Workshop", "region-south", 40_000},
}

var seedOrders = []seedOrder{
	{"solar@example.com", 12, "8.5", true},
	{"battery@example.com", 15, "4.0", true},
	{"bakery@example.com", 14, "6.0", false},
	{"workshop@example.com", 18, "3.25", false},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.App.LogLevel, "kora-seed", cfg.App.Env)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("db ping failed", "error", err)
		os.Exit(1)
	}

	store := storage.New(pool, logger)
	wallets := ledger.New(pool, logger, nil)

	users := make(map[string]storage.User, len(seedUsers))
	for _, u := range seedUsers {
		user, err := store.GetOrCreateUser(ctx, u.email, u.name, u.region)
		if err != nil {
			logger.Error("seed user failed", "email", u.email, "error", err)
			os.Exit(1)
		}
		users[u.email] = user
		if u.cents > 0 {
			ref := fmt.Sprintf("topup_seed_%s", user.ID)
			if _, err := wallets.Credit(ctx, user.ID, u.cents, ref); err != nil {
				logger.Error("seed topup failed", "email", u.email, "error", err)
				os.Exit(1)
			}
		}
		logger.Info("seeded user", "email", u.email, "user_id", user.ID, "balance_cents", u.cents)
	}

	for _, o := range seedOrders {
		user := users[o.email]
		quantity, err := decimal.NewFromString(o.quantityKwh)
		if err != nil {
			logger.Error("bad seed quantity", "value", o.quantityKwh, "error", err)
			os.Exit(1)
		}
		if o.selling {
			offer, err := store.CreateOffer(ctx, storage.NewOffer{
				UserID:      user.ID,
				RegionID:    user.RegionID,
				PriceCents:  o.priceCents,
				QuantityKwh: quantity,
			})
			if err != nil {
				logger.Error("seed offer failed", "email", o.email, "error", err)
				os.Exit(1)
			}
			logger.Info("seeded offer", "offer_id", offer.ID, "price_cents", o.priceCents, "quantity_kwh", o.quantityKwh)
			continue
		}
		request, err := store.CreateRequest(ctx, storage.NewRequest{
			UserID:        user.ID,
			RegionID:      user.RegionID,
			MaxPriceCents: o.priceCents,
			QuantityKwh:   quantity,
		})
		if err != nil {
			logger.Error("seed request failed", "email", o.email, "error", err)
			os.Exit(1)
		}
		logger.Info("seeded request", "request_id", request.ID, "max_price_cents", o.priceCents, "quantity_kwh", o.quantityKwh)
	}

	logger.Info("seed complete", "users", len(seedUsers), "orders", len(seedOrders))
}
