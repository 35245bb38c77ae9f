// Command seed-db loads the catalog from a JSON file and creates a demo
// member, so a fresh database is immediately usable for development.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proclub/commerce/internal/repository"
)

type skuJSON struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	ListPrice   int64  `json:"list_price"`
	MemberPrice int64  `json:"member_price"`
	Stock       int64  `json:"stock"`
}

type productJSON struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	SKUs        []skuJSON `json:"skus"`
}

const (
	upsertProductSQL = `INSERT INTO products (id, name, description)
	VALUES ($1, $2, $3)
	ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description`

	upsertSKUSQL = `INSERT INTO skus (id, product_id, sku_code, list_price, member_price, stock)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		sku_code = EXCLUDED.sku_code,
		list_price = EXCLUDED.list_price,
		member_price = EXCLUDED.member_price,
		stock = EXCLUDED.stock`

	upsertMemberSQL = `INSERT INTO members (id, email, name)
	VALUES ($1, $2, $3)
	ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name`
)

func main() {
	var (
		databaseURL string
		catalogFile string
		memberID    string
		memberEmail string
		memberName  string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&memberID, "member-id", "demo-member", "demo member id")
	flag.StringVar(&memberEmail, "member-email", "demo@example.com", "demo member email")
	flag.StringVar(&memberName, "member-name", "Demo Member", "demo member name")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, memberID, memberEmail, memberName); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, memberID, memberEmail, memberName string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCatalog(ctx, pool, catalogFile); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if err := seedMember(ctx, pool, memberID, memberEmail, memberName); err != nil {
		return errors.Wrap(err, "seed member")
	}

	return nil
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, catalogFile string) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if _, err := pool.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Description); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		for _, s := range p.SKUs {
			if _, err := pool.Exec(ctx, upsertSKUSQL,
				s.ID, p.ID, s.Code, s.ListPrice, s.MemberPrice, s.Stock,
			); err != nil {
				return errors.Wrapf(err, "upsert sku %s", s.ID)
			}
		}

		slog.Info("upserted product",
			slog.String("id", p.ID),
			slog.String("name", p.Name),
			slog.Int("skus", len(p.SKUs)),
		)
	}

	return nil
}

func seedMember(ctx context.Context, pool *pgxpool.Pool, id, email, name string) error {
	if _, err := pool.Exec(ctx, upsertMemberSQL, id, email, name); err != nil {
		return errors.Wrapf(err, "upsert member %s", id)
	}

	slog.Info("upserted member", slog.String("id", id), slog.String("email", email))
	return nil
}
