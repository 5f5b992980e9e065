package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veridianlabs/nftmarket/libs/apikey"
)

func main() {
	env := getEnv("MARKET_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: MARKET_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "nftmarket")
	user := getEnv("POSTGRES_USER", "nftmarket")
	password := getEnv("POSTGRES_PASSWORD", "nftmarket")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := ensureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	fmt.Println("✓ Schema ready")

	if err := seedDeposits(ctx, pool); err != nil {
		log.Fatalf("seed deposits: %v", err)
	}
	fmt.Println("✓ Storage deposits seeded")

	if err := seedSales(ctx, pool); err != nil {
		log.Fatalf("seed sales: %v", err)
	}
	fmt.Println("✓ Sales seeded")

	fmt.Println("\n=== Seed Complete ===")

	if env == "dev" {
		collectionKey, _, _, err := apikey.Generate(env)
		if err != nil {
			log.Fatalf("generate notifier key: %v", err)
		}
		paymentsKey, _, _, err := apikey.Generate(env)
		if err != nil {
			log.Fatalf("generate notifier key: %v", err)
		}
		fmt.Println("\nNotifier keys (DEV ONLY), pass via MARKET_NOTIFIER_KEYS:")
		fmt.Printf("  collection.demo=%s\n", collectionKey)
		fmt.Printf("  payments.demo=%s\n", paymentsKey)
	}
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS marketplace_sales (
			collection_id TEXT NOT NULL,
			asset_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			approval_id BIGINT NOT NULL,
			price NUMERIC(40, 0) NOT NULL,
			ft_token_id TEXT NOT NULL,
			listed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (collection_id, asset_id)
		)`,
		`CREATE INDEX IF NOT EXISTS marketplace_sales_seller_idx ON marketplace_sales (seller_id)`,
		`CREATE TABLE IF NOT EXISTS storage_deposits (
			account_id TEXT PRIMARY KEY,
			balance NUMERIC(40, 0) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func seedDeposits(ctx context.Context, pool *pgxpool.Pool) error {
	deposits := []struct {
		account string
		balance string
	}{
		{"alice.demo", "30000"},
		{"bob.demo", "10000"},
	}
	for _, d := range deposits {
		_, err := pool.Exec(ctx, `
			INSERT INTO storage_deposits (account_id, balance, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (account_id) DO UPDATE
			SET balance = EXCLUDED.balance, updated_at = now()
		`, d.account, d.balance)
		if err != nil {
			return err
		}
	}
	return nil
}

func seedSales(ctx context.Context, pool *pgxpool.Pool) error {
	sales := []struct {
		collection string
		asset      string
		seller     string
		approvalID int64
		price      string
		token      string
	}{
		{"collection.demo", "demo-token-1", "alice.demo", 1, "1000000", "native"},
		{"collection.demo", "demo-token-2", "alice.demo", 2, "2500000", "native"},
		{"collection.demo", "demo-token-3", "bob.demo", 3, "500000", "usdt.demo"},
	}
	for _, s := range sales {
		_, err := pool.Exec(ctx, `
			INSERT INTO marketplace_sales (collection_id, asset_id, seller_id, approval_id, price, ft_token_id, listed_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (collection_id, asset_id) DO UPDATE
			SET seller_id = EXCLUDED.seller_id,
			    approval_id = EXCLUDED.approval_id,
			    price = EXCLUDED.price,
			    ft_token_id = EXCLUDED.ft_token_id
		`, s.collection, s.asset, s.seller, s.approvalID, s.price, s.token)
		if err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
