// Package storage is the durable mirror of the market's in-memory
// books. Memory stays authoritative at runtime; the mirror exists so a
// restart can call LoadSales and LoadDeposits to rebuild state.
package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/veridianlabs/nftmarket/services/marketplace/internal/registry"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) InsertSale(ctx context.Context, sale registry.Sale) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO marketplace_sales (collection_id, asset_id, seller_id, approval_id, price, ft_token_id, listed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (collection_id, asset_id) DO UPDATE
		SET seller_id = EXCLUDED.seller_id,
		    approval_id = EXCLUDED.approval_id,
		    price = EXCLUDED.price,
		    ft_token_id = EXCLUDED.ft_token_id,
		    listed_at = EXCLUDED.listed_at
	`, sale.CollectionID, sale.AssetID, sale.Seller, int64(sale.ApprovalID), sale.Price.String(), sale.PaymentToken, sale.ListedAt)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (s *Store) UpdateSale(ctx context.Context, sale registry.Sale) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE marketplace_sales
		SET price = $3, ft_token_id = $4
		WHERE collection_id = $1 AND asset_id = $2
	`, sale.CollectionID, sale.AssetID, sale.Price.String(), sale.PaymentToken)
	if err != nil {
		return fmt.Errorf("update sale: %w", err)
	}
	return nil
}

func (s *Store) DeleteSale(ctx context.Context, collectionID, assetID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM marketplace_sales
		WHERE collection_id = $1 AND asset_id = $2
	`, collectionID, assetID)
	if err != nil {
		return fmt.Errorf("delete sale: %w", err)
	}
	return nil
}

func (s *Store) SaveDeposit(ctx context.Context, account string, balance decimal.Decimal) error {
	if balance.IsZero() {
		_, err := s.pool.Exec(ctx, `DELETE FROM storage_deposits WHERE account_id = $1`, account)
		if err != nil {
			return fmt.Errorf("delete deposit: %w", err)
		}
		return nil
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO storage_deposits (account_id, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (account_id) DO UPDATE
		SET balance = EXCLUDED.balance, updated_at = now()
	`, account, balance.String())
	if err != nil {
		return fmt.Errorf("save deposit: %w", err)
	}
	return nil
}

func (s *Store) LoadSales(ctx context.Context) ([]registry.Sale, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT collection_id, asset_id, seller_id, approval_id, price::text, ft_token_id, listed_at
		FROM marketplace_sales
		ORDER BY listed_at, collection_id, asset_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load sales: %w", err)
	}
	defer rows.Close()

	var sales []registry.Sale
	for rows.Next() {
		var row SaleRow
		var approvalID int64
		if err := rows.Scan(&row.CollectionID, &row.AssetID, &row.SellerID, &approvalID, &row.Price, &row.PaymentToken, &row.ListedAt); err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		price, err := decimal.NewFromString(row.Price)
		if err != nil {
			return nil, fmt.Errorf("parse price for %s.%s: %w", row.CollectionID, row.AssetID, err)
		}
		sales = append(sales, registry.Sale{
			Seller:       row.SellerID,
			ApprovalID:   uint64(approvalID),
			CollectionID: row.CollectionID,
			AssetID:      row.AssetID,
			Price:        price,
			PaymentToken: row.PaymentToken,
			ListedAt:     row.ListedAt,
		})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return sales, nil
}

func (s *Store) LoadDeposits(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT account_id, balance::text
		FROM storage_deposits
	`)
	if err != nil {
		return nil, fmt.Errorf("load deposits: %w", err)
	}
	defer rows.Close()

	deposits := make(map[string]decimal.Decimal)
	for rows.Next() {
		var row DepositRow
		if err := rows.Scan(&row.AccountID, &row.Balance); err != nil {
			return nil, fmt.Errorf("scan deposit: %w", err)
		}
		balance, err := decimal.NewFromString(row.Balance)
		if err != nil {
			return nil, fmt.Errorf("parse balance for %s: %w", row.AccountID, err)
		}
		deposits[row.AccountID] = balance
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return deposits, nil
}
