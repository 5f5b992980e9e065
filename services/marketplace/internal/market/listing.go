package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/veridianlabs/nftmarket/services/marketplace/internal/registry"
)

// ApprovalNotice is a collection service telling the market it may now
// transfer one of its assets. CollectionID is the authenticated notifier
// identity, never a field the caller supplies.
type ApprovalNotice struct {
	CollectionID string
	AssetID      string
	OwnerID      string
	ApprovalID   uint64
	SignerID     string
	Terms        json.RawMessage
}

// SaleTerms is the listing payload carried inside an approval notice.
type SaleTerms struct {
	Price        decimal.Decimal `json:"sale_conditions"`
	PaymentToken string          `json:"ft_token_id,omitempty"`
}

// OnApproval turns a transfer approval into an active listing. The
// notice must come from the collection service on the owner's behalf,
// and the owner must hold enough storage quota for one more listing.
func (m *Market) OnApproval(ctx context.Context, notice ApprovalNotice) (registry.Sale, error) {
	if notice.CollectionID == notice.SignerID {
		return registry.Sale{}, ErrInvalidApprovalOrigin
	}
	if notice.OwnerID != notice.SignerID {
		return registry.Sale{}, ErrNotAssetOwner
	}

	var terms SaleTerms
	if err := json.Unmarshal(notice.Terms, &terms); err != nil {
		return registry.Sale{}, fmt.Errorf("%w: %v", ErrInvalidSaleTerms, err)
	}
	if terms.Price.IsNegative() || !terms.Price.IsInteger() {
		return registry.Sale{}, fmt.Errorf("%w: price must be a non-negative integer", ErrInvalidSaleTerms)
	}
	if terms.PaymentToken == "" {
		terms.PaymentToken = registry.NativeToken
	}

	active := m.registry.CountBySeller(notice.OwnerID)
	covered, shortfall := m.quota.Covers(notice.OwnerID, active)
	if !covered {
		required := m.quota.MinimumBalance().Mul(decimal.NewFromInt(int64(active) + 1))
		return registry.Sale{}, &InsufficientStorageError{
			Balance:   m.quota.BalanceOf(notice.OwnerID),
			Required:  required,
			Shortfall: shortfall,
		}
	}

	sale := registry.Sale{
		Seller:       notice.OwnerID,
		ApprovalID:   notice.ApprovalID,
		CollectionID: notice.CollectionID,
		AssetID:      notice.AssetID,
		Price:        terms.Price,
		PaymentToken: terms.PaymentToken,
		ListedAt:     time.Now().UTC(),
	}
	if err := m.registry.Insert(sale); err != nil {
		return registry.Sale{}, fmt.Errorf("%w: %v", ErrInvalidSaleTerms, err)
	}

	m.mirrorInsert(ctx, sale)
	if m.metrics != nil {
		m.metrics.ListingsTotal.WithLabelValues("listed").Inc()
		m.metrics.ListingsActive.Set(float64(m.registry.Len()))
	}
	m.logger.Info("sale listed",
		"sale", sale.Key(),
		"seller", sale.Seller,
		"price", sale.Price,
		"payment_token", sale.PaymentToken,
	)
	return sale, nil
}

// CancelSale delists the caller's own sale. Destructive, so it demands
// the single-unit confirmation deposit.
func (m *Market) CancelSale(ctx context.Context, caller string, attached decimal.Decimal, collectionID, assetID string) (registry.Sale, error) {
	if !attached.Equal(one) {
		return registry.Sale{}, ErrConfirmationRequired
	}

	sale, err := m.registry.RemoveIf(collectionID, assetID, func(s registry.Sale) error {
		if s.Seller != caller {
			return registry.ErrUnauthorized
		}
		return nil
	})
	if err != nil {
		return registry.Sale{}, err
	}

	m.mirrorDelete(ctx, collectionID, assetID)
	if m.metrics != nil {
		m.metrics.ListingsTotal.WithLabelValues("cancelled").Inc()
		m.metrics.ListingsActive.Set(float64(m.registry.Len()))
	}
	m.logger.Info("sale cancelled", "sale", sale.Key(), "seller", sale.Seller)
	return sale, nil
}

// UpdatePrice changes the asking price of the caller's own sale and,
// when paymentToken is non-empty, moves the sale to that currency. A
// new payment token must already be on the whitelist.
func (m *Market) UpdatePrice(ctx context.Context, caller string, attached decimal.Decimal, collectionID, assetID string, price decimal.Decimal, paymentToken string) (registry.Sale, error) {
	if !attached.Equal(one) {
		return registry.Sale{}, ErrConfirmationRequired
	}
	if price.IsNegative() || !price.IsInteger() {
		return registry.Sale{}, fmt.Errorf("%w: price must be a non-negative integer", ErrInvalidSaleTerms)
	}
	if paymentToken != "" {
		approved, err := m.tokens.Contains(ctx, paymentToken)
		if err != nil {
			return registry.Sale{}, fmt.Errorf("whitelist lookup: %w", err)
		}
		if !approved {
			return registry.Sale{}, ErrUnapprovedToken
		}
	}

	err := m.registry.Update(collectionID, assetID, caller, func(s *registry.Sale) error {
		s.Price = price
		if paymentToken != "" {
			s.PaymentToken = paymentToken
		}
		return nil
	})
	if err != nil {
		return registry.Sale{}, err
	}

	sale, _ := m.registry.Get(collectionID, assetID)
	m.mirrorUpdate(ctx, sale)
	m.logger.Info("sale price updated", "sale", sale.Key(), "price", price, "payment_token", sale.PaymentToken)
	return sale, nil
}
