package registry

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// NativeToken is the sentinel payment token for the host ledger's base
// currency. It is always an approved payment token.
const NativeToken = "native"

const keyDelimiter = "."

// Sale is one active listing: a fixed-price offer to sell one asset.
// (CollectionID, AssetID) is the unique key; the seller is not part of it.
type Sale struct {
	Seller       string          `json:"seller_id"`
	ApprovalID   uint64          `json:"approval_id"`
	CollectionID string          `json:"collection_id"`
	AssetID      string          `json:"asset_id"`
	Price        decimal.Decimal `json:"price"`
	PaymentToken string          `json:"ft_token_id"`
	ListedAt     time.Time       `json:"listed_at"`
}

// SaleKey builds the primary registry key for an asset.
func SaleKey(collectionID, assetID string) string {
	return collectionID + keyDelimiter + assetID
}

func (s *Sale) Key() string {
	return SaleKey(s.CollectionID, s.AssetID)
}

func (s *Sale) Validate() error {
	if s.Seller == "" {
		return fmt.Errorf("seller is required")
	}
	if s.CollectionID == "" {
		return fmt.Errorf("collection id is required")
	}
	if s.AssetID == "" {
		return fmt.Errorf("asset id is required")
	}
	if s.Price.IsNegative() {
		return fmt.Errorf("price must not be negative")
	}
	if !s.Price.IsInteger() {
		return fmt.Errorf("price must be an integer amount")
	}
	if s.PaymentToken == "" {
		return fmt.Errorf("payment token is required")
	}
	return nil
}
