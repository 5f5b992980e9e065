package storage

import "time"

type SaleRow struct {
	CollectionID string
	AssetID      string
	SellerID     string
	ApprovalID   uint64
	Price        string
	PaymentToken string
	ListedAt     time.Time
}

type DepositRow struct {
	AccountID string
	Balance   string
	UpdatedAt time.Time
}
