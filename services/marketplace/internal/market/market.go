package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/veridianlabs/nftmarket/libs/kafka"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/quota"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/registry"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/tokens"
)

const defaultAssetCallTimeout = 10 * time.Second

var one = decimal.NewFromInt(1)

// AssetClient talks to the service that custodies the assets. The
// transfer both delivers the asset to the receiver and reports how the
// proceeds should be split.
type AssetClient interface {
	TransferPayout(ctx context.Context, req TransferPayoutRequest) (*Payout, error)
}

// Store mirrors market state to durable storage so a restart can
// rebuild the in-memory books. Memory is authoritative; mirror failures
// are logged, never surfaced to callers.
type Store interface {
	InsertSale(ctx context.Context, sale registry.Sale) error
	UpdateSale(ctx context.Context, sale registry.Sale) error
	DeleteSale(ctx context.Context, collectionID, assetID string) error
	SaveDeposit(ctx context.Context, account string, balance decimal.Decimal) error
	LoadSales(ctx context.Context) ([]registry.Sale, error)
	LoadDeposits(ctx context.Context) (map[string]decimal.Decimal, error)
}

type Deps struct {
	Registry *registry.Registry
	Quota    *quota.Ledger
	Tokens   tokens.Whitelist
	Assets   AssetClient
	Producer kafka.Publisher

	// Store is optional; without it the market runs memory-only.
	Store Store

	Owner            string
	PaymentsTopic    string
	AssetCallTimeout time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
}

// Market is the transactional core: it owns the listing registry, the
// storage-quota ledger, the payment-token whitelist and the two-phase
// purchase settlement protocol that ties them together.
type Market struct {
	registry *registry.Registry
	quota    *quota.Ledger
	tokens   tokens.Whitelist
	assets   AssetClient
	producer kafka.Publisher
	store    Store

	owner            string
	paymentsTopic    string
	assetCallTimeout time.Duration

	logger  *slog.Logger
	metrics *Metrics

	settlements sync.WaitGroup
}

func New(deps Deps) (*Market, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Quota == nil {
		return nil, fmt.Errorf("quota ledger is required")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token whitelist is required")
	}
	if deps.Assets == nil {
		return nil, fmt.Errorf("asset client is required")
	}
	if deps.Producer == nil {
		return nil, fmt.Errorf("kafka producer is required")
	}
	if deps.Owner == "" {
		return nil, fmt.Errorf("owner account is required")
	}
	if deps.PaymentsTopic == "" {
		return nil, fmt.Errorf("payments topic is required")
	}
	if deps.AssetCallTimeout <= 0 {
		deps.AssetCallTimeout = defaultAssetCallTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Market{
		registry:         deps.Registry,
		quota:            deps.Quota,
		tokens:           deps.Tokens,
		assets:           deps.Assets,
		producer:         deps.Producer,
		store:            deps.Store,
		owner:            deps.Owner,
		paymentsTopic:    deps.PaymentsTopic,
		assetCallTimeout: deps.AssetCallTimeout,
		logger:           deps.Logger,
		metrics:          deps.Metrics,
	}, nil
}

// ApproveTokens adds fungible-token contracts to the payment whitelist.
// Operator only.
func (m *Market) ApproveTokens(ctx context.Context, caller string, tokenIDs []string) ([]bool, error) {
	if caller != m.owner {
		return nil, registry.ErrUnauthorized
	}
	return m.tokens.Add(ctx, tokenIDs)
}

// StorageDeposit credits storage quota. The beneficiary defaults to the
// payer, so one account can fund another's listings.
func (m *Market) StorageDeposit(ctx context.Context, payer, beneficiary string, amount decimal.Decimal) (decimal.Decimal, error) {
	if beneficiary == "" {
		beneficiary = payer
	}

	balance, err := m.quota.Deposit(beneficiary, amount)
	if err != nil {
		return decimal.Zero, err
	}

	m.mirrorDeposit(ctx, beneficiary, balance)
	m.logger.Info("storage deposit",
		"payer", payer,
		"beneficiary", beneficiary,
		"amount", amount,
		"balance", balance,
	)
	return balance, nil
}

// StorageWithdraw releases every quota unit not pinned by an active
// listing and sends it back to the caller. Destructive, so it demands
// the single-unit confirmation deposit.
func (m *Market) StorageWithdraw(ctx context.Context, caller string, attached decimal.Decimal) (decimal.Decimal, error) {
	if !attached.Equal(one) {
		return decimal.Zero, ErrConfirmationRequired
	}

	active := m.registry.CountBySeller(caller)
	surplus, remaining := m.quota.Withdraw(caller, active)
	if surplus.IsZero() {
		return decimal.Zero, nil
	}

	m.mirrorDeposit(ctx, caller, remaining)
	m.publishPayment(ctx, caller, registry.NativeToken, surplus, "storage withdrawal", "")
	m.logger.Info("storage withdraw",
		"account", caller,
		"surplus", surplus,
		"remaining", remaining,
		"active_sales", active,
	)
	return surplus, nil
}

func (m *Market) StorageBalanceOf(account string) decimal.Decimal {
	return m.quota.BalanceOf(account)
}

func (m *Market) StorageMinimumBalance() decimal.Decimal {
	return m.quota.MinimumBalance()
}

// GetSale returns the active listing for an asset, if any.
func (m *Market) GetSale(collectionID, assetID string) (registry.Sale, bool) {
	return m.registry.Get(collectionID, assetID)
}

func (m *Market) SupplySales() int {
	return m.registry.Len()
}

func (m *Market) SupplyBySeller(seller string) int {
	return m.registry.CountBySeller(seller)
}

func (m *Market) SupplyByCollection(collectionID string) int {
	return m.registry.CountByCollection(collectionID)
}

func (m *Market) SalesBySeller(seller string, offset, limit int) []registry.Sale {
	return m.registry.BySeller(seller, offset, limit)
}

func (m *Market) SalesByCollection(collectionID string, offset, limit int) []registry.Sale {
	return m.registry.ByCollection(collectionID, offset, limit)
}

// Restore rebuilds the in-memory books from the mirror. Call before
// serving traffic.
func (m *Market) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	sales, err := m.store.LoadSales(ctx)
	if err != nil {
		return fmt.Errorf("load sales: %w", err)
	}
	for _, sale := range sales {
		if err := m.registry.Insert(sale); err != nil {
			m.logger.Warn("skip restoring sale", "sale", sale.Key(), "error", err)
		}
	}

	deposits, err := m.store.LoadDeposits(ctx)
	if err != nil {
		return fmt.Errorf("load deposits: %w", err)
	}
	for account, balance := range deposits {
		m.quota.Restore(account, balance)
	}

	if m.metrics != nil {
		m.metrics.ListingsActive.Set(float64(m.registry.Len()))
	}
	m.logger.Info("market state restored", "sales", m.registry.Len(), "deposits", len(deposits))
	return nil
}

// Wait blocks until every in-flight settlement has resolved. For
// shutdown and tests.
func (m *Market) Wait() {
	m.settlements.Wait()
}

func (m *Market) mirrorDeposit(ctx context.Context, account string, balance decimal.Decimal) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveDeposit(ctx, account, balance); err != nil {
		m.logger.Error("mirror deposit", "account", account, "error", err)
	}
}

func (m *Market) mirrorInsert(ctx context.Context, sale registry.Sale) {
	if m.store == nil {
		return
	}
	if err := m.store.InsertSale(ctx, sale); err != nil {
		m.logger.Error("mirror sale insert", "sale", sale.Key(), "error", err)
	}
}

func (m *Market) mirrorUpdate(ctx context.Context, sale registry.Sale) {
	if m.store == nil {
		return
	}
	if err := m.store.UpdateSale(ctx, sale); err != nil {
		m.logger.Error("mirror sale update", "sale", sale.Key(), "error", err)
	}
}

func (m *Market) mirrorDelete(ctx context.Context, collectionID, assetID string) {
	if m.store == nil {
		return
	}
	if err := m.store.DeleteSale(ctx, collectionID, assetID); err != nil {
		m.logger.Error("mirror sale delete", "sale", registry.SaleKey(collectionID, assetID), "error", err)
	}
}
