package market

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/veridianlabs/nftmarket/services/marketplace/internal/quota"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/registry"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/tokens"
)

func d(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

type fakeAssets struct {
	mu     sync.Mutex
	payout *Payout
	err    error
	reqs   []TransferPayoutRequest
}

func (f *fakeAssets) TransferPayout(_ context.Context, req TransferPayoutRequest) (*Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.payout, nil
}

func (f *fakeAssets) requests() []TransferPayoutRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TransferPayoutRequest(nil), f.reqs...)
}

type publishedMessage struct {
	topic string
	key   string
	value any
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []publishedMessage
}

func (f *fakePublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, publishedMessage{topic: topic, key: key, value: value})
	return 0, int64(len(f.msgs)), nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) payments() []PaymentRequestedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]PaymentRequestedEvent, 0, len(f.msgs))
	for _, msg := range f.msgs {
		if event, ok := msg.value.(PaymentRequestedEvent); ok {
			events = append(events, event)
		}
	}
	return events
}

type fixture struct {
	market   *Market
	assets   *fakeAssets
	producer *fakePublisher
	quota    *quota.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ledger, err := quota.NewLedger(d(100))
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	assets := &fakeAssets{}
	producer := &fakePublisher{}

	m, err := New(Deps{
		Registry:      registry.New(),
		Quota:         ledger,
		Tokens:        tokens.NewMemory(),
		Assets:        assets,
		Producer:      producer,
		Owner:         "market.operator",
		PaymentsTopic: "payments.requested",
	})
	if err != nil {
		t.Fatalf("new market: %v", err)
	}
	return &fixture{market: m, assets: assets, producer: producer, quota: ledger}
}

func (f *fixture) fundAndList(t *testing.T, seller, collection, asset string, price int64) registry.Sale {
	t.Helper()
	ctx := context.Background()

	if _, err := f.market.StorageDeposit(ctx, seller, "", d(100)); err != nil {
		t.Fatalf("storage deposit: %v", err)
	}
	sale, err := f.market.OnApproval(ctx, ApprovalNotice{
		CollectionID: collection,
		AssetID:      asset,
		OwnerID:      seller,
		ApprovalID:   7,
		SignerID:     seller,
		Terms:        json.RawMessage(`{"sale_conditions":"` + decimal.NewFromInt(price).String() + `"}`),
	})
	if err != nil {
		t.Fatalf("on approval: %v", err)
	}
	return sale
}

func TestOnApprovalRejectsDirectCalls(t *testing.T) {
	f := newFixture(t)

	_, err := f.market.OnApproval(context.Background(), ApprovalNotice{
		CollectionID: "alice.near",
		AssetID:      "token-1",
		OwnerID:      "alice.near",
		SignerID:     "alice.near",
		Terms:        json.RawMessage(`{"sale_conditions":"10"}`),
	})
	if !errors.Is(err, ErrInvalidApprovalOrigin) {
		t.Fatalf("expected ErrInvalidApprovalOrigin, got %v", err)
	}
}

func TestOnApprovalRejectsForeignOwner(t *testing.T) {
	f := newFixture(t)

	_, err := f.market.OnApproval(context.Background(), ApprovalNotice{
		CollectionID: "collection.near",
		AssetID:      "token-1",
		OwnerID:      "bob.near",
		SignerID:     "alice.near",
		Terms:        json.RawMessage(`{"sale_conditions":"10"}`),
	})
	if !errors.Is(err, ErrNotAssetOwner) {
		t.Fatalf("expected ErrNotAssetOwner, got %v", err)
	}
}

func TestOnApprovalRequiresStorageQuota(t *testing.T) {
	f := newFixture(t)

	_, err := f.market.OnApproval(context.Background(), ApprovalNotice{
		CollectionID: "collection.near",
		AssetID:      "token-1",
		OwnerID:      "alice.near",
		SignerID:     "alice.near",
		Terms:        json.RawMessage(`{"sale_conditions":"10"}`),
	})

	var storageErr *InsufficientStorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected InsufficientStorageError, got %v", err)
	}
	if !storageErr.Shortfall.Equal(d(100)) {
		t.Fatalf("shortfall = %s, want 100", storageErr.Shortfall)
	}
}

func TestOnApprovalQuotaGatesSecondListing(t *testing.T) {
	f := newFixture(t)
	f.fundAndList(t, "alice.near", "collection.near", "token-1", 500)

	_, err := f.market.OnApproval(context.Background(), ApprovalNotice{
		CollectionID: "collection.near",
		AssetID:      "token-2",
		OwnerID:      "alice.near",
		SignerID:     "alice.near",
		Terms:        json.RawMessage(`{"sale_conditions":"10"}`),
	})
	var storageErr *InsufficientStorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("one deposit covers one listing, got %v", err)
	}

	if _, err := f.market.StorageDeposit(context.Background(), "alice.near", "", d(100)); err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	if _, err := f.market.OnApproval(context.Background(), ApprovalNotice{
		CollectionID: "collection.near",
		AssetID:      "token-2",
		OwnerID:      "alice.near",
		SignerID:     "alice.near",
		Terms:        json.RawMessage(`{"sale_conditions":"10"}`),
	}); err != nil {
		t.Fatalf("listing after top-up: %v", err)
	}
}

func TestOnApprovalInvalidTerms(t *testing.T) {
	f := newFixture(t)
	if _, err := f.market.StorageDeposit(context.Background(), "alice.near", "", d(100)); err != nil {
		t.Fatalf("storage deposit: %v", err)
	}

	for _, terms := range []string{`not json`, `{"sale_conditions":"12.5"}`, `{"sale_conditions":"-3"}`} {
		_, err := f.market.OnApproval(context.Background(), ApprovalNotice{
			CollectionID: "collection.near",
			AssetID:      "token-1",
			OwnerID:      "alice.near",
			SignerID:     "alice.near",
			Terms:        json.RawMessage(terms),
		})
		if !errors.Is(err, ErrInvalidSaleTerms) {
			t.Fatalf("terms %q: expected ErrInvalidSaleTerms, got %v", terms, err)
		}
	}
}

func TestStorageWithdrawLeavesQuotaForActiveSales(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fundAndList(t, "alice.near", "collection.near", "token-1", 500)
	if _, err := f.market.StorageDeposit(ctx, "alice.near", "", d(300)); err != nil {
		t.Fatalf("extra deposit: %v", err)
	}

	surplus, err := f.market.StorageWithdraw(ctx, "alice.near", d(1))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !surplus.Equal(d(300)) {
		t.Fatalf("surplus = %s, want 300", surplus)
	}
	if got := f.market.StorageBalanceOf("alice.near"); !got.Equal(d(100)) {
		t.Fatalf("remaining = %s, want 100", got)
	}

	events := f.producer.payments()
	if len(events) != 1 {
		t.Fatalf("expected 1 refund event, got %d", len(events))
	}
	if events[0].ReceiverID != "alice.near" || !events[0].Amount.Equal(d(300)) || events[0].TokenID != registry.NativeToken {
		t.Fatalf("unexpected withdrawal payment: %+v", events[0])
	}
}

func TestStorageWithdrawRequiresConfirmation(t *testing.T) {
	f := newFixture(t)

	if _, err := f.market.StorageWithdraw(context.Background(), "alice.near", d(0)); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("expected ErrConfirmationRequired, got %v", err)
	}
	if _, err := f.market.StorageWithdraw(context.Background(), "alice.near", d(2)); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("expected ErrConfirmationRequired for deposit of 2, got %v", err)
	}
}

func TestStorageWithdrawZeroSurplusPublishesNothing(t *testing.T) {
	f := newFixture(t)
	f.fundAndList(t, "alice.near", "collection.near", "token-1", 500)

	surplus, err := f.market.StorageWithdraw(context.Background(), "alice.near", d(1))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !surplus.IsZero() {
		t.Fatalf("surplus = %s, want 0", surplus)
	}
	if events := f.producer.payments(); len(events) != 0 {
		t.Fatalf("expected no payments, got %d", len(events))
	}
}

func TestCancelSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundAndList(t, "alice.near", "collection.near", "token-1", 500)

	if _, err := f.market.CancelSale(ctx, "alice.near", d(0), "collection.near", "token-1"); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("expected ErrConfirmationRequired, got %v", err)
	}
	if _, err := f.market.CancelSale(ctx, "mallory.near", d(1), "collection.near", "token-1"); !errors.Is(err, registry.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	sale, err := f.market.CancelSale(ctx, "alice.near", d(1), "collection.near", "token-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if sale.Seller != "alice.near" {
		t.Fatalf("cancelled sale seller = %s", sale.Seller)
	}
	if _, ok := f.market.GetSale("collection.near", "token-1"); ok {
		t.Fatal("sale still listed after cancel")
	}
	if _, err := f.market.CancelSale(ctx, "alice.near", d(1), "collection.near", "token-1"); !errors.Is(err, registry.ErrSaleNotFound) {
		t.Fatalf("expected ErrSaleNotFound, got %v", err)
	}
}

func TestUpdatePrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundAndList(t, "alice.near", "collection.near", "token-1", 500)

	if _, err := f.market.UpdatePrice(ctx, "alice.near", d(0), "collection.near", "token-1", d(900), ""); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("expected ErrConfirmationRequired, got %v", err)
	}
	if _, err := f.market.UpdatePrice(ctx, "mallory.near", d(1), "collection.near", "token-1", d(900), ""); !errors.Is(err, registry.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.market.UpdatePrice(ctx, "alice.near", d(1), "collection.near", "token-1", d(-1), ""); !errors.Is(err, ErrInvalidSaleTerms) {
		t.Fatalf("expected ErrInvalidSaleTerms, got %v", err)
	}
	if _, err := f.market.UpdatePrice(ctx, "alice.near", d(1), "collection.near", "token-1", d(900), "shady.token"); !errors.Is(err, ErrUnapprovedToken) {
		t.Fatalf("expected ErrUnapprovedToken, got %v", err)
	}

	sale, err := f.market.UpdatePrice(ctx, "alice.near", d(1), "collection.near", "token-1", d(900), "")
	if err != nil {
		t.Fatalf("update price: %v", err)
	}
	if !sale.Price.Equal(d(900)) {
		t.Fatalf("price = %s, want 900", sale.Price)
	}
	if sale.Seller != "alice.near" || sale.ApprovalID != 7 {
		t.Fatalf("identity fields changed: %+v", sale)
	}

	if _, err := f.market.ApproveTokens(ctx, "market.operator", []string{"usdt.token"}); err != nil {
		t.Fatalf("approve tokens: %v", err)
	}
	sale, err = f.market.UpdatePrice(ctx, "alice.near", d(1), "collection.near", "token-1", d(900), "usdt.token")
	if err != nil {
		t.Fatalf("update payment token: %v", err)
	}
	if sale.PaymentToken != "usdt.token" {
		t.Fatalf("payment token = %s, want usdt.token", sale.PaymentToken)
	}
}

func TestApproveTokensOperatorOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.market.ApproveTokens(ctx, "alice.near", []string{"usdt.token"}); !errors.Is(err, registry.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	added, err := f.market.ApproveTokens(ctx, "market.operator", []string{"usdt.token"})
	if err != nil {
		t.Fatalf("approve tokens: %v", err)
	}
	if len(added) != 1 || !added[0] {
		t.Fatalf("unexpected approval result: %v", added)
	}
}
