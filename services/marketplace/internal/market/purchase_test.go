package market

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/veridianlabs/nftmarket/services/marketplace/internal/registry"
)

func TestOfferSettlesWithValidPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundAndList(t, "alice.near", "collection.near", "token-1", 1000)
	f.assets.payout = &Payout{Payout: map[string]decimal.Decimal{
		"alice.near":   d(950),
		"creator.near": d(50),
	}}

	if err := f.market.Offer(ctx, "bob.near", "collection.near", "token-1", d(1000)); err != nil {
		t.Fatalf("offer: %v", err)
	}
	f.market.Wait()

	if _, ok := f.market.GetSale("collection.near", "token-1"); ok {
		t.Fatal("sale still listed after purchase")
	}

	reqs := f.assets.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 transfer request, got %d", len(reqs))
	}
	req := reqs[0]
	if req.ReceiverID != "bob.near" || req.ApprovalID != 7 || req.MaxLenPayout != MaxPayoutEntries {
		t.Fatalf("unexpected transfer request: %+v", req)
	}
	if !req.Balance.Equal(d(1000)) {
		t.Fatalf("transfer balance = %s, want 1000", req.Balance)
	}

	events := f.producer.payments()
	if len(events) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(events))
	}
	got := map[string]decimal.Decimal{}
	for _, e := range events {
		if e.TokenID != registry.NativeToken {
			t.Fatalf("payment in %s, want native", e.TokenID)
		}
		got[e.ReceiverID] = e.Amount
	}
	if !got["alice.near"].Equal(d(950)) || !got["creator.near"].Equal(d(50)) {
		t.Fatalf("unexpected disbursement: %v", got)
	}
}

func TestOfferExcessDepositJoinsBalance(t *testing.T) {
	f := newFixture(t)
	f.fundAndList(t, "alice.near", "collection.near", "token-1", 1000)
	f.assets.payout = &Payout{Payout: map[string]decimal.Decimal{"alice.near": d(1200)}}

	if err := f.market.Offer(context.Background(), "bob.near", "collection.near", "token-1", d(1200)); err != nil {
		t.Fatalf("offer: %v", err)
	}
	f.market.Wait()

	reqs := f.assets.requests()
	if len(reqs) != 1 || !reqs[0].Balance.Equal(d(1200)) {
		t.Fatalf("expected full deposit as settlement balance, got %+v", reqs)
	}
}

func TestOfferRefundsWhenTransferFails(t *testing.T) {
	f := newFixture(t)
	f.fundAndList(t, "alice.near", "collection.near", "token-1", 1000)
	f.assets.err = errors.New("asset service unavailable")

	if err := f.market.Offer(context.Background(), "bob.near", "collection.near", "token-1", d(1000)); err != nil {
		t.Fatalf("offer: %v", err)
	}
	f.market.Wait()

	events := f.producer.payments()
	if len(events) != 1 {
		t.Fatalf("expected single refund, got %d payments", len(events))
	}
	if events[0].ReceiverID != "bob.near" || !events[0].Amount.Equal(d(1000)) {
		t.Fatalf("unexpected refund: %+v", events[0])
	}
	if _, ok := f.market.GetSale("collection.near", "token-1"); ok {
		t.Fatal("failed purchase must not relist the sale")
	}
}

func TestOfferRefundsWhenPayoutInvalid(t *testing.T) {
	cases := []struct {
		name   string
		payout *Payout
	}{
		{"nil payout", nil},
		{"empty payout", &Payout{Payout: map[string]decimal.Decimal{}}},
		{"sum exceeds price", &Payout{Payout: map[string]decimal.Decimal{"alice.near": d(1100)}}},
		{"sum short of price", &Payout{Payout: map[string]decimal.Decimal{"alice.near": d(900)}}},
		{"too many payees", &Payout{Payout: map[string]decimal.Decimal{
			"a": d(125), "b": d(125), "c": d(125), "d": d(125),
			"e": d(125), "f": d(125), "g": d(125), "h": d(125),
		}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.fundAndList(t, "alice.near", "collection.near", "token-1", 1000)
			f.assets.payout = tc.payout

			if err := f.market.Offer(context.Background(), "bob.near", "collection.near", "token-1", d(1000)); err != nil {
				t.Fatalf("offer: %v", err)
			}
			f.market.Wait()

			events := f.producer.payments()
			if len(events) != 1 {
				t.Fatalf("expected single refund, got %d payments", len(events))
			}
			if events[0].ReceiverID != "bob.near" || !events[0].Amount.Equal(d(1000)) {
				t.Fatalf("unexpected refund: %+v", events[0])
			}
		})
	}
}

func TestOfferPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundAndList(t, "alice.near", "collection.near", "token-1", 1000)

	if err := f.market.Offer(ctx, "bob.near", "collection.near", "token-1", d(0)); !errors.Is(err, ErrInsufficientTender) {
		t.Fatalf("zero deposit: expected ErrInsufficientTender, got %v", err)
	}
	if err := f.market.Offer(ctx, "bob.near", "collection.near", "token-1", d(999)); !errors.Is(err, ErrInsufficientTender) {
		t.Fatalf("short deposit: expected ErrInsufficientTender, got %v", err)
	}
	if err := f.market.Offer(ctx, "alice.near", "collection.near", "token-1", d(1000)); !errors.Is(err, ErrSelfPurchase) {
		t.Fatalf("self purchase: expected ErrSelfPurchase, got %v", err)
	}
	if err := f.market.Offer(ctx, "bob.near", "collection.near", "missing", d(1000)); !errors.Is(err, registry.ErrSaleNotFound) {
		t.Fatalf("missing sale: expected ErrSaleNotFound, got %v", err)
	}

	// Failed preconditions leave the listing untouched.
	if _, ok := f.market.GetSale("collection.near", "token-1"); !ok {
		t.Fatal("sale should still be listed")
	}
	if len(f.producer.payments()) != 0 {
		t.Fatal("failed offers must not publish payments")
	}
}

func TestOfferRejectsTokenDenominatedSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.market.ApproveTokens(ctx, "market.operator", []string{"usdt.token"}); err != nil {
		t.Fatalf("approve token: %v", err)
	}
	if _, err := f.market.StorageDeposit(ctx, "alice.near", "", d(100)); err != nil {
		t.Fatalf("storage deposit: %v", err)
	}
	if _, err := f.market.OnApproval(ctx, ApprovalNotice{
		CollectionID: "collection.near",
		AssetID:      "token-1",
		OwnerID:      "alice.near",
		ApprovalID:   1,
		SignerID:     "alice.near",
		Terms:        []byte(`{"sale_conditions":"1000","ft_token_id":"usdt.token"}`),
	}); err != nil {
		t.Fatalf("on approval: %v", err)
	}

	if err := f.market.Offer(ctx, "bob.near", "collection.near", "token-1", d(1000)); !errors.Is(err, ErrWrongCurrency) {
		t.Fatalf("expected ErrWrongCurrency, got %v", err)
	}
}

func TestConcurrentOffersSettleExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.fundAndList(t, "alice.near", "collection.near", "token-1", 1000)
	f.assets.payout = &Payout{Payout: map[string]decimal.Decimal{"alice.near": d(1000)}}

	const buyers = 8
	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.market.Offer(context.Background(), "buyer.near", "collection.near", "token-1", d(1000))
		}(i)
	}
	wg.Wait()
	f.market.Wait()

	won := 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, registry.ErrSaleNotFound):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("%d offers won the sale, want exactly 1", won)
	}
	if reqs := f.assets.requests(); len(reqs) != 1 {
		t.Fatalf("%d transfer requests, want 1", len(reqs))
	}
}

func TestFTOnTransferPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.market.ApproveTokens(ctx, "market.operator", []string{"usdt.token"}); err != nil {
		t.Fatalf("approve token: %v", err)
	}
	if _, err := f.market.StorageDeposit(ctx, "alice.near", "", d(100)); err != nil {
		t.Fatalf("storage deposit: %v", err)
	}
	if _, err := f.market.OnApproval(ctx, ApprovalNotice{
		CollectionID: "collection.near",
		AssetID:      "token-1",
		OwnerID:      "alice.near",
		ApprovalID:   3,
		SignerID:     "alice.near",
		Terms:        []byte(`{"sale_conditions":"1000","ft_token_id":"usdt.token"}`),
	}); err != nil {
		t.Fatalf("on approval: %v", err)
	}
	f.assets.payout = &Payout{Payout: map[string]decimal.Decimal{"alice.near": d(1000)}}

	unused, err := f.market.FTOnTransfer(ctx, "usdt.token", "bob.near", d(1000),
		`{"nft_contract_id":"collection.near","token_id":"token-1"}`)
	if err != nil {
		t.Fatalf("ft on transfer: %v", err)
	}
	if !unused.IsZero() {
		t.Fatalf("unused = %s, want 0", unused)
	}
	f.market.Wait()

	events := f.producer.payments()
	if len(events) != 1 {
		t.Fatalf("expected 1 payment, got %d", len(events))
	}
	if events[0].ReceiverID != "alice.near" || events[0].TokenID != "usdt.token" {
		t.Fatalf("unexpected disbursement: %+v", events[0])
	}
}

func TestFTOnTransferReturnsFundsOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundAndList(t, "alice.near", "collection.near", "token-1", 1000)

	cases := []struct {
		name    string
		tokenID string
		sender  string
		amount  decimal.Decimal
		msg     string
		wantErr error
	}{
		{"empty message", "usdt.token", "bob.near", d(500), "", nil},
		{"malformed message", "usdt.token", "bob.near", d(500), "{", ErrInvalidSaleTerms},
		{"missing sale", "usdt.token", "bob.near", d(500),
			`{"nft_contract_id":"collection.near","token_id":"missing"}`, registry.ErrSaleNotFound},
		{"wrong currency", "usdt.token", "bob.near", d(1000),
			`{"nft_contract_id":"collection.near","token_id":"token-1"}`, ErrWrongCurrency},
		{"zero amount", "usdt.token", "bob.near", d(0),
			`{"nft_contract_id":"collection.near","token_id":"token-1"}`, ErrInsufficientTender},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			unused, err := f.market.FTOnTransfer(ctx, tc.tokenID, tc.sender, tc.amount, tc.msg)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			} else if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if !unused.Equal(tc.amount) {
				t.Fatalf("unused = %s, want full amount %s back", unused, tc.amount)
			}
		})
	}

	if _, ok := f.market.GetSale("collection.near", "token-1"); !ok {
		t.Fatal("sale should still be listed")
	}
}
