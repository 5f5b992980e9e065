package assets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/veridianlabs/nftmarket/services/marketplace/internal/market"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := NewClient(url, "nk_test_key", 2*time.Second, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.http.RetryMax = 0
	return client
}

func TestTransferPayout(t *testing.T) {
	var gotReq market.TransferPayoutRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != transferPayoutPath {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get(apiKeyHeader); got != "nk_test_key" {
			t.Errorf("api key header = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"payout": map[string]string{"alice.near": "950", "creator.near": "50"},
		})
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	payout, err := client.TransferPayout(context.Background(), market.TransferPayoutRequest{
		ReceiverID:   "bob.near",
		CollectionID: "collection.near",
		AssetID:      "token-1",
		ApprovalID:   7,
		Balance:      decimal.NewFromInt(1000),
		MaxLenPayout: market.MaxPayoutEntries,
	})
	if err != nil {
		t.Fatalf("transfer payout: %v", err)
	}

	if gotReq.ReceiverID != "bob.near" || gotReq.ApprovalID != 7 {
		t.Fatalf("unexpected request body: %+v", gotReq)
	}
	if len(payout.Payout) != 2 || !payout.Payout["alice.near"].Equal(decimal.NewFromInt(950)) {
		t.Fatalf("unexpected payout: %+v", payout)
	}
}

func TestTransferPayoutRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"approval revoked"}`, http.StatusConflict)
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	_, err := client.TransferPayout(context.Background(), market.TransferPayoutRequest{
		ReceiverID: "bob.near",
		Balance:    decimal.NewFromInt(1000),
	})
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestTransferPayoutContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := newTestClient(t, server.URL)
	_, err := client.TransferPayout(ctx, market.TransferPayoutRequest{ReceiverID: "bob.near"})
	if err == nil {
		t.Fatal("expected error when context expires")
	}
}
