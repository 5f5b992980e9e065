package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/veridianlabs/nftmarket/services/marketplace/internal/registry"
)

// PurchaseArgs names the sale a fungible-token transfer is paying for.
type PurchaseArgs struct {
	CollectionID string `json:"nft_contract_id"`
	AssetID      string `json:"token_id"`
}

// Offer buys a native-currency sale outright. The attached deposit is
// the full tender: it must cover the asking price, and everything
// attached becomes the settlement balance.
//
// Once the sale leaves the registry the purchase is committed. The
// asset transfer and payouts run asynchronously; a failed transfer
// refunds the buyer, it never relists the sale.
func (m *Market) Offer(ctx context.Context, buyer string, collectionID, assetID string, deposit decimal.Decimal) error {
	if deposit.IsNegative() || deposit.IsZero() || !deposit.IsInteger() {
		return fmt.Errorf("%w: attached deposit must be a positive integer", ErrInsufficientTender)
	}

	sale, err := m.registry.RemoveIf(collectionID, assetID, func(s registry.Sale) error {
		if s.PaymentToken != registry.NativeToken {
			return ErrWrongCurrency
		}
		if s.Seller == buyer {
			return ErrSelfPurchase
		}
		if deposit.LessThan(s.Price) {
			return fmt.Errorf("%w: price is %s", ErrInsufficientTender, s.Price)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.commitPurchase(ctx, sale, buyer, deposit, registry.NativeToken)
	return nil
}

// FTOnTransfer is the payment service reporting that sender moved
// amount of tokenID to the market. The returned value is the unused
// portion the payment service must hand back to the sender: the full
// amount when the purchase cannot proceed, zero when it does.
func (m *Market) FTOnTransfer(ctx context.Context, tokenID, sender string, amount decimal.Decimal, msg string) (decimal.Decimal, error) {
	if amount.IsNegative() || amount.IsZero() || !amount.IsInteger() {
		return amount, fmt.Errorf("%w: transferred amount must be a positive integer", ErrInsufficientTender)
	}
	if msg == "" {
		return amount, nil
	}

	var args PurchaseArgs
	if err := json.Unmarshal([]byte(msg), &args); err != nil {
		return amount, fmt.Errorf("%w: %v", ErrInvalidSaleTerms, err)
	}
	if args.CollectionID == "" || args.AssetID == "" {
		return amount, fmt.Errorf("%w: nft_contract_id and token_id are required", ErrInvalidSaleTerms)
	}

	sale, err := m.registry.RemoveIf(args.CollectionID, args.AssetID, func(s registry.Sale) error {
		if s.PaymentToken != tokenID {
			return ErrWrongCurrency
		}
		if s.Seller == sender {
			return ErrSelfPurchase
		}
		if amount.LessThan(s.Price) {
			return fmt.Errorf("%w: price is %s", ErrInsufficientTender, s.Price)
		}
		return nil
	})
	if err != nil {
		return amount, err
	}

	m.commitPurchase(ctx, sale, sender, amount, tokenID)
	return decimal.Zero, nil
}

// RefundTransfer sends back funds the market received but could not
// apply to a purchase. Used by the transfer consumer, where money has
// already moved before the market hears about it.
func (m *Market) RefundTransfer(ctx context.Context, receiver, tokenID string, amount decimal.Decimal, memo, correlationID string) {
	m.publishPayment(ctx, receiver, tokenID, amount, memo, correlationID)
}

// commitPurchase runs after the sale has been removed. From here the
// outcome is settle or refund, never relist.
func (m *Market) commitPurchase(ctx context.Context, sale registry.Sale, buyer string, balance decimal.Decimal, tokenID string) {
	m.mirrorDelete(ctx, sale.CollectionID, sale.AssetID)
	if m.metrics != nil {
		m.metrics.ListingsTotal.WithLabelValues("sold").Inc()
		m.metrics.ListingsActive.Set(float64(m.registry.Len()))
	}

	correlationID := uuid.NewString()
	m.logger.Info("purchase committed",
		"sale", sale.Key(),
		"buyer", buyer,
		"balance", balance,
		"token_id", tokenID,
		"correlation_id", correlationID,
	)

	m.settlements.Add(1)
	go m.settle(sale, buyer, balance, tokenID, correlationID)
}

// settle drives phase two: ask the asset service to transfer the asset
// and report the payout split, then resolve against that answer.
func (m *Market) settle(sale registry.Sale, buyer string, balance decimal.Decimal, tokenID, correlationID string) {
	defer m.settlements.Done()

	// The originating request has already returned; settlement gets its
	// own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), m.assetCallTimeout)
	defer cancel()

	start := time.Now()
	payout, err := m.assets.TransferPayout(ctx, TransferPayoutRequest{
		ReceiverID:   buyer,
		CollectionID: sale.CollectionID,
		AssetID:      sale.AssetID,
		ApprovalID:   sale.ApprovalID,
		Memo:         "payout from market",
		Balance:      balance,
		MaxLenPayout: MaxPayoutEntries,
	})
	m.resolvePurchase(ctx, sale, buyer, balance, tokenID, correlationID, payout, err)

	if m.metrics != nil {
		m.metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	}
}

// resolvePurchase disburses the validated payout, or refunds the buyer
// in full when the transfer failed or the payout does not hold up. The
// payout is all-or-nothing: one bad entry rejects the whole split.
func (m *Market) resolvePurchase(ctx context.Context, sale registry.Sale, buyer string, balance decimal.Decimal, tokenID, correlationID string, payout *Payout, transferErr error) {
	var (
		split  map[string]decimal.Decimal
		reason string
	)
	switch {
	case transferErr != nil:
		reason = "transfer_failed"
		m.logger.Warn("asset transfer failed",
			"sale", sale.Key(),
			"buyer", buyer,
			"correlation_id", correlationID,
			"error", transferErr,
		)
	default:
		var err error
		split, err = validatePayout(balance, payout)
		if err != nil {
			reason = "invalid_payout"
			m.logger.Warn("payout rejected",
				"sale", sale.Key(),
				"buyer", buyer,
				"correlation_id", correlationID,
				"error", err,
			)
		}
	}

	if reason != "" {
		if m.metrics != nil {
			m.metrics.PayoutRejections.WithLabelValues(reason).Inc()
			m.metrics.SettlementsTotal.WithLabelValues("refunded").Inc()
		}
		m.publishPayment(ctx, buyer, tokenID, balance, "purchase refund", correlationID)
		return
	}

	payees := make([]string, 0, len(split))
	for payee := range split {
		payees = append(payees, payee)
	}
	sort.Strings(payees)
	for _, payee := range payees {
		m.publishPayment(ctx, payee, tokenID, split[payee], "sale proceeds", correlationID)
	}

	if m.metrics != nil {
		m.metrics.SettlementsTotal.WithLabelValues("settled").Inc()
	}
	m.logger.Info("purchase settled",
		"sale", sale.Key(),
		"buyer", buyer,
		"payees", len(payees),
		"correlation_id", correlationID,
	)
}
