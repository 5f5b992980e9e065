package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxPayoutEntries caps how many payees a single settlement may disburse
// to, bounding the work done per purchase.
const MaxPayoutEntries = 7

// Payout is the split of sale proceeds returned by the asset-transfer
// service. It is untrusted input: nothing is disbursed before the whole
// object validates.
type Payout struct {
	Payout map[string]decimal.Decimal `json:"payout"`
}

// TransferPayoutRequest asks the asset-transfer service to deliver the
// asset to the receiver on the seller's authorization and return the
// payout split for the given balance.
type TransferPayoutRequest struct {
	ReceiverID   string          `json:"receiver_id"`
	CollectionID string          `json:"collection_id"`
	AssetID      string          `json:"asset_id"`
	ApprovalID   uint64          `json:"approval_id"`
	Memo         string          `json:"memo"`
	Balance      decimal.Decimal `json:"balance"`
	MaxLenPayout int             `json:"max_len_payout"`
}

// validatePayout accepts a distribution only if it has 1..MaxPayoutEntries
// payees, every amount is a positive integer, and the amounts sum to the
// price within a tolerance of 1 unit (integer rounding of percentage
// splits). Anything else is rejected wholesale.
func validatePayout(price decimal.Decimal, payout *Payout) (map[string]decimal.Decimal, error) {
	if payout == nil || payout.Payout == nil {
		return nil, fmt.Errorf("missing payout object")
	}
	n := len(payout.Payout)
	if n == 0 {
		return nil, fmt.Errorf("payout has no entries")
	}
	if n > MaxPayoutEntries {
		return nil, fmt.Errorf("payout has %d entries, maximum is %d", n, MaxPayoutEntries)
	}

	remainder := price
	for payee, amount := range payout.Payout {
		if payee == "" {
			return nil, fmt.Errorf("payout entry with empty payee")
		}
		if !amount.IsInteger() || amount.IsNegative() || amount.IsZero() {
			return nil, fmt.Errorf("payout amount for %s must be a positive integer", payee)
		}
		remainder = remainder.Sub(amount)
		if remainder.IsNegative() {
			return nil, fmt.Errorf("payout exceeds the sale price")
		}
	}

	if !remainder.IsZero() && !remainder.Equal(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("payout sums to %s less than the sale price", remainder)
	}
	return payout.Payout, nil
}
