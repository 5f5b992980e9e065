package market

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrWrongCurrency         = errors.New("sale is not payable in this token")
	ErrSelfPurchase          = errors.New("cannot buy your own sale")
	ErrInsufficientTender    = errors.New("attached deposit is below the sale price")
	ErrConfirmationRequired  = errors.New("requires an attached deposit of exactly 1")
	ErrUnapprovedToken       = errors.New("payment token is not approved")
	ErrInvalidSaleTerms      = errors.New("invalid sale terms")
	ErrInvalidApprovalOrigin = errors.New("approval must arrive by cross-service notification")
	ErrNotAssetOwner         = errors.New("owner must be the authorizing signer")
)

// InsufficientStorageError reports how much more quota the signer needs
// before another listing fits.
type InsufficientStorageError struct {
	Balance   decimal.Decimal
	Required  decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientStorageError) Error() string {
	return fmt.Sprintf("insufficient storage deposit: have %s, need %s (short %s)", e.Balance, e.Required, e.Shortfall)
}
