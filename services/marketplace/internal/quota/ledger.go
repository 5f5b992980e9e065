package quota

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var ErrInsufficientDeposit = errors.New("deposit below the minimum listing cost")

// Ledger tracks prepaid storage balances that gate how many listings an
// account may keep in the registry. Quota is not decremented per listing;
// instead withdrawals are capped so the balance never drops below what the
// account's active listings require.
type Ledger struct {
	mu          sync.Mutex
	balances    map[string]decimal.Decimal
	costPerSale decimal.Decimal
}

func NewLedger(costPerSale decimal.Decimal) (*Ledger, error) {
	if costPerSale.IsNegative() || costPerSale.IsZero() || !costPerSale.IsInteger() {
		return nil, fmt.Errorf("cost per sale must be a positive integer amount")
	}
	return &Ledger{
		balances:    make(map[string]decimal.Decimal),
		costPerSale: costPerSale,
	}, nil
}

// MinimumBalance is the smallest accepted deposit: the cost of one sale.
func (l *Ledger) MinimumBalance() decimal.Decimal {
	return l.costPerSale
}

// Deposit credits the account. Deposits below the cost of a single sale
// are rejected.
func (l *Ledger) Deposit(account string, amount decimal.Decimal) (decimal.Decimal, error) {
	if account == "" {
		return decimal.Zero, fmt.Errorf("account is required")
	}
	if amount.LessThan(l.costPerSale) {
		return decimal.Zero, fmt.Errorf("%w: minimum is %s", ErrInsufficientDeposit, l.costPerSale)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balances[account].Add(amount)
	l.balances[account] = balance
	return balance, nil
}

// Withdraw releases everything above what the account's active listings
// require, leaving exactly activeSales x costPerSale behind. A zero
// surplus withdraws nothing and is not an error.
func (l *Ledger) Withdraw(account string, activeSales int) (surplus decimal.Decimal, remaining decimal.Decimal) {
	if activeSales < 0 {
		activeSales = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balances[account]
	required := l.costPerSale.Mul(decimal.NewFromInt(int64(activeSales)))

	surplus = balance.Sub(required)
	if surplus.IsNegative() || surplus.IsZero() {
		return decimal.Zero, balance
	}

	if required.IsZero() {
		delete(l.balances, account)
	} else {
		l.balances[account] = required
	}
	return surplus, required
}

// BalanceOf returns zero for unknown accounts.
func (l *Ledger) BalanceOf(account string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

// Covers reports whether the account's balance can hold one more listing
// on top of the given active count, and the shortfall if it cannot.
func (l *Ledger) Covers(account string, activeSales int) (bool, decimal.Decimal) {
	if activeSales < 0 {
		activeSales = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	required := l.costPerSale.Mul(decimal.NewFromInt(int64(activeSales) + 1))
	balance := l.balances[account]
	if balance.GreaterThanOrEqual(required) {
		return true, decimal.Zero
	}
	return false, required.Sub(balance)
}

// Restore seeds a balance from persistence, bypassing the minimum-deposit
// check.
func (l *Ledger) Restore(account string, balance decimal.Decimal) {
	if account == "" || balance.IsNegative() || balance.IsZero() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = balance
}
