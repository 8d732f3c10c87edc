// Package ledger holds the balance arithmetic applied to a locked wallet row.
// Callers must hold the wallet lock and persist the result together with the
// purchase record it belongs to.
package ledger

import (
	"errors"

	"prepaid/internal/money"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrBalanceCapExceeded = errors.New("balance cap exceeded")
)

func Debit(balance, amount decimal.Decimal) (decimal.Decimal, error) {
	if !money.ValidTransaction(amount) {
		return balance, ErrInvalidAmount
	}
	next := balance.Sub(amount)
	if next.IsNegative() {
		return balance, ErrInsufficientFunds
	}
	return money.Quantize(next), nil
}

func Credit(balance, amount decimal.Decimal) (decimal.Decimal, error) {
	if !money.ValidTransaction(amount) {
		return balance, ErrInvalidAmount
	}
	next := balance.Add(amount)
	if next.GreaterThan(money.MaxBalance) {
		return balance, ErrBalanceCapExceeded
	}
	return money.Quantize(next), nil
}
