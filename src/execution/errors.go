package execution

import "fmt"

var (
	ErrInsufficientBalance = fmt.Errorf("insufficient balance")
	ErrInvalidOrderAmount  = fmt.Errorf("invalid order: amount must be greater than 0")
	ErrInvalidOrderPrice   = fmt.Errorf("invalid order: price must be greater than 0")
	ErrNoPriceAvailable    = fmt.Errorf("no price available for symbol")
	ErrOrderNotFound       = fmt.Errorf("order not found")
)
