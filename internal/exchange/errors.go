package exchange

import (
	"context"
	"errors"
	"net"
)

// Typed failures surfaced by Exchange implementations. Adapters wrap the
// underlying error so callers can match with errors.Is.
var (
	ErrNetwork           = errors.New("exchange network error")
	ErrRateLimited       = errors.New("exchange rate limited")
	ErrAuth              = errors.New("exchange authentication failed")
	ErrInvalidPair       = errors.New("invalid currency pair")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRejected          = errors.New("order rejected")
	ErrNoQuote           = errors.New("no quote available")
	ErrOrderNotFound     = errors.New("order not found")
)

// IsTransient reports whether err is worth retrying: network failures, rate
// limiting, timeouts and empty books.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNoQuote) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
