package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		code      int64
		msg       string
		want      error
		transient bool
	}{
		{codeDisconnected, "Internal error", ErrNetwork, true},
		{codeTooManyRequests, "Too many requests", ErrRateLimited, true},
		{codeTimestamp, "Timestamp outside recvWindow", ErrNetwork, true},
		{codeBadAPIKey, "API-key format invalid", ErrAuth, false},
		{codeInvalidSymbol, "Invalid symbol", ErrInvalidPair, false},
		{codeNewOrderRejects, "Account has insufficient balance for requested action.", ErrInsufficientFunds, false},
		{codeNewOrderRejects, "Market is closed.", ErrRejected, false},
		{codeNoSuchOrder, "Order does not exist.", ErrOrderNotFound, false},
	}
	for _, c := range cases {
		err := classifyError("op", &common.APIError{Code: c.code, Message: c.msg})
		assert.ErrorIs(t, err, c.want, c.msg)
		assert.Equal(t, c.transient, IsTransient(err), c.msg)
	}
}

func TestClassifyNonAPIErrorAsNetwork(t *testing.T) {
	err := classifyError("op", errors.New("connection reset by peer"))
	assert.ErrorIs(t, err, ErrNetwork)
	assert.True(t, IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.False(t, IsTransient(fmt.Errorf("wrapped: %w", ErrRejected)))
	assert.False(t, IsTransient(context.Canceled))
}

func TestIsDuplicateOrder(t *testing.T) {
	assert.True(t, isDuplicateOrder(&common.APIError{Code: codeNewOrderRejects, Message: "Duplicate order sent."}))
	assert.False(t, isDuplicateOrder(&common.APIError{Code: codeNewOrderRejects, Message: "Market is closed."}))
	assert.False(t, isDuplicateOrder(errors.New("Duplicate order sent.")))
}
