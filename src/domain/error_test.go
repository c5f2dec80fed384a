package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/ethaccount/useropkit/erc4337"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromClientError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantName   string
		wantStatus int
		wantRemote int
	}{
		{
			name:       "validation",
			err:        &erc4337.ValidationError{Field: "calls", Msg: "required"},
			wantName:   "PARAMETER_INVALID",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "wrapped validation",
			err:        fmt.Errorf("prepare: %w", &erc4337.ValidationError{Field: "sender", Msg: "required"}),
			wantName:   "PARAMETER_INVALID",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "receipt timeout",
			err:        &erc4337.TimeoutError{Hash: common.HexToHash("0x01"), Timeout: time.Second},
			wantName:   "TIMEOUT",
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "bundler rejection",
			err:        &erc4337.RPCError{Method: "eth_sendUserOperation", Code: -32507, Message: "AA25 invalid account nonce"},
			wantName:   "REMOTE_PROCESS_ERROR",
			wantStatus: http.StatusBadGateway,
			wantRemote: -32507,
		},
		{
			name:       "configuration",
			err:        &erc4337.ConfigError{Msg: "unknown entry point"},
			wantName:   "INTERNAL_PROCESS",
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "deadline",
			err:        context.DeadlineExceeded,
			wantName:   "TIMEOUT",
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "anything else",
			err:        errors.New("boom"),
			wantName:   "INTERNAL_PROCESS",
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromClientError(tt.err)
			var domainErr DomainError
			require.ErrorAs(t, err, &domainErr)
			assert.Equal(t, tt.wantName, domainErr.Name())
			assert.Equal(t, tt.wantStatus, domainErr.HTTPStatus())
			assert.Equal(t, tt.wantRemote, domainErr.RemoteCode())
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, FromClientError(nil))

	original := NewError(ErrorCodeResourceNotFound, errors.New("missing"))
	assert.Equal(t, original, FromClientError(original))
}

func TestDomainError_ZeroValue(t *testing.T) {
	var e DomainError
	assert.Equal(t, "UNKNOWN_ERROR", e.Name())
	assert.Equal(t, http.StatusInternalServerError, e.HTTPStatus())
	assert.Empty(t, e.ClientMsg())
	assert.Nil(t, e.Detail())
}

func TestReceiptUpdate(t *testing.T) {
	txHash := common.HexToHash("0xbeef")
	receipt := &erc4337.UserOperationReceipt{
		Success:       true,
		ActualGasCost: erc4337.Big(21_000),
		ActualGasUsed: erc4337.Big(1_000),
		Receipt:       &erc4337.TransactionReceipt{TransactionHash: txHash},
	}

	update := ReceiptUpdate(receipt)
	assert.Equal(t, OperationStatusIncluded, update.Status)
	assert.Equal(t, txHash.Hex(), *update.TransactionHash)
	assert.Equal(t, "21000", *update.ActualGasCost)
	assert.Nil(t, update.ErrMsg)

	receipt.Success = false
	receipt.Reason = "0x08c379a0"
	update = ReceiptUpdate(receipt)
	assert.Equal(t, OperationStatusReverted, update.Status)
	assert.Equal(t, "0x08c379a0", *update.ErrMsg)
}

func TestWeiToEther(t *testing.T) {
	eth, err := WeiToEther("1500000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "1.5", eth.String())

	_, err = WeiToEther("not-a-number")
	assert.Error(t, err)
}
