package erc4337

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignUserOperation(t *testing.T) {
	account := &fakeAccount{entryPoint: EntryPointV07}
	chainID := big.NewInt(11155111)

	op := completeUserOperationV07()
	signed, err := SignUserOperation(context.Background(), account, op, chainID)
	require.NoError(t, err)

	hash, err := GetUserOperationHash(op, EntryPointV07, chainID)
	require.NoError(t, err)
	assert.Equal(t, hexutil.Bytes(hash.Bytes()), signed.Core().Signature)
	assert.Equal(t, hexutil.Bytes{0xde, 0xf0}, op.Signature, "input must not be mutated")

	incomplete := completeUserOperationV07()
	incomplete.MaxFeePerGas = nil
	_, err = SignUserOperation(context.Background(), account, incomplete, chainID)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "maxFeePerGas", verr.Field)
}
