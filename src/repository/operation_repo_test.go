package repository

import (
	"context"
	"testing"

	"github.com/ethaccount/useropkit/erc4337"
	"github.com/ethaccount/useropkit/src/domain"
	"github.com/ethaccount/useropkit/src/testutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUserOperation() *erc4337.UserOperationV07 {
	return &erc4337.UserOperationV07{
		UserOperationCore: erc4337.UserOperationCore{
			Sender:               common.HexToAddress("0x1234567890123456789012345678901234567890"),
			Nonce:                erc4337.Big(1),
			CallData:             []byte{0xab, 0xcd, 0xef},
			CallGasLimit:         erc4337.Big(100_000),
			VerificationGasLimit: erc4337.Big(50_000),
			PreVerificationGas:   erc4337.Big(21_000),
			MaxPriorityFeePerGas: erc4337.Big(1_000_000_000),
			MaxFeePerGas:         erc4337.Big(2_000_000_000),
			Signature:            []byte{0x12, 0x34},
		},
	}
}

func TestOperationRepository_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewOperationRepository(db)
	ctx := context.Background()

	op := testUserOperation()
	hash := common.HexToHash("0x01")
	record, err := domain.NewOperationRecord(op, erc4337.EntryPointV07, 11155111, hash.Hex())
	require.NoError(t, err)

	require.NoError(t, repo.Create(ctx, record))
	assert.NotEqual(t, uuid.Nil, record.ID)
	assert.False(t, record.CreatedAt.IsZero())

	found, err := repo.FindByHash(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, op.Sender.Hex(), found.Sender)
	assert.Equal(t, domain.OperationStatusPending, found.Status)
	assert.Equal(t, "1", found.Nonce)

	stored, err := found.GetUserOperation()
	require.NoError(t, err)
	assert.Equal(t, op.Sender, stored.Core().Sender)
	assert.Zero(t, op.CallGasLimit.ToInt().Cmp(stored.Core().CallGasLimit.ToInt()))

	// user_op_hash is unique
	duplicate, err := domain.NewOperationRecord(op, erc4337.EntryPointV07, 11155111, hash.Hex())
	require.NoError(t, err)
	assert.Error(t, repo.Create(ctx, duplicate))

	missing, err := repo.FindByHash(ctx, common.HexToHash("0x02"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestOperationRepository_UpdateStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewOperationRepository(db)
	ctx := context.Background()

	op := testUserOperation()
	for i, hash := range []common.Hash{common.HexToHash("0x0a"), common.HexToHash("0x0b")} {
		record, err := domain.NewOperationRecord(op, erc4337.EntryPointV07, 11155111, hash.Hex())
		require.NoError(t, err, "record %d", i)
		require.NoError(t, repo.Create(ctx, record))
	}

	pending, err := repo.FindPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	txHash := common.HexToHash("0xbeef").Hex()
	cost := "21000"
	require.NoError(t, repo.UpdateStatus(ctx, common.HexToHash("0x0a"), domain.OperationUpdate{
		Status:          domain.OperationStatusIncluded,
		TransactionHash: &txHash,
		ActualGasCost:   &cost,
	}))

	settled, err := repo.FindByHash(ctx, common.HexToHash("0x0a"))
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusIncluded, settled.Status)
	assert.Equal(t, txHash, *settled.TransactionHash)
	assert.Equal(t, cost, *settled.ActualGasCost)
	assert.Nil(t, settled.ErrMsg)

	pending, err = repo.FindPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, common.HexToHash("0x0b").Hex(), pending[0].UserOpHash)

	bySender, err := repo.FindBySender(ctx, op.Sender, 10)
	require.NoError(t, err)
	assert.Len(t, bySender, 2)
}
