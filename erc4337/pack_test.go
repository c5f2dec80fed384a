package erc4337

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAccountGasLimits(t *testing.T) {
	tests := []struct {
		name         string
		verification *big.Int
		call         *big.Int
		expected     string
		wantErr      bool
	}{
		{
			name:         "verification high, call low",
			verification: big.NewInt(1000),
			call:         big.NewInt(2000),
			expected:     "0x000000000000000000000000000003e8000000000000000000000000000007d0",
		},
		{
			name:     "nil packs as zero",
			expected: "0x" + strings.Repeat("00", 32),
		},
		{
			name:         "max uint128",
			verification: new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)),
			call:         big.NewInt(0),
			expected:     "0x" + strings.Repeat("ff", 16) + strings.Repeat("00", 16),
		},
		{
			name:         "overflow",
			verification: new(big.Int).Lsh(big.NewInt(1), 128),
			call:         big.NewInt(0),
			wantErr:      true,
		},
		{
			name:         "negative",
			verification: big.NewInt(0),
			call:         big.NewInt(-1),
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := GetAccountGasLimits(tt.verification, tt.call)
			if tt.wantErr {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, hexutil.Encode(packed[:]))

			verification, call := UnpackAccountGasLimits(packed)
			if tt.verification != nil {
				assert.Zero(t, tt.verification.Cmp(verification))
				assert.Zero(t, tt.call.Cmp(call))
			}
		})
	}
}

func TestGetGasFees(t *testing.T) {
	packed, err := GetGasFees(big.NewInt(1_000_000_000), big.NewInt(2_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000000000000000003b9aca0000000000000000000000000077359400", hexutil.Encode(packed[:]))

	priority, maxFee := UnpackGasFees(packed)
	assert.Equal(t, int64(1_000_000_000), priority.Int64())
	assert.Equal(t, int64(2_000_000_000), maxFee.Int64())
}

func TestInitCode(t *testing.T) {
	factory := common.HexToAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd")

	assert.Equal(t, []byte{}, GetInitCode(nil, []byte{0x01}))

	initCode := GetInitCode(&factory, []byte{0x12, 0x34})
	assert.Equal(t, "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd1234", hexutil.Encode(initCode))

	gotFactory, data, err := UnpackInitCode(initCode)
	require.NoError(t, err)
	assert.Equal(t, factory, *gotFactory)
	assert.Equal(t, []byte{0x12, 0x34}, data)

	gotFactory, data, err = UnpackInitCode(nil)
	require.NoError(t, err)
	assert.Nil(t, gotFactory)
	assert.Nil(t, data)

	_, _, err = UnpackInitCode(make([]byte, 19))
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestPaymasterAndData(t *testing.T) {
	paymaster := common.HexToAddress("0xfedcbafedcbafedcbafedcbafedcbafedcbafeda")

	packed, err := GetPaymasterAndData(&paymaster, big.NewInt(500000), big.NewInt(100000), []byte{0x9a, 0xbc})
	require.NoError(t, err)
	assert.Equal(t,
		"0xfedcbafedcbafedcbafedcbafedcbafedcbafeda"+
			"0000000000000000000000000007a120"+
			"000000000000000000000000000186a0"+
			"9abc",
		hexutil.Encode(packed))

	fields, err := UnpackPaymasterAndData(packed)
	require.NoError(t, err)
	assert.Equal(t, paymaster, *fields.Paymaster)
	assert.Equal(t, int64(500000), fields.PaymasterVerificationGasLimit.Int64())
	assert.Equal(t, int64(100000), fields.PaymasterPostOpGasLimit.Int64())
	assert.Equal(t, []byte{0x9a, 0xbc}, fields.PaymasterData)

	t.Run("absent paymaster", func(t *testing.T) {
		packed, err := GetPaymasterAndData(nil, big.NewInt(1), big.NewInt(1), []byte{0x01})
		require.NoError(t, err)
		assert.Empty(t, packed)

		fields, err := UnpackPaymasterAndData(packed)
		require.NoError(t, err)
		assert.Nil(t, fields.Paymaster)
		assert.Nil(t, fields.PaymasterVerificationGasLimit)
	})

	t.Run("truncated header", func(t *testing.T) {
		_, err := UnpackPaymasterAndData(packed[:51])
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "paymasterAndData", verr.Field)
	})
}

func TestPackUserOperation(t *testing.T) {
	op := completeUserOperationV07()

	packed, err := PackUserOperation(op)
	require.NoError(t, err)

	assert.Equal(t, op.Sender, packed.Sender)
	assertBig(t, 123, packed.Nonce)
	assert.Equal(t, "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd1234", hexutil.Encode(packed.InitCode))
	assert.Equal(t, "0x000000000000000000000000001e8480000000000000000000000000000f4240", hexutil.Encode(packed.AccountGasLimits[:]))
	assert.Equal(t, "0x0000000000000000000000003b9aca0000000000000000000000000077359400", hexutil.Encode(packed.GasFees[:]))
	assert.Len(t, packed.PaymasterAndData, 52+2)

	t.Run("json uses hex for packed words", func(t *testing.T) {
		data, err := json.Marshal(packed)
		require.NoError(t, err)

		var result map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &result))
		assert.Equal(t, hexutil.Encode(packed.AccountGasLimits[:]), result["accountGasLimits"])
		assert.Equal(t, hexutil.Encode(packed.GasFees[:]), result["gasFees"])
		assert.Equal(t, "0x7b", result["nonce"])
	})

	t.Run("unpack restores the operation", func(t *testing.T) {
		unpacked, err := UnpackUserOperation(packed)
		require.NoError(t, err)
		assert.Equal(t, op, unpacked)
	})

	t.Run("absent factory and paymaster survive", func(t *testing.T) {
		bare := completeUserOperationV07()
		bare.Factory = nil
		bare.FactoryData = nil
		bare.Paymaster = nil
		bare.PaymasterVerificationGasLimit = nil
		bare.PaymasterPostOpGasLimit = nil
		bare.PaymasterData = nil

		packed, err := PackUserOperation(bare)
		require.NoError(t, err)
		assert.Empty(t, packed.InitCode)
		assert.Empty(t, packed.PaymasterAndData)

		unpacked, err := UnpackUserOperation(packed)
		require.NoError(t, err)
		assert.Nil(t, unpacked.Factory)
		assert.Nil(t, unpacked.Paymaster)
		assert.Nil(t, unpacked.PaymasterVerificationGasLimit)
	})

	t.Run("zero address factory is not absent", func(t *testing.T) {
		zeroFactory := completeUserOperationV07()
		zeroFactory.Factory = &common.Address{}

		packed, err := PackUserOperation(zeroFactory)
		require.NoError(t, err)
		assert.Len(t, packed.InitCode, 20+2)
	})

	t.Run("gas limit overflow", func(t *testing.T) {
		huge := completeUserOperationV07()
		huge.CallGasLimit = BigFrom(new(big.Int).Lsh(big.NewInt(1), 130))

		_, err := PackUserOperation(huge)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "callGasLimit", verr.Field)
	})
}
