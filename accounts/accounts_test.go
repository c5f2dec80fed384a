package accounts

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethaccount/useropkit/erc4337"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// revertError mimics the rpc.DataError returned for reverted eth_call requests.
type revertError struct {
	data string
}

func (e *revertError) Error() string          { return "execution reverted" }
func (e *revertError) ErrorCode() int         { return 3 }
func (e *revertError) ErrorData() interface{} { return e.data }

type fakeChain struct {
	code     map[common.Address][]byte
	call     func(msg ethereum.CallMsg) ([]byte, error)
	numCalls int
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.numCalls++
	return f.call(msg)
}

func (f *fakeChain) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	return f.code[account], nil
}

func selectorOf(a abi.ABI, method string) []byte {
	return a.Methods[method].ID
}

// newEntryPointChain serves getNonce, recording the key it was asked for, and routes every
// other call to next.
func newEntryPointChain(t *testing.T, nonce int64, gotKey **big.Int, next func(msg ethereum.CallMsg) ([]byte, error)) *fakeChain {
	t.Helper()
	return &fakeChain{
		code: map[common.Address][]byte{},
		call: func(msg ethereum.CallMsg) ([]byte, error) {
			if bytes.HasPrefix(msg.Data, selectorOf(entryPointABI, "getNonce")) {
				args, err := entryPointABI.Methods["getNonce"].Inputs.Unpack(msg.Data[4:])
				require.NoError(t, err)
				if gotKey != nil {
					*gotKey = args[1].(*big.Int)
				}
				return entryPointABI.Methods["getNonce"].Outputs.Pack(big.NewInt(nonce))
			}
			if next == nil {
				return nil, errors.New("unexpected call")
			}
			return next(msg)
		},
	}
}

func testOwner(t *testing.T) *ECDSASigner {
	t.Helper()
	signer, err := ECDSASignerFromHex("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	return signer
}

func TestECDSASigner(t *testing.T) {
	owner := testOwner(t)
	hash := crypto.Keccak256Hash([]byte("user operation"))

	signature, err := owner.SignHash(context.Background(), hash)
	require.NoError(t, err)
	require.Len(t, signature, crypto.SignatureLength)
	assert.Contains(t, []byte{27, 28}, signature[crypto.RecoveryIDOffset])

	recovered, err := RecoverSigner(hash, signature)
	require.NoError(t, err)
	assert.Equal(t, owner.Address(), recovered)

	assert.Len(t, owner.DummySignature(), crypto.SignatureLength)

	_, err = ECDSASignerFromHex("0xnothex")
	assert.Error(t, err)
}

func TestSimpleAccount_AddressAndNonce(t *testing.T) {
	owner := testOwner(t)
	account := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	var gotKey *big.Int
	chain := newEntryPointChain(t, 7, &gotKey, func(msg ethereum.CallMsg) ([]byte, error) {
		require.Equal(t, SimpleAccountFactoryV07, *msg.To)
		require.True(t, bytes.HasPrefix(msg.Data, selectorOf(simpleAccountFactoryABI, "getAddress")))
		return simpleAccountFactoryABI.Methods["getAddress"].Outputs.Pack(account)
	})

	sa, err := NewSimpleAccount(SimpleAccountConfig{Client: chain, EntryPoint: erc4337.EntryPointV07, Owner: owner})
	require.NoError(t, err)

	ctx := context.Background()
	address, err := sa.Address(ctx)
	require.NoError(t, err)
	assert.Equal(t, account, address)

	nonce, err := sa.Nonce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), nonce.Int64())
	assert.Zero(t, gotKey.Sign())

	// getAddress is cached, so Nonce added a single call.
	assert.Equal(t, 2, chain.numCalls)
}

func TestSimpleAccount_FactoryArgs(t *testing.T) {
	owner := testOwner(t)
	account := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	chain := newEntryPointChain(t, 0, nil, nil)

	sa, err := NewSimpleAccount(SimpleAccountConfig{
		Client:     chain,
		EntryPoint: erc4337.EntryPointV06,
		Owner:      owner,
		Salt:       big.NewInt(3),
		Address:    &account,
	})
	require.NoError(t, err)

	ctx := context.Background()
	factory, data, err := sa.FactoryArgs(ctx)
	require.NoError(t, err)
	require.NotNil(t, factory)
	assert.Equal(t, SimpleAccountFactoryV06, *factory)

	args, err := simpleAccountFactoryABI.Methods["createAccount"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, owner.Address(), args[0])
	assert.Equal(t, int64(3), args[1].(*big.Int).Int64())

	chain.code[account] = []byte{0x60, 0x80}
	factory, data, err = sa.FactoryArgs(ctx)
	require.NoError(t, err)
	assert.Nil(t, factory)
	assert.Nil(t, data)
}

func TestSimpleAccount_EncodeCalls(t *testing.T) {
	owner := testOwner(t)
	account := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	target := common.HexToAddress("0x00000000000000000000000000000000000000dd")

	v06, err := NewSimpleAccount(SimpleAccountConfig{Client: &fakeChain{}, EntryPoint: erc4337.EntryPointV06, Owner: owner, Address: &account})
	require.NoError(t, err)
	v07, err := NewSimpleAccount(SimpleAccountConfig{Client: &fakeChain{}, EntryPoint: erc4337.EntryPointV07, Owner: owner, Address: &account})
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("single call uses execute", func(t *testing.T) {
		data, err := v07.EncodeCalls(ctx, []erc4337.Call{{To: target, Value: big.NewInt(5), Data: []byte{0x12}}})
		require.NoError(t, err)
		require.True(t, bytes.HasPrefix(data, selectorOf(simpleAccountABI, "execute")))

		args, err := simpleAccountABI.Methods["execute"].Inputs.Unpack(data[4:])
		require.NoError(t, err)
		assert.Equal(t, target, args[0])
		assert.Equal(t, int64(5), args[1].(*big.Int).Int64())
		assert.Equal(t, []byte{0x12}, args[2])
	})

	t.Run("v0.7 batch carries values", func(t *testing.T) {
		data, err := v07.EncodeCalls(ctx, []erc4337.Call{
			{To: target, Value: big.NewInt(1)},
			{To: target, Data: []byte{0xab}},
		})
		require.NoError(t, err)
		require.True(t, bytes.HasPrefix(data, selectorOf(simpleAccountV07ABI, "executeBatch")))

		args, err := simpleAccountV07ABI.Methods["executeBatch"].Inputs.Unpack(data[4:])
		require.NoError(t, err)
		assert.Equal(t, []common.Address{target, target}, args[0])
		values := args[1].([]*big.Int)
		require.Len(t, values, 2)
		assert.Equal(t, int64(1), values[0].Int64())
		assert.Zero(t, values[1].Sign())
		assert.Equal(t, [][]byte{{}, {0xab}}, args[2])
	})

	t.Run("v0.6 batch rejects value", func(t *testing.T) {
		_, err := v06.EncodeCalls(ctx, []erc4337.Call{
			{To: target, Value: big.NewInt(1)},
			{To: target},
		})
		var verr *erc4337.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "calls[0].value", verr.Field)
	})

	t.Run("v0.6 batch without value", func(t *testing.T) {
		data, err := v06.EncodeCalls(ctx, []erc4337.Call{{To: target}, {To: target}})
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, selectorOf(simpleAccountABI, "executeBatch")))
	})

	t.Run("no calls", func(t *testing.T) {
		_, err := v07.EncodeCalls(ctx, nil)
		var verr *erc4337.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestNewSimpleAccount_RequiresOwner(t *testing.T) {
	_, err := NewSimpleAccount(SimpleAccountConfig{Client: &fakeChain{}, EntryPoint: erc4337.EntryPointV07})
	var cerr *erc4337.ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestGetSenderAddress(t *testing.T) {
	expected := common.HexToAddress("0x1111111111111111111111111111111111111111")
	resultErr := entryPointABI.Errors["SenderAddressResult"]
	encoded, err := resultErr.Inputs.Pack(expected)
	require.NoError(t, err)
	revert := hexutil.Encode(append(append([]byte{}, resultErr.ID[:4]...), encoded...))

	tests := []struct {
		name    string
		callErr error
		want    common.Address
		wantErr bool
	}{
		{name: "sender address result", callErr: &revertError{data: revert}, want: expected},
		{name: "other revert", callErr: &revertError{data: "0xdeadbeef"}, wantErr: true},
		{name: "transport error", callErr: errors.New("connection refused"), wantErr: true},
		{name: "no revert", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := &fakeChain{call: func(msg ethereum.CallMsg) ([]byte, error) {
				require.Equal(t, erc4337.EntryPointV07.Address, *msg.To)
				return nil, tt.callErr
			}}
			got, err := GetSenderAddress(context.Background(), chain, erc4337.EntryPointV07, []byte{0x01})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
