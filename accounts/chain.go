package accounts

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethaccount/useropkit/erc4337"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// ChainReader is the subset of ethclient.Client the accounts read chain state with.
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

const entryPointABIJSON = `[
	{"type":"function","name":"getNonce","stateMutability":"view",
	 "inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],
	 "outputs":[{"name":"nonce","type":"uint256"}]},
	{"type":"function","name":"getSenderAddress","stateMutability":"nonpayable",
	 "inputs":[{"name":"initCode","type":"bytes"}],"outputs":[]},
	{"type":"error","name":"SenderAddressResult","inputs":[{"name":"sender","type":"address"}]}
]`

var entryPointABI = mustParseABI(entryPointABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// GetNonce reads EntryPoint.getNonce(sender, key).
func GetNonce(ctx context.Context, client ChainReader, entryPoint erc4337.EntryPoint, sender common.Address, key *big.Int) (*big.Int, error) {
	if key == nil {
		key = new(big.Int)
	}
	data, err := entryPointABI.Pack("getNonce", sender, key)
	if err != nil {
		return nil, fmt.Errorf("failed to encode getNonce: %w", err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &entryPoint.Address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call getNonce: %w", err)
	}
	values, err := entryPointABI.Unpack("getNonce", out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode getNonce result: %w", err)
	}
	return values[0].(*big.Int), nil
}

// IsDeployed reports whether code exists at address.
func IsDeployed(ctx context.Context, client ChainReader, address common.Address) (bool, error) {
	code, err := client.CodeAt(ctx, address, nil)
	if err != nil {
		return false, fmt.Errorf("failed to read code at %s: %w", address.Hex(), err)
	}
	return len(code) > 0, nil
}

// GetSenderAddress computes a counterfactual address through EntryPoint.getSenderAddress,
// which always reverts with SenderAddressResult(address).
func GetSenderAddress(ctx context.Context, client ChainReader, entryPoint erc4337.EntryPoint, initCode []byte) (common.Address, error) {
	data, err := entryPointABI.Pack("getSenderAddress", initCode)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to encode getSenderAddress: %w", err)
	}
	_, err = client.CallContract(ctx, ethereum.CallMsg{To: &entryPoint.Address, Data: data}, nil)
	if err == nil {
		return common.Address{}, errors.New("getSenderAddress did not revert")
	}

	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return common.Address{}, fmt.Errorf("failed to call getSenderAddress: %w", err)
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected getSenderAddress revert data %v", dataErr.ErrorData())
	}
	revert, err := hexutil.Decode(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid getSenderAddress revert data: %w", err)
	}

	resultErr := entryPointABI.Errors["SenderAddressResult"]
	if len(revert) < 4 || !strings.EqualFold(hexutil.Encode(revert[:4]), hexutil.Encode(resultErr.ID[:4])) {
		return common.Address{}, fmt.Errorf("getSenderAddress reverted with unexpected data %s", raw)
	}
	values, err := resultErr.Inputs.Unpack(revert[4:])
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode SenderAddressResult: %w", err)
	}
	return values[0].(common.Address), nil
}
