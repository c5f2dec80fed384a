package erc4337

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// TransactionReceipt is the bundle transaction receipt embedded in a UserOperationReceipt.
type TransactionReceipt struct {
	BlockHash         common.Hash    `json:"blockHash"`
	BlockNumber       *hexutil.Big   `json:"blockNumber"`
	From              common.Address `json:"from"`
	To                common.Address `json:"to"`
	CumulativeGasUsed *hexutil.Big   `json:"cumulativeGasUsed"`
	GasUsed           *hexutil.Big   `json:"gasUsed"`
	Logs              []*types.Log   `json:"logs"`
	TransactionHash   common.Hash    `json:"transactionHash"`
	TransactionIndex  *hexutil.Big   `json:"transactionIndex"`
	EffectiveGasPrice *hexutil.Big   `json:"effectiveGasPrice"`
	Status            *hexutil.Big   `json:"status"`
}

type UserOperationReceipt struct {
	UserOpHash    common.Hash         `json:"userOpHash"`
	EntryPoint    common.Address      `json:"entryPoint"`
	Sender        common.Address      `json:"sender"`
	Nonce         *hexutil.Big        `json:"nonce"`
	Paymaster     common.Address      `json:"paymaster"`
	ActualGasCost *hexutil.Big        `json:"actualGasCost"`
	ActualGasUsed *hexutil.Big        `json:"actualGasUsed"`
	Success       bool                `json:"success"`
	Reason        string              `json:"reason,omitempty"`
	Logs          []*types.Log        `json:"logs"`
	Receipt       *TransactionReceipt `json:"receipt"`
}

// UserOperationByHash is the result of eth_getUserOperationByHash.
type UserOperationByHash struct {
	UserOperation   UserOperation
	EntryPoint      EntryPoint
	BlockNumber     *big.Int
	BlockHash       common.Hash
	TransactionHash common.Hash
}

// UserOperationStatus is the result of pimlico_getUserOperationStatus.
type UserOperationStatus struct {
	Status          string       `json:"status"`
	TransactionHash *common.Hash `json:"transactionHash"`
}

// GasPriceTier is one tier of pimlico_getUserOperationGasPrice.
type GasPriceTier struct {
	MaxFeePerGas         *hexutil.Big `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big `json:"maxPriorityFeePerGas"`
}

type GasPriceTiers struct {
	Slow     GasPriceTier `json:"slow"`
	Standard GasPriceTier `json:"standard"`
	Fast     GasPriceTier `json:"fast"`
}

// AccountOverride is one entry of an eth_estimateUserOperationGas state override set.
type AccountOverride struct {
	Nonce     *hexutil.Uint64             `json:"nonce,omitempty"`
	Code      hexutil.Bytes               `json:"code,omitempty"`
	Balance   *hexutil.Big                `json:"balance,omitempty"`
	State     map[common.Hash]common.Hash `json:"state,omitempty"`
	StateDiff map[common.Hash]common.Hash `json:"stateDiff,omitempty"`
}

type StateOverride map[common.Address]AccountOverride

// BundlerClient talks to an ERC-4337 bundler over JSON-RPC. Each client carries a unique
// id that scopes receipt polling deduplication.
type BundlerClient struct {
	client   *rpc.Client
	uid      string
	resolver *EntryPointResolver
}

func DialBundler(ctx context.Context, rawurl string) (*BundlerClient, error) {
	c, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, &ConfigError{Msg: "failed to dial bundler", Err: err}
	}
	return NewBundlerClient(c), nil
}

func NewBundlerClient(c *rpc.Client) *BundlerClient {
	return &BundlerClient{
		client:   c,
		uid:      uuid.NewString(),
		resolver: defaultResolver,
	}
}

// WithResolver makes the client recognise custom entry point deployments.
func (b *BundlerClient) WithResolver(r *EntryPointResolver) *BundlerClient {
	b.resolver = r
	return b
}

func (b *BundlerClient) UID() string { return b.uid }

func (b *BundlerClient) Close() { b.client.Close() }

func (b *BundlerClient) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	zerolog.Ctx(ctx).Debug().Str("method", method).Msg("bundler request")
	return wrapRPCError(method, b.client.CallContext(ctx, result, method, args...))
}

func (b *BundlerClient) ChainID(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := b.call(ctx, &result, "eth_chainId"); err != nil {
		return nil, err
	}
	return result.ToInt(), nil
}

func (b *BundlerClient) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var result []common.Address
	if err := b.call(ctx, &result, "eth_supportedEntryPoints"); err != nil {
		return nil, err
	}
	return result, nil
}

// Supports reports whether the bundler accepts operations for the entry point.
func (b *BundlerClient) Supports(ctx context.Context, entryPoint EntryPoint) (bool, error) {
	supported, err := b.SupportedEntryPoints(ctx)
	if err != nil {
		return false, err
	}
	return lo.Contains(supported, entryPoint.Address), nil
}

func (b *BundlerClient) SendUserOperation(ctx context.Context, op UserOperation, entryPoint EntryPoint) (common.Hash, error) {
	if op.Version() != entryPoint.Version {
		return common.Hash{}, &ValidationError{
			Field: "entryPoint",
			Msg:   fmt.Sprintf("v%s operation cannot target v%s entry point", op.Version(), entryPoint.Version),
		}
	}
	var result common.Hash
	if err := b.call(ctx, &result, "eth_sendUserOperation", op, entryPoint.Address); err != nil {
		return common.Hash{}, err
	}
	zerolog.Ctx(ctx).Debug().Str("user_op_hash", result.Hex()).Msg("user operation submitted")
	return result, nil
}

// GetUserOperationReceipt returns nil without error while the operation is not yet included.
func (b *BundlerClient) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*UserOperationReceipt, error) {
	var receipt *UserOperationReceipt
	if err := b.call(ctx, &receipt, "eth_getUserOperationReceipt", hash); err != nil {
		return nil, err
	}
	return receipt, nil
}

// GetUserOperationByHash returns nil without error for unknown hashes.
func (b *BundlerClient) GetUserOperationByHash(ctx context.Context, hash common.Hash) (*UserOperationByHash, error) {
	var raw *struct {
		UserOperation   json.RawMessage `json:"userOperation"`
		EntryPoint      common.Address  `json:"entryPoint"`
		BlockNumber     *hexutil.Big    `json:"blockNumber"`
		BlockHash       common.Hash     `json:"blockHash"`
		TransactionHash common.Hash     `json:"transactionHash"`
	}
	if err := b.call(ctx, &raw, "eth_getUserOperationByHash", hash); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	entryPoint, err := b.resolver.Resolve(raw.EntryPoint)
	if err != nil {
		return nil, err
	}
	op, err := DecodeUserOperation(entryPoint.Version, raw.UserOperation)
	if err != nil {
		return nil, err
	}
	return &UserOperationByHash{
		UserOperation:   op,
		EntryPoint:      entryPoint,
		BlockNumber:     ToInt(raw.BlockNumber),
		BlockHash:       raw.BlockHash,
		TransactionHash: raw.TransactionHash,
	}, nil
}

func (b *BundlerClient) GetUserOperationStatus(ctx context.Context, hash common.Hash) (*UserOperationStatus, error) {
	var status UserOperationStatus
	if err := b.call(ctx, &status, "pimlico_getUserOperationStatus", hash); err != nil {
		return nil, err
	}
	return &status, nil
}

func (b *BundlerClient) GetUserOperationGasPrice(ctx context.Context) (*GasPriceTiers, error) {
	var tiers GasPriceTiers
	if err := b.call(ctx, &tiers, "pimlico_getUserOperationGasPrice"); err != nil {
		return nil, err
	}
	return &tiers, nil
}
