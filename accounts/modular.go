package accounts

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethaccount/useropkit/erc4337"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ERC-7579 execution modes: call type in the first byte, the rest left at default.
var (
	ModeSingle = [32]byte{}
	ModeBatch  = [32]byte{0x01}
)

const modularAccountABIJSON = `[
	{"type":"function","name":"execute","inputs":[
		{"name":"mode","type":"bytes32"},{"name":"executionCalldata","type":"bytes"}],"outputs":[]}
]`

var modularAccountABI = mustParseABI(modularAccountABIJSON)

var executionBatchArgs = abi.Arguments{{Type: mustNewType("tuple[]", []abi.ArgumentMarshaling{
	{Name: "target", Type: "address"},
	{Name: "value", Type: "uint256"},
	{Name: "callData", Type: "bytes"},
})}}

type execution struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// validatorModeV06 routes v0.6 modular accounts to their root validator.
var validatorModeV06 = []byte{0x00, 0x00, 0x00, 0x00}

// validatorTypeModule marks a v0.7 validator identifier as a module address.
const validatorTypeModule = 0x01

type ModularAccountConfig struct {
	Client     ChainReader
	EntryPoint erc4337.EntryPoint
	Signer     Signer
	Validator  common.Address
	// Factory and FactoryData deploy the account. Both are needed unless Address is set.
	Factory     *common.Address
	FactoryData []byte
	Address     *common.Address
}

// ModularAccount is an ERC-7579 account whose signatures are routed to one validator module.
type ModularAccount struct {
	client      ChainReader
	entryPoint  erc4337.EntryPoint
	signer      Signer
	validator   common.Address
	factory     *common.Address
	factoryData []byte

	mu       sync.Mutex
	address  *common.Address
	deployed bool
}

func NewModularAccount(cfg ModularAccountConfig) (*ModularAccount, error) {
	if cfg.Client == nil {
		return nil, &erc4337.ConfigError{Msg: "chain client is required"}
	}
	if cfg.Signer == nil {
		return nil, &erc4337.ConfigError{Msg: "account signer is required"}
	}
	if cfg.Validator == (common.Address{}) {
		return nil, &erc4337.ConfigError{Msg: "validator address is required"}
	}
	if cfg.Address == nil && cfg.Factory == nil {
		return nil, &erc4337.ConfigError{Msg: "either an account address or a factory is required"}
	}
	return &ModularAccount{
		client:      cfg.Client,
		entryPoint:  cfg.EntryPoint,
		signer:      cfg.Signer,
		validator:   cfg.Validator,
		factory:     cfg.Factory,
		factoryData: append([]byte{}, cfg.FactoryData...),
		address:     cfg.Address,
	}, nil
}

func (a *ModularAccount) EntryPoint() erc4337.EntryPoint { return a.entryPoint }

func (a *ModularAccount) Validator() common.Address { return a.validator }

func (a *ModularAccount) Address(ctx context.Context) (common.Address, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.address != nil {
		return *a.address, nil
	}
	address, err := GetSenderAddress(ctx, a.client, a.entryPoint, erc4337.GetInitCode(a.factory, a.factoryData))
	if err != nil {
		return common.Address{}, err
	}
	a.address = &address
	return address, nil
}

// NonceKey selects the validator through the v0.7 nonce key. The validator fills the top 20
// bytes of the 24-byte key, so accounts recover it from the full nonce as shr(96, nonce).
func (a *ModularAccount) NonceKey() *big.Int {
	if a.entryPoint.Version == erc4337.EntryPointVersion06 {
		return new(big.Int)
	}
	return new(big.Int).Lsh(new(big.Int).SetBytes(a.validator.Bytes()), 32)
}

func (a *ModularAccount) Nonce(ctx context.Context) (*big.Int, error) {
	address, err := a.Address(ctx)
	if err != nil {
		return nil, err
	}
	return GetNonce(ctx, a.client, a.entryPoint, address, a.NonceKey())
}

func (a *ModularAccount) FactoryArgs(ctx context.Context) (*common.Address, []byte, error) {
	if a.factory == nil {
		return nil, nil, nil
	}

	a.mu.Lock()
	known := a.deployed
	a.mu.Unlock()
	if known {
		return nil, nil, nil
	}

	address, err := a.Address(ctx)
	if err != nil {
		return nil, nil, err
	}
	deployed, err := IsDeployed(ctx, a.client, address)
	if err != nil {
		return nil, nil, err
	}
	if deployed {
		a.mu.Lock()
		a.deployed = true
		a.mu.Unlock()
		return nil, nil, nil
	}

	factory := *a.factory
	return &factory, append([]byte{}, a.factoryData...), nil
}

func (a *ModularAccount) EncodeCalls(_ context.Context, calls []erc4337.Call) ([]byte, error) {
	if len(calls) == 0 {
		return nil, &erc4337.ValidationError{Field: "calls", Msg: "at least one call is required"}
	}

	if len(calls) == 1 {
		call := calls[0]
		packed := make([]byte, 0, common.AddressLength+32+len(call.Data))
		packed = append(packed, call.To.Bytes()...)
		packed = append(packed, common.LeftPadBytes(valueOrZero(call.Value).Bytes(), 32)...)
		packed = append(packed, call.Data...)
		return modularAccountABI.Pack("execute", ModeSingle, packed)
	}

	executions := make([]execution, len(calls))
	for i, call := range calls {
		executions[i] = execution{Target: call.To, Value: valueOrZero(call.Value), CallData: dataOrEmpty(call.Data)}
	}
	encoded, err := executionBatchArgs.Pack(executions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch executions: %w", err)
	}
	return modularAccountABI.Pack("execute", ModeBatch, encoded)
}

func (a *ModularAccount) DummySignature(context.Context) ([]byte, error) {
	return a.withValidatorPrefix(a.signer.DummySignature()), nil
}

func (a *ModularAccount) SignUserOperationHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	signature, err := a.signer.SignHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return a.withValidatorPrefix(signature), nil
}

// ValidatorPrefix is the identifier tag prepended to every signature of this account.
func (a *ModularAccount) ValidatorPrefix() []byte {
	if a.entryPoint.Version == erc4337.EntryPointVersion06 {
		return append([]byte{}, validatorModeV06...)
	}
	return append([]byte{validatorTypeModule}, a.validator.Bytes()...)
}

func (a *ModularAccount) withValidatorPrefix(signature []byte) []byte {
	return append(a.ValidatorPrefix(), signature...)
}

func mustNewType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(err)
	}
	return typ
}
