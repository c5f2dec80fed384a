package accounts

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethaccount/useropkit/erc4337"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Canonical SimpleAccountFactory deployments.
var (
	SimpleAccountFactoryV06 = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
	SimpleAccountFactoryV07 = common.HexToAddress("0x91E60e0613810449d098b0b5Ec8b51A0FE8c8985")
)

const simpleAccountABIJSON = `[
	{"type":"function","name":"execute","inputs":[
		{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"executeBatch","inputs":[
		{"name":"dest","type":"address[]"},{"name":"func","type":"bytes[]"}],"outputs":[]}
]`

// v0.7 SimpleAccount added values to the batch call.
const simpleAccountV07ABIJSON = `[
	{"type":"function","name":"executeBatch","inputs":[
		{"name":"dest","type":"address[]"},{"name":"value","type":"uint256[]"},{"name":"func","type":"bytes[]"}],"outputs":[]}
]`

const simpleAccountFactoryABIJSON = `[
	{"type":"function","name":"createAccount","inputs":[
		{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"ret","type":"address"}]},
	{"type":"function","name":"getAddress","stateMutability":"view","inputs":[
		{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

var (
	simpleAccountABI        = mustParseABI(simpleAccountABIJSON)
	simpleAccountV07ABI     = mustParseABI(simpleAccountV07ABIJSON)
	simpleAccountFactoryABI = mustParseABI(simpleAccountFactoryABIJSON)
)

type SimpleAccountConfig struct {
	Client     ChainReader
	EntryPoint erc4337.EntryPoint
	Owner      *ECDSASigner
	// Factory defaults to the canonical factory for the entry point version.
	Factory *common.Address
	Salt    *big.Int
	// Address skips the factory lookup when the account address is already known.
	Address *common.Address
}

// SimpleAccount is the eth-infinitism SimpleAccount owned by a single ECDSA key.
type SimpleAccount struct {
	client     ChainReader
	entryPoint erc4337.EntryPoint
	owner      *ECDSASigner
	factory    common.Address
	salt       *big.Int

	mu       sync.Mutex
	address  *common.Address
	deployed bool
}

func NewSimpleAccount(cfg SimpleAccountConfig) (*SimpleAccount, error) {
	if cfg.Client == nil {
		return nil, &erc4337.ConfigError{Msg: "chain client is required"}
	}
	if cfg.Owner == nil {
		return nil, &erc4337.ConfigError{Msg: "account owner is required"}
	}

	factory := SimpleAccountFactoryV07
	if cfg.EntryPoint.Version == erc4337.EntryPointVersion06 {
		factory = SimpleAccountFactoryV06
	}
	if cfg.Factory != nil {
		factory = *cfg.Factory
	}
	salt := new(big.Int)
	if cfg.Salt != nil {
		salt.Set(cfg.Salt)
	}

	return &SimpleAccount{
		client:     cfg.Client,
		entryPoint: cfg.EntryPoint,
		owner:      cfg.Owner,
		factory:    factory,
		salt:       salt,
		address:    cfg.Address,
	}, nil
}

func (a *SimpleAccount) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("account", "simple").Logger()
	return &l
}

func (a *SimpleAccount) EntryPoint() erc4337.EntryPoint { return a.entryPoint }

func (a *SimpleAccount) Address(ctx context.Context) (common.Address, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.address != nil {
		return *a.address, nil
	}

	data, err := simpleAccountFactoryABI.Pack("getAddress", a.owner.Address(), a.salt)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to encode getAddress: %w", err)
	}
	out, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &a.factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to call factory getAddress: %w", err)
	}
	values, err := simpleAccountFactoryABI.Unpack("getAddress", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode factory getAddress: %w", err)
	}

	address := values[0].(common.Address)
	a.address = &address
	a.logger(ctx).Debug().Str("address", address.Hex()).Msg("resolved counterfactual address")
	return address, nil
}

func (a *SimpleAccount) Nonce(ctx context.Context) (*big.Int, error) {
	address, err := a.Address(ctx)
	if err != nil {
		return nil, err
	}
	return GetNonce(ctx, a.client, a.entryPoint, address, nil)
}

// FactoryArgs returns createAccount(owner, salt) until code shows up at the address.
func (a *SimpleAccount) FactoryArgs(ctx context.Context) (*common.Address, []byte, error) {
	deployed, err := a.isDeployed(ctx)
	if err != nil {
		return nil, nil, err
	}
	if deployed {
		return nil, nil, nil
	}

	data, err := simpleAccountFactoryABI.Pack("createAccount", a.owner.Address(), a.salt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode createAccount: %w", err)
	}
	factory := a.factory
	return &factory, data, nil
}

func (a *SimpleAccount) isDeployed(ctx context.Context) (bool, error) {
	a.mu.Lock()
	known := a.deployed
	a.mu.Unlock()
	if known {
		return true, nil
	}

	address, err := a.Address(ctx)
	if err != nil {
		return false, err
	}
	deployed, err := IsDeployed(ctx, a.client, address)
	if err != nil {
		return false, err
	}
	if deployed {
		a.mu.Lock()
		a.deployed = true
		a.mu.Unlock()
	}
	return deployed, nil
}

func (a *SimpleAccount) EncodeCalls(_ context.Context, calls []erc4337.Call) ([]byte, error) {
	switch len(calls) {
	case 0:
		return nil, &erc4337.ValidationError{Field: "calls", Msg: "at least one call is required"}
	case 1:
		return simpleAccountABI.Pack("execute", calls[0].To, valueOrZero(calls[0].Value), dataOrEmpty(calls[0].Data))
	}

	targets := make([]common.Address, len(calls))
	values := make([]*big.Int, len(calls))
	payloads := make([][]byte, len(calls))
	for i, call := range calls {
		targets[i] = call.To
		values[i] = valueOrZero(call.Value)
		payloads[i] = dataOrEmpty(call.Data)
	}

	if a.entryPoint.Version == erc4337.EntryPointVersion06 {
		for i, value := range values {
			if value.Sign() != 0 {
				return nil, &erc4337.ValidationError{
					Field: fmt.Sprintf("calls[%d].value", i),
					Msg:   "v0.6 SimpleAccount batches cannot transfer value",
				}
			}
		}
		return simpleAccountABI.Pack("executeBatch", targets, payloads)
	}
	return simpleAccountV07ABI.Pack("executeBatch", targets, values, payloads)
}

func (a *SimpleAccount) DummySignature(context.Context) ([]byte, error) {
	return a.owner.DummySignature(), nil
}

func (a *SimpleAccount) SignUserOperationHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	return a.owner.SignHash(ctx, hash)
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func dataOrEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
