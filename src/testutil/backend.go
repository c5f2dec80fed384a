package testutil

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethaccount/useropkit/erc4337"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
)

const TestChainID = 11155111

// Backend is an in-process bundler and node serving the JSON-RPC methods the service uses.
// Submitted operations are hashed the way the EntryPoint does, so returned hashes match
// erc4337.GetUserOperationHash.
type Backend struct {
	mu sync.Mutex

	nonce    int64
	code     []byte
	sendErr  error
	sent     map[common.Hash]json.RawMessage
	order    []common.Hash
	receipts map[common.Hash]*erc4337.UserOperationReceipt

	rpc *rpc.Client
	url string
}

// NewBackend serves a fresh backend over HTTP for the lifetime of the test.
func NewBackend(t *testing.T) *Backend {
	t.Helper()

	b := &Backend{
		code:     []byte{0x60, 0x80},
		sent:     make(map[common.Hash]json.RawMessage),
		receipts: make(map[common.Hash]*erc4337.UserOperationReceipt),
	}

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", &backendEthAPI{b: b}))
	require.NoError(t, server.RegisterName("pimlico", &backendPimlicoAPI{b: b}))
	httpServer := httptest.NewServer(server)

	client, err := rpc.DialContext(context.Background(), httpServer.URL)
	require.NoError(t, err)
	b.rpc = client
	b.url = httpServer.URL

	t.Cleanup(func() {
		client.Close()
		httpServer.Close()
		server.Stop()
	})
	return b
}

// Bundler returns a new bundler client bound to the backend.
func (b *Backend) Bundler() *erc4337.BundlerClient {
	return erc4337.NewBundlerClient(b.rpc)
}

// URL is the HTTP endpoint serving both the bundler and the node methods.
func (b *Backend) URL() string {
	return b.url
}

// Chain returns an ethclient bound to the backend.
func (b *Backend) Chain() *ethclient.Client {
	return ethclient.NewClient(b.rpc)
}

func (b *Backend) SetNonce(nonce int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonce = nonce
}

func (b *Backend) SetSendError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendErr = err
}

// Include marks a submitted operation as included with the given outcome.
func (b *Backend) Include(hash common.Hash, success bool) *erc4337.UserOperationReceipt {
	b.mu.Lock()
	defer b.mu.Unlock()

	receipt := &erc4337.UserOperationReceipt{
		UserOpHash:    hash,
		EntryPoint:    erc4337.EntryPointV07Address,
		Nonce:         erc4337.Big(b.nonce),
		Success:       success,
		ActualGasCost: erc4337.Big(42_000_000_000_000),
		ActualGasUsed: erc4337.Big(21_000),
		Receipt: &erc4337.TransactionReceipt{
			TransactionHash: common.BytesToHash(append([]byte{0x7e}, hash.Bytes()[:31]...)),
			BlockNumber:     erc4337.Big(100),
			Status:          erc4337.Big(1),
		},
	}
	if !success {
		receipt.Reason = "0x08c379a0"
	}
	b.receipts[hash] = receipt
	return receipt
}

// Sent returns the hashes of submitted operations in submission order.
func (b *Backend) Sent() []common.Hash {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]common.Hash{}, b.order...)
}

type backendEthAPI struct {
	b *Backend
}

func (api *backendEthAPI) ChainId() *hexutil.Big {
	return erc4337.Big(TestChainID)
}

func (api *backendEthAPI) SupportedEntryPoints() []common.Address {
	return []common.Address{erc4337.EntryPointV07Address}
}

func (api *backendEthAPI) SendUserOperation(raw json.RawMessage, entryPoint common.Address) (common.Hash, error) {
	api.b.mu.Lock()
	defer api.b.mu.Unlock()

	if api.b.sendErr != nil {
		return common.Hash{}, api.b.sendErr
	}
	ep, err := erc4337.ResolveEntryPoint(entryPoint)
	if err != nil {
		return common.Hash{}, err
	}
	op, err := erc4337.DecodeUserOperation(ep.Version, raw)
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := erc4337.GetUserOperationHash(op, ep, big.NewInt(TestChainID))
	if err != nil {
		return common.Hash{}, err
	}
	api.b.sent[hash] = raw
	api.b.order = append(api.b.order, hash)
	return hash, nil
}

func (api *backendEthAPI) EstimateUserOperationGas(raw json.RawMessage, entryPoint common.Address, override *erc4337.StateOverride) (*erc4337.GasEstimate, error) {
	return &erc4337.GasEstimate{
		PreVerificationGas:   erc4337.Big(50_000),
		VerificationGasLimit: erc4337.Big(150_000),
		CallGasLimit:         erc4337.Big(80_000),
	}, nil
}

func (api *backendEthAPI) GetUserOperationReceipt(hash common.Hash) *erc4337.UserOperationReceipt {
	api.b.mu.Lock()
	defer api.b.mu.Unlock()
	return api.b.receipts[hash]
}

type pendingOperation struct {
	UserOperation json.RawMessage `json:"userOperation"`
	EntryPoint    common.Address  `json:"entryPoint"`
}

func (api *backendEthAPI) GetUserOperationByHash(hash common.Hash) *pendingOperation {
	api.b.mu.Lock()
	defer api.b.mu.Unlock()
	raw, ok := api.b.sent[hash]
	if !ok {
		return nil
	}
	return &pendingOperation{UserOperation: raw, EntryPoint: erc4337.EntryPointV07Address}
}

// Call answers every eth_call with the configured nonce, which is what EntryPoint.getNonce returns.
func (api *backendEthAPI) Call(args map[string]interface{}, block string) hexutil.Bytes {
	api.b.mu.Lock()
	defer api.b.mu.Unlock()
	return common.LeftPadBytes(big.NewInt(api.b.nonce).Bytes(), 32)
}

func (api *backendEthAPI) GetCode(address common.Address, block string) hexutil.Bytes {
	api.b.mu.Lock()
	defer api.b.mu.Unlock()
	return api.b.code
}

type backendPimlicoAPI struct {
	b *Backend
}

func (api *backendPimlicoAPI) GetUserOperationGasPrice() *erc4337.GasPriceTiers {
	tier := erc4337.GasPriceTier{MaxFeePerGas: erc4337.Big(2_000_000_000), MaxPriorityFeePerGas: erc4337.Big(1_000_000_000)}
	return &erc4337.GasPriceTiers{Slow: tier, Standard: tier, Fast: tier}
}
