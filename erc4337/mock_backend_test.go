package erc4337

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
)

// codedError is returned by the mock services so the JSON-RPC error carries a code and data.
type codedError struct {
	code int
	msg  string
	data interface{}
}

func (e *codedError) Error() string          { return e.msg }
func (e *codedError) ErrorCode() int         { return e.code }
func (e *codedError) ErrorData() interface{} { return e.data }

// mockBundler records requests and serves canned responses for the bundler methods.
type mockBundler struct {
	mu sync.Mutex

	chainID     int64
	entryPoints []common.Address
	sendErr     error
	sent        []json.RawMessage

	estimate         *GasEstimate
	estimateErr      error
	estimateRequests []json.RawMessage
	overrides        []StateOverride

	gasPrice *GasPriceTiers

	receipt      *UserOperationReceipt
	receiptErr   error
	receiptReady bool
	receiptCalls atomic.Int32

	byHash *byHashResponse
	status *UserOperationStatus

	estimateCalls atomic.Int32
	gasPriceCalls atomic.Int32
}

// byHashResponse is the raw eth_getUserOperationByHash payload served by the mock.
type byHashResponse struct {
	UserOperation   json.RawMessage `json:"userOperation"`
	EntryPoint      common.Address  `json:"entryPoint"`
	BlockNumber     *hexutil.Big    `json:"blockNumber"`
	BlockHash       common.Hash     `json:"blockHash"`
	TransactionHash common.Hash     `json:"transactionHash"`
}

// locked runs fn while holding the mock's lock, for state shared with the server goroutines.
func (m *mockBundler) locked(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

func (m *mockBundler) setReceipt(receipt *UserOperationReceipt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipt = receipt
	m.receiptReady = true
}

func (m *mockBundler) setReceiptErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receiptErr = err
}

func (m *mockBundler) sentOperations() []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]json.RawMessage{}, m.sent...)
}

type bundlerEthAPI struct {
	m *mockBundler
}

func (api *bundlerEthAPI) ChainId() *hexutil.Big {
	api.m.mu.Lock()
	defer api.m.mu.Unlock()
	return (*hexutil.Big)(big.NewInt(api.m.chainID))
}

func (api *bundlerEthAPI) SupportedEntryPoints() []common.Address {
	api.m.mu.Lock()
	defer api.m.mu.Unlock()
	return api.m.entryPoints
}

func (api *bundlerEthAPI) SendUserOperation(op json.RawMessage, entryPoint common.Address) (common.Hash, error) {
	api.m.mu.Lock()
	defer api.m.mu.Unlock()
	if api.m.sendErr != nil {
		return common.Hash{}, api.m.sendErr
	}
	api.m.sent = append(api.m.sent, op)
	return common.BytesToHash(append(entryPoint.Bytes(), byte(len(api.m.sent)))), nil
}

func (api *bundlerEthAPI) EstimateUserOperationGas(op json.RawMessage, entryPoint common.Address, override *StateOverride) (*GasEstimate, error) {
	api.m.estimateCalls.Add(1)
	api.m.mu.Lock()
	defer api.m.mu.Unlock()
	api.m.estimateRequests = append(api.m.estimateRequests, op)
	if override != nil {
		api.m.overrides = append(api.m.overrides, *override)
	}
	if api.m.estimateErr != nil {
		return nil, api.m.estimateErr
	}
	return api.m.estimate, nil
}

func (api *bundlerEthAPI) GetUserOperationReceipt(hash common.Hash) (*UserOperationReceipt, error) {
	api.m.receiptCalls.Add(1)
	api.m.mu.Lock()
	defer api.m.mu.Unlock()
	if api.m.receiptErr != nil {
		return nil, api.m.receiptErr
	}
	if !api.m.receiptReady {
		return nil, nil
	}
	receipt := *api.m.receipt
	receipt.UserOpHash = hash
	return &receipt, nil
}

func (api *bundlerEthAPI) GetUserOperationByHash(hash common.Hash) (*byHashResponse, error) {
	api.m.mu.Lock()
	defer api.m.mu.Unlock()
	return api.m.byHash, nil
}

type bundlerPimlicoAPI struct {
	m *mockBundler
}

func (api *bundlerPimlicoAPI) GetUserOperationGasPrice() (*GasPriceTiers, error) {
	api.m.gasPriceCalls.Add(1)
	api.m.mu.Lock()
	defer api.m.mu.Unlock()
	return api.m.gasPrice, nil
}

func (api *bundlerPimlicoAPI) GetUserOperationStatus(hash common.Hash) (*UserOperationStatus, error) {
	api.m.mu.Lock()
	defer api.m.mu.Unlock()
	return api.m.status, nil
}

func defaultMockBundler() *mockBundler {
	return &mockBundler{
		chainID:     11155111,
		entryPoints: []common.Address{EntryPointV07Address},
		estimate: &GasEstimate{
			PreVerificationGas:   Big(50_000),
			VerificationGasLimit: Big(150_000),
			CallGasLimit:         Big(80_000),
		},
		gasPrice: &GasPriceTiers{
			Slow:     GasPriceTier{MaxFeePerGas: Big(100), MaxPriorityFeePerGas: Big(10)},
			Standard: GasPriceTier{MaxFeePerGas: Big(200), MaxPriorityFeePerGas: Big(20)},
			Fast:     GasPriceTier{MaxFeePerGas: Big(300), MaxPriorityFeePerGas: Big(30)},
		},
		receipt: &UserOperationReceipt{
			EntryPoint:    EntryPointV07Address,
			Success:       true,
			ActualGasCost: Big(21_000),
			ActualGasUsed: Big(1_000),
		},
	}
}

// serveRPC exposes the given namespaces over an httptest server and dials it.
func serveRPC(t *testing.T, services map[string]interface{}) *rpc.Client {
	t.Helper()

	server := rpc.NewServer()
	for namespace, service := range services {
		require.NoError(t, server.RegisterName(namespace, service))
	}
	httpServer := httptest.NewServer(server)

	client, err := rpc.DialContext(context.Background(), httpServer.URL)
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		httpServer.Close()
		server.Stop()
	})
	return client
}

func newMockBundler(t *testing.T) (*mockBundler, *BundlerClient) {
	t.Helper()
	m := defaultMockBundler()
	client := serveRPC(t, map[string]interface{}{
		"eth":     &bundlerEthAPI{m: m},
		"pimlico": &bundlerPimlicoAPI{m: m},
	})
	return m, NewBundlerClient(client)
}

// newMockBundlerWithoutPimlico serves only the standard eth_ namespace.
func newMockBundlerWithoutPimlico(t *testing.T) (*mockBundler, *BundlerClient) {
	t.Helper()
	m := defaultMockBundler()
	client := serveRPC(t, map[string]interface{}{"eth": &bundlerEthAPI{m: m}})
	return m, NewBundlerClient(client)
}

type mockPaymaster struct {
	mu sync.Mutex

	sponsor      *SponsorResult
	sponsorErr   error
	policies     []string
	sponsorCalls atomic.Int32

	stub          *PaymasterStubData
	final         *PaymasterDataResult
	dataRequests  []json.RawMessage
	stubCalls     atomic.Int32
	dataCalls     atomic.Int32
	lastChainID   *big.Int
	lastPMContext map[string]interface{}

	quotes map[string]interface{}
}

func (m *mockPaymaster) locked(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

type paymasterPMAPI struct {
	m *mockPaymaster
}

func (api *paymasterPMAPI) SponsorUserOperation(op json.RawMessage, entryPoint common.Address, policy *map[string]string) (*SponsorResult, error) {
	api.m.sponsorCalls.Add(1)
	api.m.mu.Lock()
	defer api.m.mu.Unlock()
	if policy != nil {
		api.m.policies = append(api.m.policies, (*policy)["sponsorshipPolicyId"])
	}
	if api.m.sponsorErr != nil {
		return nil, api.m.sponsorErr
	}
	return api.m.sponsor, nil
}

func (api *paymasterPMAPI) GetPaymasterStubData(op json.RawMessage, entryPoint common.Address, chainID hexutil.Big, pmContext map[string]interface{}) (*PaymasterStubData, error) {
	api.m.stubCalls.Add(1)
	api.m.mu.Lock()
	defer api.m.mu.Unlock()
	api.m.lastChainID = chainID.ToInt()
	api.m.lastPMContext = pmContext
	return api.m.stub, nil
}

func (api *paymasterPMAPI) GetPaymasterData(op json.RawMessage, entryPoint common.Address, chainID hexutil.Big, pmContext map[string]interface{}) (*PaymasterDataResult, error) {
	api.m.dataCalls.Add(1)
	api.m.mu.Lock()
	defer api.m.mu.Unlock()
	api.m.dataRequests = append(api.m.dataRequests, op)
	return api.m.final, nil
}

type paymasterPimlicoAPI struct {
	m *mockPaymaster
}

func (api *paymasterPimlicoAPI) GetTokenQuotes(params map[string]interface{}, entryPoint common.Address, chainID hexutil.Big) (map[string]interface{}, error) {
	api.m.mu.Lock()
	defer api.m.mu.Unlock()
	return api.m.quotes, nil
}

func newMockPaymaster(t *testing.T) (*mockPaymaster, *PaymasterClient) {
	t.Helper()
	m := &mockPaymaster{}
	client := serveRPC(t, map[string]interface{}{
		"pm":      &paymasterPMAPI{m: m},
		"pimlico": &paymasterPimlicoAPI{m: m},
	})
	return m, NewPaymasterClient(client)
}

func assertBig(t *testing.T, want int64, got *hexutil.Big) {
	t.Helper()
	require.NotNil(t, got)
	require.Zero(t, big.NewInt(want).Cmp(got.ToInt()), "want %d, got %s", want, got.ToInt())
}
