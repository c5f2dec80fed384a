package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethaccount/useropkit/accounts"
	"github.com/ethaccount/useropkit/erc4337"
	"github.com/ethaccount/useropkit/src/domain"
	"github.com/ethaccount/useropkit/src/service"
	"github.com/ethaccount/useropkit/src/testutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOwnerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testAccountAddress = common.HexToAddress("0x5A6b47F4131bf1feAFA56A05573314BcF44C9149")

type apiResponse struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Data    json.RawMessage        `json:"data"`
	Error   map[string]interface{} `json:"error"`
}

type bundlerRejection struct{}

func (bundlerRejection) Error() string  { return "AA21 didn't pay prefund" }
func (bundlerRejection) ErrorCode() int { return -32500 }

type apiFixture struct {
	backend *testutil.Backend
	service *service.OperationService
	router  *gin.Engine
}

func newAPIFixture(t *testing.T, configure func(*RouterConfig)) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend := testutil.NewBackend(t)
	owner, err := accounts.ECDSASignerFromHex(testOwnerKey)
	require.NoError(t, err)
	address := testAccountAddress
	account, err := accounts.NewSimpleAccount(accounts.SimpleAccountConfig{
		Client:     backend.Chain(),
		EntryPoint: erc4337.EntryPointV07,
		Owner:      owner,
		Address:    &address,
	})
	require.NoError(t, err)

	svc, err := service.NewOperationService(context.Background(), service.OperationServiceConfig{
		Bundler:     backend.Bundler(),
		Account:     account,
		WaitOptions: erc4337.WaitOptions{PollingInterval: 10 * time.Millisecond, Timeout: 5 * time.Second},
	})
	require.NoError(t, err)

	config := RouterConfig{
		Operations: svc,
		Metrics:    svc.Metrics().Handler(),
		Health: []HealthCheck{{Name: "bundler", Check: func(ctx context.Context) error {
			_, err := backend.Bundler().ChainID(ctx)
			return err
		}}},
	}
	if configure != nil {
		configure(&config)
	}

	router := gin.New()
	RegisterRoutes(context.Background(), router, config)
	return &apiFixture{backend: backend, service: svc, router: router}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, headers ...string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp apiResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func transferBody(value string) map[string]interface{} {
	return map[string]interface{}{
		"calls": []map[string]interface{}{
			{"to": "0x00000000000000000000000000000000000000aa", "value": value, "data": "0x"},
		},
	}
}

func TestHealthCheck(t *testing.T) {
	f := newAPIFixture(t, nil)
	w, _ := f.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Checks["bundler"])

	degraded := newAPIFixture(t, func(c *RouterConfig) {
		c.Health = append(c.Health, HealthCheck{Name: "cache", Check: func(context.Context) error {
			return errors.New("connection refused")
		}})
	})
	w, _ = degraded.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPrepare(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.backend.SetNonce(3)

	w, resp := f.do(t, http.MethodPost, "/api/v1/userops/prepare", transferBody("1000"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 0, resp.Code)

	var data struct {
		UserOperation erc4337.UserOperationV07 `json:"userOperation"`
		UserOpHash    common.Hash              `json:"userOpHash"`
		EntryPoint    erc4337.EntryPoint       `json:"entryPoint"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, testAccountAddress, data.UserOperation.Sender)
	assert.Equal(t, int64(3), data.UserOperation.Nonce.ToInt().Int64())
	assert.Equal(t, erc4337.EntryPointV07, data.EntryPoint)

	expected, err := erc4337.GetUserOperationHash(&data.UserOperation, erc4337.EntryPointV07, big.NewInt(testutil.TestChainID))
	require.NoError(t, err)
	assert.Equal(t, expected, data.UserOpHash)
	assert.Empty(t, f.backend.Sent())
}

func TestPrepare_InvalidRequests(t *testing.T) {
	f := newAPIFixture(t, nil)

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "fractional value", body: transferBody("1.5")},
		{name: "negative value", body: transferBody("-1")},
		{name: "bad address", body: map[string]interface{}{"calls": []map[string]interface{}{{"to": "0x1234"}}}},
		{name: "no calls", body: map[string]interface{}{}},
		{name: "malformed operation", body: map[string]interface{}{"userOperation": map[string]interface{}{"nonce": "seven"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := f.do(t, http.MethodPost, "/api/v1/userops/prepare", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, 1001, resp.Code)
		})
	}
}

func TestSend(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		f := newAPIFixture(t, nil)

		w, resp := f.do(t, http.MethodPost, "/api/v1/userops", transferBody("1000"))
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

		var data struct {
			UserOpHash common.Hash `json:"userOpHash"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &data))
		assert.Equal(t, []common.Hash{data.UserOpHash}, f.backend.Sent())
	})

	t.Run("waits for inclusion", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		go func() {
			assert.Eventually(t, func() bool { return len(f.backend.Sent()) == 1 }, 5*time.Second, 5*time.Millisecond)
			if sent := f.backend.Sent(); len(sent) == 1 {
				f.backend.Include(sent[0], true)
			}
		}()

		body := transferBody("1000")
		body["wait"] = true
		w, resp := f.do(t, http.MethodPost, "/api/v1/userops", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var data struct {
			Receipt *erc4337.UserOperationReceipt `json:"receipt"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &data))
		require.NotNil(t, data.Receipt)
		assert.True(t, data.Receipt.Success)
	})

	t.Run("bundler rejection", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		f.backend.SetSendError(bundlerRejection{})

		w, resp := f.do(t, http.MethodPost, "/api/v1/userops", transferBody("1000"))
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, 1006, resp.Code)
		assert.Equal(t, float64(-32500), resp.Error["remoteCode"])
	})

	t.Run("api secret", func(t *testing.T) {
		f := newAPIFixture(t, func(c *RouterConfig) { c.APISecret = "s3cret" })

		w, resp := f.do(t, http.MethodPost, "/api/v1/userops", transferBody("1000"))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, 1004, resp.Code)

		w, _ = f.do(t, http.MethodPost, "/api/v1/userops", transferBody("1000"), "X-API-Secret", "wrong")
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w, _ = f.do(t, http.MethodPost, "/api/v1/userops", transferBody("1000"), "X-API-Secret", "s3cret")
		assert.Equal(t, http.StatusAccepted, w.Code)

		// reads stay open
		w, _ = f.do(t, http.MethodGet, "/api/v1/health", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHash(t *testing.T) {
	f := newAPIFixture(t, nil)

	op := &erc4337.UserOperationV07{}
	op.Sender = testAccountAddress
	op.Nonce = erc4337.Big(1)
	op.CallData = []byte{0xb6, 0x1d, 0x27, 0xf6}
	op.CallGasLimit = erc4337.Big(80_000)
	op.VerificationGasLimit = erc4337.Big(150_000)
	op.PreVerificationGas = erc4337.Big(50_000)
	op.MaxFeePerGas = erc4337.Big(2_000_000_000)
	op.MaxPriorityFeePerGas = erc4337.Big(1_000_000_000)

	tests := []struct {
		name    string
		body    map[string]interface{}
		chainID int64
	}{
		{name: "service defaults", body: map[string]interface{}{"userOperation": op}, chainID: testutil.TestChainID},
		{name: "explicit chain", body: map[string]interface{}{
			"userOperation": op,
			"entryPoint":    erc4337.EntryPointV07Address.Hex(),
			"chainId":       1,
		}, chainID: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := f.do(t, http.MethodPost, "/api/v1/userops/hash", tt.body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var data HashResponse
			require.NoError(t, json.Unmarshal(resp.Data, &data))
			expected, err := erc4337.GetUserOperationHash(op, erc4337.EntryPointV07, big.NewInt(tt.chainID))
			require.NoError(t, err)
			assert.Equal(t, expected, data.UserOpHash)
			assert.Equal(t, tt.chainID, data.ChainID)
		})
	}

	t.Run("unknown entry point", func(t *testing.T) {
		w, resp := f.do(t, http.MethodPost, "/api/v1/userops/hash", map[string]interface{}{
			"userOperation": op,
			"entryPoint":    "0x00000000000000000000000000000000000000e9",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, 1001, resp.Code)
	})
}

func TestStatusAndReceipt(t *testing.T) {
	f := newAPIFixture(t, nil)

	result, err := f.service.Send(context.Background(), service.SendParams{
		PrepareParams: service.PrepareParams{Calls: []erc4337.Call{{To: common.HexToAddress("0xaa")}}},
	})
	require.NoError(t, err)
	hash := result.UserOpHash.Hex()

	w, resp := f.do(t, http.MethodGet, "/api/v1/userops/"+hash, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report service.StatusReport
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	assert.Equal(t, domain.OperationStatusPending, report.Status)

	w, resp = f.do(t, http.MethodGet, "/api/v1/userops/"+hash+"/receipt", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 1002, resp.Code)

	w, resp = f.do(t, http.MethodGet, "/api/v1/userops/"+hash+"/receipt?wait=true&timeoutMs=30", nil)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, 1007, resp.Code)

	f.backend.Include(result.UserOpHash, true)

	w, resp = f.do(t, http.MethodGet, "/api/v1/userops/"+hash+"/receipt", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var receipt erc4337.UserOperationReceipt
	require.NoError(t, json.Unmarshal(resp.Data, &receipt))
	assert.Equal(t, result.UserOpHash, receipt.UserOpHash)

	w, resp = f.do(t, http.MethodGet, "/api/v1/userops/"+hash, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	assert.Equal(t, domain.OperationStatusIncluded, report.Status)

	t.Run("invalid and unknown hashes", func(t *testing.T) {
		w, resp := f.do(t, http.MethodGet, "/api/v1/userops/0x1234", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, 1001, resp.Code)

		w, resp = f.do(t, http.MethodGet, "/api/v1/userops/"+common.HexToHash("0xdead").Hex(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, 1002, resp.Code)
	})
}

type historyStub struct {
	*service.OperationService
	records []*domain.OperationRecord
}

func (s historyStub) History(context.Context, common.Address, int) ([]*domain.OperationRecord, error) {
	return s.records, nil
}

func TestHistory(t *testing.T) {
	t.Run("journal not configured", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		w, resp := f.do(t, http.MethodGet, "/api/v1/userops?sender="+testAccountAddress.Hex(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, 1002, resp.Code)

		w, _ = f.do(t, http.MethodGet, "/api/v1/userops", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("lists records", func(t *testing.T) {
		cost := "42000000000000"
		var svc *service.OperationService
		f := newAPIFixture(t, func(c *RouterConfig) {
			svc = c.Operations.(*service.OperationService)
			c.Operations = historyStub{OperationService: svc, records: []*domain.OperationRecord{{
				UserOpHash:    common.HexToHash("0x01").Hex(),
				Nonce:         "0",
				Status:        domain.OperationStatusIncluded,
				ActualGasCost: &cost,
			}}}
		})

		w, resp := f.do(t, http.MethodGet, "/api/v1/userops?sender="+testAccountAddress.Hex()+"&limit=5", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var items []HistoryItem
		require.NoError(t, json.Unmarshal(resp.Data, &items))
		require.Len(t, items, 1)
		require.NotNil(t, items[0].ActualGasCostEth)
		assert.Equal(t, "0.000042", items[0].ActualGasCostEth.String())
	})
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t, nil)
	_, _ = f.do(t, http.MethodPost, "/api/v1/userops/prepare", transferBody("1000"))

	w, _ := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `useropkit_userops_prepared_total{status="ok"} 1`)
}
