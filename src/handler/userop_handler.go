package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ethaccount/useropkit/erc4337"
	"github.com/ethaccount/useropkit/src/domain"
	"github.com/ethaccount/useropkit/src/service"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const defaultHistoryLimit = 20

// Operations is the part of the operation service the HTTP API drives.
type Operations interface {
	EntryPoint() erc4337.EntryPoint
	ChainID() *big.Int
	Prepare(ctx context.Context, params service.PrepareParams) (erc4337.UserOperation, error)
	Send(ctx context.Context, params service.SendParams) (*service.SendResult, error)
	Hash(op erc4337.UserOperation, entryPoint *erc4337.EntryPoint, chainID *big.Int) (common.Hash, error)
	Status(ctx context.Context, hash common.Hash) (*service.StatusReport, error)
	Receipt(ctx context.Context, hash common.Hash) (*erc4337.UserOperationReceipt, error)
	Wait(ctx context.Context, hash common.Hash, opts *erc4337.WaitOptions) (*erc4337.UserOperationReceipt, error)
	History(ctx context.Context, sender common.Address, limit int) ([]*domain.OperationRecord, error)
}

type UserOpHandler struct {
	operations Operations
}

func NewUserOpHandler(operations Operations) *UserOpHandler {
	return &UserOpHandler{operations: operations}
}

func (h *UserOpHandler) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("handler", "userop").Logger()
	return &l
}

// CallRequest is one call executed by the account. Value is in wei.
type CallRequest struct {
	To    string          `json:"to" binding:"required,eth_addr" example:"0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045"`
	Value decimal.Decimal `json:"value" binding:"wei" swaggertype:"string" example:"1000000000000000"`
	Data  hexutil.Bytes   `json:"data" swaggertype:"string" example:"0x"`
}

func (r CallRequest) toCall() erc4337.Call {
	return erc4337.Call{
		To:    common.HexToAddress(r.To),
		Value: r.Value.BigInt(),
		Data:  r.Data,
	}
}

// PrepareRequest carries the calls to run and any UserOperation fields already decided.
type PrepareRequest struct {
	Calls         []CallRequest   `json:"calls" binding:"omitempty,dive"`
	UserOperation json.RawMessage `json:"userOperation,omitempty" swaggertype:"object"`
}

type PrepareResponse struct {
	UserOperation erc4337.UserOperation `json:"userOperation" swaggertype:"object"`
	UserOpHash    common.Hash           `json:"userOpHash" swaggertype:"string"`
	EntryPoint    erc4337.EntryPoint    `json:"entryPoint"`
}

type SendRequest struct {
	PrepareRequest
	// Wait blocks the request until the receipt is available.
	Wait      bool  `json:"wait"`
	TimeoutMs int64 `json:"timeoutMs" binding:"omitempty,min=1,max=600000"`
}

type SendResponse struct {
	UserOpHash    common.Hash                   `json:"userOpHash" swaggertype:"string"`
	UserOperation erc4337.UserOperation         `json:"userOperation" swaggertype:"object"`
	Receipt       *erc4337.UserOperationReceipt `json:"receipt,omitempty" swaggertype:"object"`
}

type HashRequest struct {
	UserOperation json.RawMessage `json:"userOperation" binding:"required" swaggertype:"object"`
	EntryPoint    string          `json:"entryPoint" binding:"omitempty,eth_addr"`
	ChainID       int64           `json:"chainId" binding:"omitempty,min=1"`
}

type HashResponse struct {
	UserOpHash common.Hash        `json:"userOpHash" swaggertype:"string"`
	EntryPoint erc4337.EntryPoint `json:"entryPoint"`
	ChainID    int64              `json:"chainId"`
}

type ReceiptQuery struct {
	Wait      bool  `form:"wait"`
	TimeoutMs int64 `form:"timeoutMs" binding:"omitempty,min=1,max=600000"`
}

type HistoryQuery struct {
	Sender string `form:"sender" binding:"required,eth_addr"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
}

type HistoryItem struct {
	UserOpHash      string                 `json:"userOpHash"`
	Nonce           string                 `json:"nonce"`
	Status          domain.OperationStatus `json:"status"`
	TransactionHash *string                `json:"transactionHash,omitempty"`
	ActualGasCost   *string                `json:"actualGasCost,omitempty"`
	// ActualGasCostEth is ActualGasCost in ether.
	ActualGasCostEth *decimal.Decimal `json:"actualGasCostEth,omitempty" swaggertype:"string"`
	Error            *string          `json:"error,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

func invalidParameter(err error, msg string) error {
	return domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg(msg))
}

func parseHashParam(c *gin.Context) (common.Hash, error) {
	raw := c.Param("hash")
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		if err == nil {
			err = errors.New("hash must be 32 bytes")
		}
		return common.Hash{}, invalidParameter(err, "invalid user operation hash")
	}
	return common.BytesToHash(b), nil
}

func (h *UserOpHandler) toPrepareParams(req PrepareRequest) (service.PrepareParams, error) {
	params := service.PrepareParams{
		Calls: lo.Map(req.Calls, func(call CallRequest, _ int) erc4337.Call { return call.toCall() }),
	}
	if len(req.UserOperation) > 0 && string(req.UserOperation) != "null" {
		op, err := erc4337.DecodeUserOperation(h.operations.EntryPoint().Version, req.UserOperation)
		if err != nil {
			return service.PrepareParams{}, invalidParameter(err, "invalid userOperation")
		}
		params.Operation = op
	}
	return params, nil
}

func waitOptions(timeoutMs int64) *erc4337.WaitOptions {
	if timeoutMs == 0 {
		return nil
	}
	opts := erc4337.DefaultWaitOptions()
	opts.Timeout = time.Duration(timeoutMs) * time.Millisecond
	return &opts
}

// Prepare godoc
// @Summary Prepare a user operation
// @Description Fill sender, nonce, init data, fees, sponsorship and gas limits without signing
// @Tags userops
// @Accept json
// @Produce json
// @Param request body PrepareRequest true "Calls and preset fields"
// @Success 200 {object} StandardResponse{data=PrepareResponse}
// @Failure 400 {object} StandardResponse
// @Failure 502 {object} StandardResponse
// @Router /userops/prepare [post]
func (h *UserOpHandler) Prepare(c *gin.Context) {
	ctx := c.Request.Context()
	logger := h.logger(ctx).With().Str("func", "Prepare").Logger()

	var req PrepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error().Err(err).Msg("invalid request payload")
		respondWithError(c, invalidParameter(err, "Invalid request payload"))
		return
	}
	params, err := h.toPrepareParams(req)
	if err != nil {
		respondWithError(c, err)
		return
	}

	op, err := h.operations.Prepare(ctx, params)
	if err != nil {
		respondWithError(c, err)
		return
	}
	hash, err := h.operations.Hash(op, nil, nil)
	if err != nil {
		respondWithError(c, err)
		return
	}

	respondWithSuccess(c, PrepareResponse{
		UserOperation: op,
		UserOpHash:    hash,
		EntryPoint:    h.operations.EntryPoint(),
	})
}

// Send godoc
// @Summary Send a user operation
// @Description Prepare, sign and submit a user operation to the bundler, optionally waiting for its receipt
// @Tags userops
// @Accept json
// @Produce json
// @Param request body SendRequest true "Calls, preset fields and wait options"
// @Success 200 {object} StandardResponse{data=SendResponse} "Included (wait=true)"
// @Success 202 {object} StandardResponse{data=SendResponse} "Accepted by the bundler"
// @Failure 400 {object} StandardResponse
// @Failure 502 {object} StandardResponse
// @Failure 504 {object} StandardResponse
// @Router /userops [post]
func (h *UserOpHandler) Send(c *gin.Context) {
	ctx := c.Request.Context()
	logger := h.logger(ctx).With().Str("func", "Send").Logger()

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error().Err(err).Msg("invalid request payload")
		respondWithError(c, invalidParameter(err, "Invalid request payload"))
		return
	}
	params, err := h.toPrepareParams(req.PrepareRequest)
	if err != nil {
		respondWithError(c, err)
		return
	}

	result, err := h.operations.Send(ctx, service.SendParams{
		PrepareParams: params,
		Wait:          req.Wait,
		WaitOptions:   waitOptions(req.TimeoutMs),
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	logger.Info().
		Str("user_op_hash", result.UserOpHash.Hex()).
		Bool("waited", req.Wait).
		Msg("user operation submitted")

	response := SendResponse{
		UserOpHash:    result.UserOpHash,
		UserOperation: result.UserOperation,
		Receipt:       result.Receipt,
	}
	if result.Receipt == nil {
		respondWithSuccessAndStatus(c, http.StatusAccepted, response, "Accepted")
		return
	}
	respondWithSuccess(c, response)
}

// Hash godoc
// @Summary Compute a userOpHash
// @Description Hash a user operation for an entry point and chain, defaulting to the service's own
// @Tags userops
// @Accept json
// @Produce json
// @Param request body HashRequest true "User operation and optional entry point and chain"
// @Success 200 {object} StandardResponse{data=HashResponse}
// @Failure 400 {object} StandardResponse
// @Router /userops/hash [post]
func (h *UserOpHandler) Hash(c *gin.Context) {
	var req HashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, invalidParameter(err, "Invalid request payload"))
		return
	}

	entryPoint := h.operations.EntryPoint()
	if req.EntryPoint != "" {
		ep, err := erc4337.ResolveEntryPoint(common.HexToAddress(req.EntryPoint))
		if err != nil {
			respondWithError(c, invalidParameter(err, "unknown entry point"))
			return
		}
		entryPoint = ep
	}
	chainID := h.operations.ChainID()
	if req.ChainID != 0 {
		chainID = big.NewInt(req.ChainID)
	}

	op, err := erc4337.DecodeUserOperation(entryPoint.Version, req.UserOperation)
	if err != nil {
		respondWithError(c, invalidParameter(err, "invalid userOperation"))
		return
	}
	hash, err := h.operations.Hash(op, &entryPoint, chainID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	respondWithSuccess(c, HashResponse{UserOpHash: hash, EntryPoint: entryPoint, ChainID: chainID.Int64()})
}

// Status godoc
// @Summary Get user operation status
// @Description Report whether a user operation is pending, included, reverted or failed
// @Tags userops
// @Produce json
// @Param hash path string true "userOpHash"
// @Success 200 {object} StandardResponse{data=service.StatusReport}
// @Failure 400 {object} StandardResponse
// @Failure 404 {object} StandardResponse
// @Router /userops/{hash} [get]
func (h *UserOpHandler) Status(c *gin.Context) {
	hash, err := parseHashParam(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	report, err := h.operations.Status(c.Request.Context(), hash)
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondWithSuccess(c, report)
}

// Receipt godoc
// @Summary Get user operation receipt
// @Description Fetch the receipt once, or with wait=true block until it is available
// @Tags userops
// @Produce json
// @Param hash path string true "userOpHash"
// @Param wait query bool false "Wait for the receipt"
// @Param timeoutMs query int false "Wait timeout in milliseconds"
// @Success 200 {object} StandardResponse{data=object}
// @Failure 400 {object} StandardResponse
// @Failure 404 {object} StandardResponse
// @Failure 504 {object} StandardResponse
// @Router /userops/{hash}/receipt [get]
func (h *UserOpHandler) Receipt(c *gin.Context) {
	hash, err := parseHashParam(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	var query ReceiptQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondWithError(c, invalidParameter(err, "Invalid query parameters"))
		return
	}

	var receipt *erc4337.UserOperationReceipt
	if query.Wait {
		receipt, err = h.operations.Wait(c.Request.Context(), hash, waitOptions(query.TimeoutMs))
	} else {
		receipt, err = h.operations.Receipt(c.Request.Context(), hash)
	}
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondWithSuccess(c, receipt)
}

// History godoc
// @Summary List user operations of a sender
// @Description Journaled user operations of an account, newest first
// @Tags userops
// @Produce json
// @Param sender query string true "Account address"
// @Param limit query int false "Maximum number of entries" default(20)
// @Success 200 {object} StandardResponse{data=[]HistoryItem}
// @Failure 400 {object} StandardResponse
// @Failure 404 {object} StandardResponse
// @Router /userops [get]
func (h *UserOpHandler) History(c *gin.Context) {
	var query HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondWithError(c, invalidParameter(err, "Invalid query parameters"))
		return
	}
	if query.Limit == 0 {
		query.Limit = defaultHistoryLimit
	}

	records, err := h.operations.History(c.Request.Context(), common.HexToAddress(query.Sender), query.Limit)
	if err != nil {
		respondWithError(c, err)
		return
	}

	items := lo.Map(records, func(record *domain.OperationRecord, _ int) HistoryItem {
		item := HistoryItem{
			UserOpHash:      record.UserOpHash,
			Nonce:           record.Nonce,
			Status:          record.Status,
			TransactionHash: record.TransactionHash,
			ActualGasCost:   record.ActualGasCost,
			Error:           record.ErrMsg,
			CreatedAt:       record.CreatedAt,
		}
		if record.ActualGasCost != nil {
			if eth, err := domain.WeiToEther(*record.ActualGasCost); err == nil {
				item.ActualGasCostEth = &eth
			}
		}
		return item
	})
	respondWithSuccess(c, items)
}
