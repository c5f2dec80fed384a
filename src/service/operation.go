package service

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethaccount/useropkit/erc4337"
	"github.com/ethaccount/useropkit/src/domain"
	"github.com/ethaccount/useropkit/src/metrics"
	"github.com/ethaccount/useropkit/src/repository"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// OperationStore journals submitted operations.
type OperationStore interface {
	Create(ctx context.Context, record *domain.OperationRecord) error
	FindByHash(ctx context.Context, hash common.Hash) (*domain.OperationRecord, error)
	FindPending(ctx context.Context, limit int) ([]*domain.OperationRecord, error)
	FindBySender(ctx context.Context, sender common.Address, limit int) ([]*domain.OperationRecord, error)
	UpdateStatus(ctx context.Context, hash common.Hash, update domain.OperationUpdate) error
}

// StatusCache shares operation status between processes.
type StatusCache interface {
	Get(ctx context.Context, hash common.Hash) (*repository.CachedOperation, error)
	Set(ctx context.Context, entry *repository.CachedOperation) error
}

type OperationServiceConfig struct {
	Bundler     *erc4337.BundlerClient
	Account     erc4337.SmartAccount
	Fees        erc4337.FeeEstimator
	Sponsorship *erc4337.SponsorshipMiddleware
	// Store and Cache are optional.
	Store       OperationStore
	Cache       StatusCache
	Metrics     *metrics.OperationMetrics
	WaitOptions erc4337.WaitOptions
}

// OperationService drives the UserOperation lifecycle for one smart account.
type OperationService struct {
	bundler     *erc4337.BundlerClient
	account     erc4337.SmartAccount
	preparer    *erc4337.Preparer
	chainID     *big.Int
	store       OperationStore
	cache       StatusCache
	metrics     *metrics.OperationMetrics
	waitOptions erc4337.WaitOptions
}

func NewOperationService(ctx context.Context, cfg OperationServiceConfig) (*OperationService, error) {
	preparer, err := erc4337.NewPreparer(erc4337.PreparerConfig{
		Bundler:     cfg.Bundler,
		Account:     cfg.Account,
		Fees:        cfg.Fees,
		Sponsorship: cfg.Sponsorship,
	})
	if err != nil {
		return nil, err
	}

	chainID, err := cfg.Bundler.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	entryPoint := cfg.Account.EntryPoint()
	supported, err := cfg.Bundler.Supports(ctx, entryPoint)
	if err != nil {
		return nil, err
	}
	if !supported {
		return nil, &erc4337.ConfigError{Msg: "bundler does not support entry point " + entryPoint.String()}
	}

	s := &OperationService{
		bundler:     cfg.Bundler,
		account:     cfg.Account,
		preparer:    preparer,
		chainID:     chainID,
		store:       cfg.Store,
		cache:       cfg.Cache,
		metrics:     cfg.Metrics,
		waitOptions: cfg.WaitOptions,
	}
	if s.metrics == nil {
		s.metrics = metrics.NewOperationMetrics(erc4337.ActiveReceiptPolls)
	}
	if s.waitOptions == (erc4337.WaitOptions{}) {
		s.waitOptions = erc4337.DefaultWaitOptions()
	}
	return s, nil
}

// logger wraps the execution context with component info
func (s *OperationService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "operation").Logger()
	return &l
}

func (s *OperationService) EntryPoint() erc4337.EntryPoint { return s.account.EntryPoint() }

func (s *OperationService) ChainID() *big.Int { return new(big.Int).Set(s.chainID) }

func (s *OperationService) Metrics() *metrics.OperationMetrics { return s.metrics }

type PrepareParams struct {
	Calls         []erc4337.Call
	Operation     erc4337.UserOperation
	StateOverride erc4337.StateOverride
}

// Prepare fills every missing field of an operation without signing it.
func (s *OperationService) Prepare(ctx context.Context, params PrepareParams) (erc4337.UserOperation, error) {
	op, err := s.preparer.Prepare(ctx, erc4337.PrepareRequest{
		Calls:         params.Calls,
		Operation:     params.Operation,
		StateOverride: params.StateOverride,
	})
	if err != nil {
		s.metrics.IncPrepared(metrics.StatusFailed)
		s.logger(ctx).Error().Err(err).Msg("failed to prepare user operation")
		return nil, domain.FromClientError(err)
	}
	s.metrics.IncPrepared(metrics.StatusOK)
	return op, nil
}

// Hash computes the userOpHash. A nil entry point or chain id defaults to the service's own.
func (s *OperationService) Hash(op erc4337.UserOperation, entryPoint *erc4337.EntryPoint, chainID *big.Int) (common.Hash, error) {
	ep := s.EntryPoint()
	if entryPoint != nil {
		ep = *entryPoint
	}
	if chainID == nil {
		chainID = s.chainID
	}
	hash, err := erc4337.GetUserOperationHash(op, ep, chainID)
	if err != nil {
		return common.Hash{}, domain.FromClientError(err)
	}
	return hash, nil
}

type SendParams struct {
	PrepareParams
	// Wait blocks until the receipt is available.
	Wait        bool
	WaitOptions *erc4337.WaitOptions
}

type SendResult struct {
	UserOpHash    common.Hash
	UserOperation erc4337.UserOperation
	Receipt       *erc4337.UserOperationReceipt
}

// Send prepares, signs and submits an operation, then journals it as pending.
func (s *OperationService) Send(ctx context.Context, params SendParams) (*SendResult, error) {
	op, err := s.Prepare(ctx, params.PrepareParams)
	if err != nil {
		return nil, err
	}

	signed, err := erc4337.SignUserOperation(ctx, s.account, op, s.chainID)
	if err != nil {
		s.logger(ctx).Error().Err(err).Msg("failed to sign user operation")
		return nil, domain.FromClientError(err)
	}

	hash, err := s.bundler.SendUserOperation(ctx, signed, s.EntryPoint())
	if err != nil {
		s.metrics.IncSent(metrics.StatusFailed)
		s.logger(ctx).Error().Err(err).Msg("failed to send user operation to bundler")
		return nil, domain.FromClientError(err)
	}
	s.metrics.IncSent(metrics.StatusOK)

	s.logger(ctx).Info().
		Str("user_op_hash", hash.Hex()).
		Str("sender", signed.Core().Sender.Hex()).
		Msg("user operation sent")

	s.record(ctx, signed, hash)

	result := &SendResult{UserOpHash: hash, UserOperation: signed}
	if !params.Wait {
		return result, nil
	}
	receipt, err := s.Wait(ctx, hash, params.WaitOptions)
	if err != nil {
		return result, err
	}
	result.Receipt = receipt
	return result, nil
}

// record journals a sent operation. Failures are logged only, the operation is already
// with the bundler.
func (s *OperationService) record(ctx context.Context, op erc4337.UserOperation, hash common.Hash) {
	if s.store != nil {
		record, err := domain.NewOperationRecord(op, s.EntryPoint(), s.chainID.Int64(), hash.Hex())
		if err == nil {
			err = s.store.Create(ctx, record)
		}
		if err != nil {
			s.logger(ctx).Error().Err(err).Str("user_op_hash", hash.Hex()).Msg("failed to journal user operation")
		}
	}
	s.cacheStatus(ctx, &repository.CachedOperation{
		UserOpHash: hash,
		ChainID:    s.chainID.Int64(),
		Sender:     op.Core().Sender,
		Status:     domain.OperationStatusPending,
	})
}

func (s *OperationService) cacheStatus(ctx context.Context, entry *repository.CachedOperation) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, entry); err != nil {
		s.logger(ctx).Warn().Err(err).Str("user_op_hash", entry.UserOpHash.Hex()).Msg("failed to cache operation status")
	}
}

// Wait blocks until the bundler reports a receipt. Concurrent waits for the same hash share
// one polling loop.
func (s *OperationService) Wait(ctx context.Context, hash common.Hash, opts *erc4337.WaitOptions) (*erc4337.UserOperationReceipt, error) {
	options := s.waitOptions
	if opts != nil {
		options = *opts
	}

	start := time.Now()
	receipt, err := s.bundler.WaitForUserOperationReceipt(ctx, hash, options)
	if err != nil {
		var timeoutErr *erc4337.TimeoutError
		if errors.As(err, &timeoutErr) {
			s.metrics.ObserveReceipt(metrics.OutcomeTimeout, time.Since(start))
		} else {
			s.metrics.ObserveReceipt(metrics.OutcomeError, time.Since(start))
		}
		s.logger(ctx).Warn().Err(err).Str("user_op_hash", hash.Hex()).Msg("failed to wait for receipt")
		return nil, domain.FromClientError(err)
	}

	outcome := metrics.OutcomeIncluded
	if !receipt.Success {
		outcome = metrics.OutcomeReverted
	}
	s.metrics.ObserveReceipt(outcome, time.Since(start))

	s.settle(ctx, hash, receipt)
	return receipt, nil
}

// settle writes the receipt outcome to the journal and the cache.
func (s *OperationService) settle(ctx context.Context, hash common.Hash, receipt *erc4337.UserOperationReceipt) domain.OperationUpdate {
	update := domain.ReceiptUpdate(receipt)

	if s.store != nil {
		if err := s.store.UpdateStatus(ctx, hash, update); err != nil {
			s.logger(ctx).Error().Err(err).Str("user_op_hash", hash.Hex()).Msg("failed to update journal")
		}
	}

	entry := &repository.CachedOperation{
		UserOpHash: hash,
		ChainID:    s.chainID.Int64(),
		Sender:     receipt.Sender,
		Status:     update.Status,
	}
	if update.TransactionHash != nil {
		entry.TransactionHash = *update.TransactionHash
	}
	if update.ErrMsg != nil {
		entry.Error = *update.ErrMsg
	}
	s.cacheStatus(ctx, entry)

	s.logger(ctx).Info().
		Str("user_op_hash", hash.Hex()).
		Str("status", string(update.Status)).
		Msg("user operation settled")
	return update
}
