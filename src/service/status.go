package service

import (
	"context"
	"errors"
	"time"

	"github.com/ethaccount/useropkit/erc4337"
	"github.com/ethaccount/useropkit/src/domain"
	"github.com/ethaccount/useropkit/src/repository"
	"github.com/ethereum/go-ethereum/common"
)

// Where a status report was read from.
const (
	SourceCache   = "cache"
	SourceJournal = "journal"
	SourceBundler = "bundler"
)

type StatusReport struct {
	UserOpHash      common.Hash            `json:"userOpHash"`
	Status          domain.OperationStatus `json:"status"`
	TransactionHash string                 `json:"transactionHash,omitempty"`
	Error           string                 `json:"error,omitempty"`
	Source          string                 `json:"source"`
}

func settled(status domain.OperationStatus) bool {
	return status != "" && status != domain.OperationStatusPending
}

// Status reports where an operation stands: the cache and the journal answer for settled
// operations, otherwise the bundler is asked once for a receipt.
func (s *OperationService) Status(ctx context.Context, hash common.Hash) (*StatusReport, error) {
	var known *StatusReport

	if s.cache != nil {
		entry, err := s.cache.Get(ctx, hash)
		if err != nil {
			s.logger(ctx).Warn().Err(err).Msg("failed to read status cache")
		} else if entry != nil {
			known = &StatusReport{
				UserOpHash:      hash,
				Status:          entry.Status,
				TransactionHash: entry.TransactionHash,
				Error:           entry.Error,
				Source:          SourceCache,
			}
			if settled(entry.Status) {
				return known, nil
			}
		}
	}

	if s.store != nil {
		record, err := s.store.FindByHash(ctx, hash)
		if err != nil {
			return nil, domain.NewError(domain.ErrorCodeInternalProcess, err, domain.WithMsg("failed to read operation journal"))
		}
		if record != nil {
			report := &StatusReport{UserOpHash: hash, Status: record.Status, Source: SourceJournal}
			if record.TransactionHash != nil {
				report.TransactionHash = *record.TransactionHash
			}
			if record.ErrMsg != nil {
				report.Error = *record.ErrMsg
			}
			if settled(record.Status) {
				return report, nil
			}
			if known == nil {
				known = report
			}
		}
	}

	receipt, err := s.bundler.GetUserOperationReceipt(ctx, hash)
	if err != nil {
		return nil, domain.FromClientError(err)
	}
	if receipt != nil {
		update := s.settle(ctx, hash, receipt)
		report := &StatusReport{UserOpHash: hash, Status: update.Status, Source: SourceBundler}
		if update.TransactionHash != nil {
			report.TransactionHash = *update.TransactionHash
		}
		if update.ErrMsg != nil {
			report.Error = *update.ErrMsg
		}
		return report, nil
	}

	if known != nil {
		return known, nil
	}

	pending, err := s.bundler.GetUserOperationByHash(ctx, hash)
	if err != nil {
		return nil, domain.FromClientError(err)
	}
	if pending == nil {
		return nil, domain.NewError(domain.ErrorCodeResourceNotFound, errors.New("unknown user operation"),
			domain.WithMsg("user operation "+hash.Hex()+" not found"))
	}
	return &StatusReport{UserOpHash: hash, Status: domain.OperationStatusPending, Source: SourceBundler}, nil
}

// Receipt asks the bundler once for the receipt of hash and settles the operation when it
// is available.
func (s *OperationService) Receipt(ctx context.Context, hash common.Hash) (*erc4337.UserOperationReceipt, error) {
	receipt, err := s.bundler.GetUserOperationReceipt(ctx, hash)
	if err != nil {
		return nil, domain.FromClientError(err)
	}
	if receipt == nil {
		return nil, domain.NewError(domain.ErrorCodeResourceNotFound, errors.New("receipt not available"),
			domain.WithMsg("receipt for "+hash.Hex()+" is not available yet"))
	}
	s.settle(ctx, hash, receipt)
	return receipt, nil
}

// History lists the journaled operations of sender, newest first.
func (s *OperationService) History(ctx context.Context, sender common.Address, limit int) ([]*domain.OperationRecord, error) {
	if s.store == nil {
		return nil, domain.NewError(domain.ErrorCodeResourceNotFound, errors.New("operation journal is not configured"),
			domain.WithMsg("operation history is not available"))
	}
	records, err := s.store.FindBySender(ctx, sender, limit)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err, domain.WithMsg("failed to read operation journal"))
	}
	return records, nil
}

// Reconcile polls the bundler once for every pending journaled operation and settles the
// ones that were included. Operations pending longer than maxAge are marked failed.
func (s *OperationService) Reconcile(ctx context.Context, limit int, maxAge time.Duration) (int, error) {
	if s.store == nil {
		return 0, nil
	}

	records, err := s.store.FindPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, record := range records {
		hash := common.HexToHash(record.UserOpHash)

		receipt, err := s.bundler.GetUserOperationReceipt(ctx, hash)
		if err != nil {
			s.logger(ctx).Warn().Err(err).Str("user_op_hash", record.UserOpHash).Msg("failed to poll receipt")
			continue
		}
		if receipt != nil {
			s.settle(ctx, hash, receipt)
			count++
			continue
		}

		if maxAge > 0 && time.Since(record.CreatedAt) > maxAge {
			msg := "no receipt after " + maxAge.String()
			if err := s.store.UpdateStatus(ctx, hash, domain.OperationUpdate{Status: domain.OperationStatusFailed, ErrMsg: &msg}); err != nil {
				s.logger(ctx).Error().Err(err).Str("user_op_hash", record.UserOpHash).Msg("failed to expire operation")
				continue
			}
			s.cacheStatus(ctx, &repository.CachedOperation{
				UserOpHash: hash,
				ChainID:    record.ChainID,
				Sender:     common.HexToAddress(record.Sender),
				Status:     domain.OperationStatusFailed,
				Error:      msg,
			})
			count++
		}
	}
	return count, nil
}
