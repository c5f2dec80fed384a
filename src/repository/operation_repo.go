package repository

import (
	"context"
	"errors"

	"github.com/ethaccount/useropkit/src/domain"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
)

type OperationRepository struct {
	db *gorm.DB
}

func NewOperationRepository(db *gorm.DB) *OperationRepository {
	return &OperationRepository{db: db}
}

func (r *OperationRepository) Create(ctx context.Context, record *domain.OperationRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// FindByHash returns nil when no record exists for hash.
func (r *OperationRepository) FindByHash(ctx context.Context, hash common.Hash) (*domain.OperationRecord, error) {
	var record domain.OperationRecord
	err := r.db.WithContext(ctx).Where("user_op_hash = ?", hash.Hex()).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// FindPending returns up to limit pending records, oldest first.
func (r *OperationRepository) FindPending(ctx context.Context, limit int) ([]*domain.OperationRecord, error) {
	var records []*domain.OperationRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.OperationStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// FindBySender lists the most recent records of one account.
func (r *OperationRepository) FindBySender(ctx context.Context, sender common.Address, limit int) ([]*domain.OperationRecord, error) {
	var records []*domain.OperationRecord
	err := r.db.WithContext(ctx).
		Where("sender = ?", sender.Hex()).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateStatus writes the settled columns. Nil fields in update are left untouched.
func (r *OperationRepository) UpdateStatus(ctx context.Context, hash common.Hash, update domain.OperationUpdate) error {
	updates := map[string]interface{}{
		"status": update.Status,
	}
	if update.TransactionHash != nil {
		updates["transaction_hash"] = *update.TransactionHash
	}
	if update.ActualGasCost != nil {
		updates["actual_gas_cost"] = *update.ActualGasCost
	}
	if update.ActualGasUsed != nil {
		updates["actual_gas_used"] = *update.ActualGasUsed
	}
	if update.ErrMsg != nil {
		updates["err_msg"] = *update.ErrMsg
	}

	return r.db.WithContext(ctx).
		Model(&domain.OperationRecord{}).
		Where("user_op_hash = ?", hash.Hex()).
		Updates(updates).Error
}
