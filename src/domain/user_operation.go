package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethaccount/useropkit/erc4337"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OperationStatus tracks a submitted UserOperation.
type OperationStatus string

const (
	OperationStatusPending  OperationStatus = "pending"
	OperationStatusIncluded OperationStatus = "included"
	OperationStatusReverted OperationStatus = "reverted"
	OperationStatusFailed   OperationStatus = "failed"
)

// OperationRecord is one submitted UserOperation as journaled in the user_operations table.
type OperationRecord struct {
	ID                uuid.UUID       `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	UserOpHash        string          `gorm:"type:varchar(66);uniqueIndex;not null"`
	Sender            string          `gorm:"type:varchar(42);not null"`
	ChainID           int64           `gorm:"not null"`
	EntryPointAddress string          `gorm:"type:varchar(42);not null"`
	EntryPointVersion string          `gorm:"type:varchar(8);not null"`
	Nonce             string          `gorm:"type:varchar(80);not null"`
	UserOperation     json.RawMessage `gorm:"type:jsonb;not null"`
	Status            OperationStatus `gorm:"type:varchar(16);not null"`
	TransactionHash   *string         `gorm:"type:varchar(66)"`
	ActualGasCost     *string         `gorm:"type:varchar(80)"`
	ActualGasUsed     *string         `gorm:"type:varchar(80)"`
	ErrMsg            *string         `gorm:"type:text"`
	CreatedAt         time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (OperationRecord) TableName() string {
	return "user_operations"
}

// NewOperationRecord builds a pending record for an operation that was just accepted by the bundler.
func NewOperationRecord(op erc4337.UserOperation, entryPoint erc4337.EntryPoint, chainID int64, hash string) (*OperationRecord, error) {
	raw, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user operation: %w", err)
	}
	core := op.Core()
	return &OperationRecord{
		UserOpHash:        hash,
		Sender:            core.Sender.Hex(),
		ChainID:           chainID,
		EntryPointAddress: entryPoint.Address.Hex(),
		EntryPointVersion: string(entryPoint.Version),
		Nonce:             erc4337.ToInt(core.Nonce).String(),
		UserOperation:     raw,
		Status:            OperationStatusPending,
	}, nil
}

// GetUserOperation decodes the stored operation for its entry point version.
func (r *OperationRecord) GetUserOperation() (erc4337.UserOperation, error) {
	op, err := erc4337.DecodeUserOperation(erc4337.EntryPointVersion(r.EntryPointVersion), r.UserOperation)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal user operation: %w", err)
	}
	return op, nil
}

// OperationUpdate carries the columns written when an operation settles.
type OperationUpdate struct {
	Status          OperationStatus
	TransactionHash *string
	ActualGasCost   *string
	ActualGasUsed   *string
	ErrMsg          *string
}

// ReceiptUpdate derives the settled state from a bundler receipt.
func ReceiptUpdate(receipt *erc4337.UserOperationReceipt) OperationUpdate {
	update := OperationUpdate{Status: OperationStatusIncluded}
	if !receipt.Success {
		update.Status = OperationStatusReverted
		if receipt.Reason != "" {
			reason := receipt.Reason
			update.ErrMsg = &reason
		}
	}
	if receipt.Receipt != nil {
		txHash := receipt.Receipt.TransactionHash.Hex()
		update.TransactionHash = &txHash
	}
	if receipt.ActualGasCost != nil {
		cost := receipt.ActualGasCost.ToInt().String()
		update.ActualGasCost = &cost
	}
	if receipt.ActualGasUsed != nil {
		used := receipt.ActualGasUsed.ToInt().String()
		update.ActualGasUsed = &used
	}
	return update
}

var weiPerEther = decimal.New(1, 18)

// WeiToEther formats a wei amount as ether.
func WeiToEther(wei string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(wei)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid wei amount %q: %w", wei, err)
	}
	return amount.Div(weiPerEther), nil
}
