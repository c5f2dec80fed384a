package erc4337

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Call is one contract call executed by a smart account.
type Call struct {
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value,omitempty"`
	Data  []byte         `json:"data,omitempty"`
}

// SmartAccount is the account abstraction the preparer and signer work against.
type SmartAccount interface {
	EntryPoint() EntryPoint
	Address(ctx context.Context) (common.Address, error)
	Nonce(ctx context.Context) (*big.Int, error)
	// FactoryArgs returns a nil factory once the account is deployed.
	FactoryArgs(ctx context.Context) (*common.Address, []byte, error)
	EncodeCalls(ctx context.Context, calls []Call) ([]byte, error)
	DummySignature(ctx context.Context) ([]byte, error)
	SignUserOperationHash(ctx context.Context, hash common.Hash) ([]byte, error)
}
