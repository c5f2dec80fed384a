package erc4337

import (
	"context"
	"math/big"
)

// SignUserOperation signs a complete operation and returns a signed copy.
func SignUserOperation(ctx context.Context, account SmartAccount, op UserOperation, chainID *big.Int) (UserOperation, error) {
	if err := ValidateComplete(op); err != nil {
		return nil, err
	}
	hash, err := GetUserOperationHash(op, account.EntryPoint(), chainID)
	if err != nil {
		return nil, err
	}
	signature, err := account.SignUserOperationHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	signed := op.Clone()
	signed.Core().Signature = signature
	return signed, nil
}
