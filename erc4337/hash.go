package erc4337

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	addressType, _ = abi.NewType("address", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
)

var (
	userOpV06Args = abi.Arguments{
		{Type: addressType}, // sender
		{Type: uint256Type}, // nonce
		{Type: bytes32Type}, // keccak(initCode)
		{Type: bytes32Type}, // keccak(callData)
		{Type: uint256Type}, // callGasLimit
		{Type: uint256Type}, // verificationGasLimit
		{Type: uint256Type}, // preVerificationGas
		{Type: uint256Type}, // maxFeePerGas
		{Type: uint256Type}, // maxPriorityFeePerGas
		{Type: bytes32Type}, // keccak(paymasterAndData)
	}

	userOpV07Args = abi.Arguments{
		{Type: addressType}, // sender
		{Type: uint256Type}, // nonce
		{Type: bytes32Type}, // keccak(initCode)
		{Type: bytes32Type}, // keccak(callData)
		{Type: bytes32Type}, // accountGasLimits
		{Type: uint256Type}, // preVerificationGas
		{Type: bytes32Type}, // gasFees
		{Type: bytes32Type}, // keccak(paymasterAndData)
	}

	domainArgs = abi.Arguments{
		{Type: bytes32Type}, // userOp hash
		{Type: addressType}, // entry point
		{Type: uint256Type}, // chain id
	}
)

// GetUserOperationHash computes the hash the account signs, binding the operation to
// one EntryPoint deployment and chain.
func GetUserOperationHash(op UserOperation, entryPoint EntryPoint, chainID *big.Int) (common.Hash, error) {
	if op.Version() != entryPoint.Version {
		return common.Hash{}, &ValidationError{
			Field: "entryPoint",
			Msg:   fmt.Sprintf("v%s operation cannot target v%s entry point", op.Version(), entryPoint.Version),
		}
	}
	if chainID == nil {
		return common.Hash{}, &ValidationError{Field: "chainId", Msg: "required"}
	}

	var (
		encoded []byte
		err     error
	)
	switch uo := op.(type) {
	case *UserOperationV06:
		encoded, err = encodeUserOperationV06(uo)
	case *UserOperationV07:
		encoded, err = encodeUserOperationV07(uo)
	default:
		return common.Hash{}, &ValidationError{Msg: fmt.Sprintf("unsupported user operation type %T", op)}
	}
	if err != nil {
		return common.Hash{}, err
	}

	final, err := domainArgs.Pack(crypto.Keccak256Hash(encoded), entryPoint.Address, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode user operation hash domain: %w", err)
	}
	return crypto.Keccak256Hash(final), nil
}

func encodeUserOperationV06(op *UserOperationV06) ([]byte, error) {
	encoded, err := userOpV06Args.Pack(
		op.Sender,
		bigOrZero(op.Nonce),
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		bigOrZero(op.CallGasLimit),
		bigOrZero(op.VerificationGasLimit),
		bigOrZero(op.PreVerificationGas),
		bigOrZero(op.MaxFeePerGas),
		bigOrZero(op.MaxPriorityFeePerGas),
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to encode v0.6 user operation: %w", err)
	}
	return encoded, nil
}

func encodeUserOperationV07(op *UserOperationV07) ([]byte, error) {
	packed, err := PackUserOperation(op)
	if err != nil {
		return nil, err
	}
	encoded, err := userOpV07Args.Pack(
		packed.Sender,
		packed.Nonce.ToInt(),
		crypto.Keccak256Hash(packed.InitCode),
		crypto.Keccak256Hash(packed.CallData),
		packed.AccountGasLimits,
		packed.PreVerificationGas.ToInt(),
		packed.GasFees,
		crypto.Keccak256Hash(packed.PaymasterAndData),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to encode v0.7 user operation: %w", err)
	}
	return encoded, nil
}
