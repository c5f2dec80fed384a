package erc4337

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// GasEstimate is the result of eth_estimateUserOperationGas. The paymaster limits are only
// reported for v0.7 operations that carry a paymaster.
type GasEstimate struct {
	PreVerificationGas            *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit          *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit                  *hexutil.Big `json:"callGasLimit"`
	PaymasterVerificationGasLimit *hexutil.Big `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big `json:"paymasterPostOpGasLimit,omitempty"`
}

// EstimateUserOperationGas asks the bundler for gas limits. The input is never mutated: a
// clone with zeroed placeholders for unset gas fields is sent instead.
func (b *BundlerClient) EstimateUserOperationGas(ctx context.Context, op UserOperation, entryPoint EntryPoint, override StateOverride) (*GasEstimate, error) {
	if op.Version() != entryPoint.Version {
		return nil, &ValidationError{Field: "entryPoint", Msg: "operation and entry point versions differ"}
	}
	draft := estimationDraft(op)

	args := []interface{}{draft, entryPoint.Address}
	if len(override) > 0 {
		args = append(args, override)
	}

	var estimate GasEstimate
	if err := b.call(ctx, &estimate, "eth_estimateUserOperationGas", args...); err != nil {
		return nil, err
	}
	return &estimate, nil
}

func estimationDraft(op UserOperation) UserOperation {
	draft := op.Clone()
	core := draft.Core()
	for _, f := range []**hexutil.Big{
		&core.Nonce,
		&core.CallGasLimit,
		&core.VerificationGasLimit,
		&core.PreVerificationGas,
		&core.MaxFeePerGas,
		&core.MaxPriorityFeePerGas,
	} {
		if *f == nil {
			*f = (*hexutil.Big)(new(big.Int))
		}
	}
	if v07, ok := draft.(*UserOperationV07); ok && v07.Paymaster != nil {
		if v07.PaymasterVerificationGasLimit == nil {
			v07.PaymasterVerificationGasLimit = (*hexutil.Big)(new(big.Int))
		}
		if v07.PaymasterPostOpGasLimit == nil {
			v07.PaymasterPostOpGasLimit = (*hexutil.Big)(new(big.Int))
		}
	}
	return draft
}

// ApplyGasEstimate fills the gas limit fields that are still unset.
func ApplyGasEstimate(op UserOperation, estimate *GasEstimate) {
	core := op.Core()
	if core.CallGasLimit == nil {
		core.CallGasLimit = cloneBig(estimate.CallGasLimit)
	}
	if core.VerificationGasLimit == nil {
		core.VerificationGasLimit = cloneBig(estimate.VerificationGasLimit)
	}
	if core.PreVerificationGas == nil {
		core.PreVerificationGas = cloneBig(estimate.PreVerificationGas)
	}
	if v07, ok := op.(*UserOperationV07); ok && v07.Paymaster != nil {
		if v07.PaymasterVerificationGasLimit == nil {
			v07.PaymasterVerificationGasLimit = cloneBig(estimate.PaymasterVerificationGasLimit)
		}
		if v07.PaymasterPostOpGasLimit == nil {
			v07.PaymasterPostOpGasLimit = cloneBig(estimate.PaymasterPostOpGasLimit)
		}
	}
}

// needsGasEstimate reports whether any gas limit the bundler estimates is unset.
func needsGasEstimate(op UserOperation) bool {
	core := op.Core()
	if core.CallGasLimit == nil || core.VerificationGasLimit == nil || core.PreVerificationGas == nil {
		return true
	}
	if v07, ok := op.(*UserOperationV07); ok && v07.Paymaster != nil {
		return v07.PaymasterVerificationGasLimit == nil || v07.PaymasterPostOpGasLimit == nil
	}
	return false
}

type requiredField struct {
	name  string
	value *hexutil.Big
}

// ValidateComplete checks that every field required for signing and submission is set.
func ValidateComplete(op UserOperation) error {
	core := op.Core()
	if core.Sender == (common.Address{}) {
		return &ValidationError{Field: "sender", Msg: "required"}
	}
	required := []requiredField{
		{"nonce", core.Nonce},
		{"callGasLimit", core.CallGasLimit},
		{"verificationGasLimit", core.VerificationGasLimit},
		{"preVerificationGas", core.PreVerificationGas},
		{"maxFeePerGas", core.MaxFeePerGas},
		{"maxPriorityFeePerGas", core.MaxPriorityFeePerGas},
	}
	if v07, ok := op.(*UserOperationV07); ok && v07.Paymaster != nil {
		required = append(required,
			requiredField{"paymasterVerificationGasLimit", v07.PaymasterVerificationGasLimit},
			requiredField{"paymasterPostOpGasLimit", v07.PaymasterPostOpGasLimit},
		)
	}
	for _, r := range required {
		if r.value == nil {
			return &ValidationError{Field: r.name, Msg: "required"}
		}
	}
	return nil
}
