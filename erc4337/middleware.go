package erc4337

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
)

// TransformFunc takes over preparation after the dummy signature is attached.
type TransformFunc func(ctx context.Context, op UserOperation, entryPoint EntryPoint) (UserOperation, error)

// GasPriceFunc overrides default fee resolution.
type GasPriceFunc func(ctx context.Context) (*GasPrice, error)

// SponsorFunc asks a paymaster to sponsor an operation that already carries fees.
type SponsorFunc func(ctx context.Context, op UserOperation, entryPoint EntryPoint) (*SponsorResult, error)

// SponsorshipHooks is the hooks form of the sponsorship middleware. Either hook may be nil.
type SponsorshipHooks struct {
	GasPrice             GasPriceFunc
	SponsorUserOperation SponsorFunc
}

// SponsorshipMiddleware is either a transform or a set of hooks, never both.
type SponsorshipMiddleware struct {
	transform TransformFunc
	hooks     *SponsorshipHooks
}

// TransformMiddleware replaces fee and gas resolution entirely with fn.
func TransformMiddleware(fn TransformFunc) *SponsorshipMiddleware {
	return &SponsorshipMiddleware{transform: fn}
}

func HooksMiddleware(hooks SponsorshipHooks) *SponsorshipMiddleware {
	return &SponsorshipMiddleware{hooks: &hooks}
}

func (m *SponsorshipMiddleware) Transform() (TransformFunc, bool) {
	if m == nil || m.transform == nil {
		return nil, false
	}
	return m.transform, true
}

func (m *SponsorshipMiddleware) Hooks() (*SponsorshipHooks, bool) {
	if m == nil || m.hooks == nil {
		return nil, false
	}
	return m.hooks, true
}

// MergeGasLimits keeps the larger of each limit so a re-estimate never shrinks a limit
// that an earlier pass found necessary.
func MergeGasLimits(fresh, previous *GasEstimate) *GasEstimate {
	if previous == nil {
		return fresh
	}
	if fresh == nil {
		return previous
	}
	return &GasEstimate{
		PreVerificationGas:            maxBig(fresh.PreVerificationGas, previous.PreVerificationGas),
		VerificationGasLimit:          maxBig(fresh.VerificationGasLimit, previous.VerificationGasLimit),
		CallGasLimit:                  maxBig(fresh.CallGasLimit, previous.CallGasLimit),
		PaymasterVerificationGasLimit: maxBig(fresh.PaymasterVerificationGasLimit, previous.PaymasterVerificationGasLimit),
		PaymasterPostOpGasLimit:       maxBig(fresh.PaymasterPostOpGasLimit, previous.PaymasterPostOpGasLimit),
	}
}

func maxBig(a, b *hexutil.Big) *hexutil.Big {
	switch {
	case a == nil:
		return cloneBig(b)
	case b == nil:
		return cloneBig(a)
	case a.ToInt().Cmp(b.ToInt()) >= 0:
		return cloneBig(a)
	default:
		return cloneBig(b)
	}
}

// currentGasLimits snapshots the limits an operation already carries.
func currentGasLimits(op UserOperation) *GasEstimate {
	core := op.Core()
	est := &GasEstimate{
		PreVerificationGas:   cloneBig(core.PreVerificationGas),
		VerificationGasLimit: cloneBig(core.VerificationGasLimit),
		CallGasLimit:         cloneBig(core.CallGasLimit),
	}
	if v07, ok := op.(*UserOperationV07); ok {
		est.PaymasterVerificationGasLimit = cloneBig(v07.PaymasterVerificationGasLimit)
		est.PaymasterPostOpGasLimit = cloneBig(v07.PaymasterPostOpGasLimit)
	}
	return est
}

// ApplySponsorResult writes a sponsorship into op. Each gas limit the paymaster returns
// replaces the current one, including caller-supplied values; a limit it omits keeps its
// current value. Fees are replaced only when provided.
func ApplySponsorResult(op UserOperation, res *SponsorResult) error {
	core := op.Core()
	if res.CallGasLimit != nil {
		core.CallGasLimit = cloneBig(res.CallGasLimit)
	}
	if res.VerificationGasLimit != nil {
		core.VerificationGasLimit = cloneBig(res.VerificationGasLimit)
	}
	if res.PreVerificationGas != nil {
		core.PreVerificationGas = cloneBig(res.PreVerificationGas)
	}
	if res.MaxFeePerGas != nil {
		core.MaxFeePerGas = cloneBig(res.MaxFeePerGas)
	}
	if res.MaxPriorityFeePerGas != nil {
		core.MaxPriorityFeePerGas = cloneBig(res.MaxPriorityFeePerGas)
	}
	return applyPaymasterFields(op, paymasterFieldsOf(res))
}

type paymasterUpdate struct {
	paymaster        *common.Address
	paymasterData    hexutil.Bytes
	paymasterAndData hexutil.Bytes
	verificationGas  *hexutil.Big
	postOpGas        *hexutil.Big
}

func paymasterFieldsOf(res *SponsorResult) paymasterUpdate {
	return paymasterUpdate{
		paymaster:        res.Paymaster,
		paymasterData:    res.PaymasterData,
		paymasterAndData: res.PaymasterAndData,
		verificationGas:  res.PaymasterVerificationGasLimit,
		postOpGas:        res.PaymasterPostOpGasLimit,
	}
}

func applyPaymasterFields(op UserOperation, u paymasterUpdate) error {
	switch uo := op.(type) {
	case *UserOperationV06:
		if u.paymasterAndData != nil {
			uo.PaymasterAndData = cloneBytes(u.paymasterAndData)
		} else if u.paymaster != nil {
			uo.PaymasterAndData = append(u.paymaster.Bytes(), u.paymasterData...)
		}
	case *UserOperationV07:
		if u.paymaster == nil && len(u.paymasterAndData) > 0 {
			fields, err := UnpackPaymasterAndData(u.paymasterAndData)
			if err != nil {
				return err
			}
			u.paymaster = fields.Paymaster
			u.paymasterData = fields.PaymasterData
			if u.verificationGas == nil {
				u.verificationGas = BigFrom(fields.PaymasterVerificationGasLimit)
			}
			if u.postOpGas == nil {
				u.postOpGas = BigFrom(fields.PaymasterPostOpGasLimit)
			}
		}
		if u.paymaster == nil {
			return nil
		}
		uo.Paymaster = cloneAddress(u.paymaster)
		uo.PaymasterData = cloneBytes(u.paymasterData)
		if u.verificationGas != nil {
			uo.PaymasterVerificationGasLimit = cloneBig(u.verificationGas)
		}
		if u.postOpGas != nil {
			uo.PaymasterPostOpGasLimit = cloneBig(u.postOpGas)
		}
	default:
		return &ValidationError{Msg: fmt.Sprintf("unsupported user operation type %T", op)}
	}
	return nil
}

// SponsorWithPaymaster sponsors through pm_sponsorUserOperation.
func SponsorWithPaymaster(pm *PaymasterClient, policyID string) *SponsorshipMiddleware {
	return HooksMiddleware(SponsorshipHooks{
		SponsorUserOperation: func(ctx context.Context, op UserOperation, entryPoint EntryPoint) (*SponsorResult, error) {
			return pm.SponsorUserOperation(ctx, op, entryPoint, policyID)
		},
	})
}

// SponsorWithStubData sponsors through the ERC-7677 stub/final data flow: stub data is
// attached, gas is re-estimated and merged with what the operation already had, then the
// final paymaster data is fetched for the merged limits.
func SponsorWithStubData(pm *PaymasterClient, bundler *BundlerClient, chainID *big.Int, pmContext map[string]interface{}) *SponsorshipMiddleware {
	return HooksMiddleware(SponsorshipHooks{
		SponsorUserOperation: func(ctx context.Context, op UserOperation, entryPoint EntryPoint) (*SponsorResult, error) {
			logger := zerolog.Ctx(ctx)
			draft := op.Clone()

			stub, err := pm.GetPaymasterStubData(ctx, draft, entryPoint, chainID, pmContext)
			if err != nil {
				return nil, err
			}
			if err := applyPaymasterFields(draft, paymasterUpdate{
				paymaster:        stub.Paymaster,
				paymasterData:    stub.PaymasterData,
				paymasterAndData: stub.PaymasterAndData,
				verificationGas:  stub.PaymasterVerificationGasLimit,
				postOpGas:        stub.PaymasterPostOpGasLimit,
			}); err != nil {
				return nil, err
			}

			fresh, err := bundler.EstimateUserOperationGas(ctx, draft, entryPoint, nil)
			if err != nil {
				return nil, err
			}
			merged := MergeGasLimits(fresh, currentGasLimits(op))
			logger.Debug().Interface("gas_limits", merged).Msg("merged sponsored gas limits")

			core := draft.Core()
			core.CallGasLimit = merged.CallGasLimit
			core.VerificationGasLimit = merged.VerificationGasLimit
			core.PreVerificationGas = merged.PreVerificationGas
			if v07, ok := draft.(*UserOperationV07); ok && v07.Paymaster != nil {
				if v07.PaymasterVerificationGasLimit == nil {
					v07.PaymasterVerificationGasLimit = merged.PaymasterVerificationGasLimit
				}
				if v07.PaymasterPostOpGasLimit == nil {
					v07.PaymasterPostOpGasLimit = merged.PaymasterPostOpGasLimit
				}
			}

			result := &SponsorResult{
				CallGasLimit:         merged.CallGasLimit,
				VerificationGasLimit: merged.VerificationGasLimit,
				PreVerificationGas:   merged.PreVerificationGas,
			}
			update := paymasterUpdate{
				paymaster:        stub.Paymaster,
				paymasterData:    stub.PaymasterData,
				paymasterAndData: stub.PaymasterAndData,
			}
			if !stub.IsFinal {
				final, err := pm.GetPaymasterData(ctx, draft, entryPoint, chainID, pmContext)
				if err != nil {
					return nil, err
				}
				if final == nil || (final.Paymaster == nil && len(final.PaymasterAndData) == 0) {
					return nil, &RPCError{
						Method:  "pm_getPaymasterData",
						Code:    DefaultRPCErrorCode,
						Message: "paymaster returned no paymaster data",
					}
				}
				update = paymasterUpdate{
					paymaster:        final.Paymaster,
					paymasterData:    final.PaymasterData,
					paymasterAndData: final.PaymasterAndData,
				}
			}

			result.Paymaster = update.paymaster
			result.PaymasterData = update.paymasterData
			result.PaymasterAndData = update.paymasterAndData
			if v07, ok := draft.(*UserOperationV07); ok {
				result.PaymasterVerificationGasLimit = v07.PaymasterVerificationGasLimit
				result.PaymasterPostOpGasLimit = v07.PaymasterPostOpGasLimit
			}
			return result, nil
		},
	})
}
