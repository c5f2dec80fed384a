package erc4337

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// GasPrice holds the EIP-1559 fee pair applied to a UserOperation.
type GasPrice struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// FeeEstimator supplies default fees when no gas-price hook is configured.
type FeeEstimator interface {
	EstimateFees(ctx context.Context) (*GasPrice, error)
}

// FeeEstimatorFunc adapts a function to FeeEstimator.
type FeeEstimatorFunc func(ctx context.Context) (*GasPrice, error)

func (f FeeEstimatorFunc) EstimateFees(ctx context.Context) (*GasPrice, error) { return f(ctx) }

// BundlerFeeEstimator reads the standard tier of pimlico_getUserOperationGasPrice.
type BundlerFeeEstimator struct {
	Bundler *BundlerClient
}

func (e BundlerFeeEstimator) EstimateFees(ctx context.Context) (*GasPrice, error) {
	tiers, err := e.Bundler.GetUserOperationGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	if tiers.Standard.MaxFeePerGas == nil || tiers.Standard.MaxPriorityFeePerGas == nil {
		return nil, &RPCError{
			Method:  "pimlico_getUserOperationGasPrice",
			Code:    DefaultRPCErrorCode,
			Message: "bundler returned an incomplete standard gas price tier",
		}
	}
	return &GasPrice{
		MaxFeePerGas:         tiers.Standard.MaxFeePerGas.ToInt(),
		MaxPriorityFeePerGas: tiers.Standard.MaxPriorityFeePerGas.ToInt(),
	}, nil
}

// ChainFeeReader is the subset of ethclient.Client used for chain fee estimation.
type ChainFeeReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// ChainFeeEstimator derives fees from the latest block: the suggested tip plus 13% and
// twice the base fee on top of it. Pre-London chains use the legacy gas price for both.
type ChainFeeEstimator struct {
	Client ChainFeeReader
}

func (e ChainFeeEstimator) EstimateFees(ctx context.Context) (*GasPrice, error) {
	header, err := e.Client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, wrapRPCError("eth_getBlockByNumber", err)
	}

	if header.BaseFee == nil {
		gasPrice, err := e.Client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, wrapRPCError("eth_gasPrice", err)
		}
		return &GasPrice{MaxFeePerGas: gasPrice, MaxPriorityFeePerGas: new(big.Int).Set(gasPrice)}, nil
	}

	tip, err := e.Client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, wrapRPCError("eth_maxPriorityFeePerGas", err)
	}
	priority := new(big.Int).Mul(tip, big.NewInt(113))
	priority.Div(priority, big.NewInt(100))
	if priority.Sign() == 0 {
		priority.SetInt64(1)
	}

	maxFee := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	maxFee.Add(maxFee, priority)

	return &GasPrice{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: priority}, nil
}

// FallbackFeeEstimator tries each estimator in order, moving on only when the backend does
// not implement the method. Any other failure is returned as is.
type FallbackFeeEstimator []FeeEstimator

func (f FallbackFeeEstimator) EstimateFees(ctx context.Context) (*GasPrice, error) {
	var errs []error
	for _, estimator := range f {
		price, err := estimator.EstimateFees(ctx)
		if err == nil {
			return price, nil
		}
		if !IsMethodNotFound(err) {
			return nil, err
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, &ConfigError{Msg: "no fee estimator configured"}
	}
	return nil, fmt.Errorf("no fee estimator succeeded: %w", errors.Join(errs...))
}

// applyGasPrice fills fee fields that are still unset.
func applyGasPrice(op UserOperation, price *GasPrice) {
	core := op.Core()
	if core.MaxFeePerGas == nil {
		core.MaxFeePerGas = BigFrom(price.MaxFeePerGas)
	}
	if core.MaxPriorityFeePerGas == nil {
		core.MaxPriorityFeePerGas = BigFrom(price.MaxPriorityFeePerGas)
	}
}

func hasFees(op UserOperation) bool {
	core := op.Core()
	return core.MaxFeePerGas != nil && core.MaxPriorityFeePerGas != nil
}
