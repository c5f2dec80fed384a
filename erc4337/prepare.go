package erc4337

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type PreparerConfig struct {
	Bundler *BundlerClient
	Account SmartAccount
	// Fees defaults to the bundler's pimlico_getUserOperationGasPrice.
	Fees        FeeEstimator
	Sponsorship *SponsorshipMiddleware
}

// Preparer fills a partial UserOperation until it is ready to sign.
type Preparer struct {
	bundler    *BundlerClient
	account    SmartAccount
	entryPoint EntryPoint
	fees       FeeEstimator
	transform  TransformFunc
	hooks      SponsorshipHooks
}

func NewPreparer(cfg PreparerConfig) (*Preparer, error) {
	if cfg.Bundler == nil {
		return nil, &ConfigError{Msg: "bundler client is required"}
	}
	if cfg.Account == nil {
		return nil, &ConfigError{Msg: "smart account is required"}
	}

	p := &Preparer{
		bundler:    cfg.Bundler,
		account:    cfg.Account,
		entryPoint: cfg.Account.EntryPoint(),
		fees:       cfg.Fees,
	}
	if p.fees == nil {
		p.fees = BundlerFeeEstimator{Bundler: cfg.Bundler}
	}
	if fn, ok := cfg.Sponsorship.Transform(); ok {
		p.transform = fn
	} else if hooks, ok := cfg.Sponsorship.Hooks(); ok {
		p.hooks = *hooks
	}
	return p, nil
}

func (p *Preparer) EntryPoint() EntryPoint { return p.entryPoint }

// PrepareRequest carries the calls to execute and any fields the caller already decided.
// Fields set on Operation are never re-fetched.
type PrepareRequest struct {
	Calls         []Call
	Operation     UserOperation
	StateOverride StateOverride
}

func (p *Preparer) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "preparer").Logger()
	return &l
}

// Prepare runs the pipeline: sender, nonce, init data and call data are resolved in
// parallel, the dummy signature is attached, then either the transform middleware takes
// over or fees, sponsorship and gas estimation run in that order.
func (p *Preparer) Prepare(ctx context.Context, req PrepareRequest) (UserOperation, error) {
	op, err := p.initial(req)
	if err != nil {
		return nil, err
	}

	if err := p.resolveFields(ctx, op, req.Calls); err != nil {
		return nil, err
	}

	core := op.Core()
	if len(core.Signature) == 0 {
		dummy, err := p.account.DummySignature(ctx)
		if err != nil {
			return nil, err
		}
		core.Signature = dummy
	}

	if p.transform != nil {
		p.logger(ctx).Debug().Msg("handing preparation to transform middleware")
		transformed, err := p.transform(ctx, op, p.entryPoint)
		if err != nil {
			return nil, err
		}
		if err := ValidateComplete(transformed); err != nil {
			return nil, err
		}
		return transformed, nil
	}

	if err := p.resolveFees(ctx, op); err != nil {
		return nil, err
	}

	sponsored := false
	if p.hooks.SponsorUserOperation != nil {
		res, err := p.hooks.SponsorUserOperation(ctx, op.Clone(), p.entryPoint)
		if err != nil {
			return nil, err
		}
		if err := ApplySponsorResult(op, res); err != nil {
			return nil, err
		}
		sponsored = res.ProvidesGasLimits()
	}

	if !sponsored && needsGasEstimate(op) {
		estimate, err := p.bundler.EstimateUserOperationGas(ctx, op, p.entryPoint, req.StateOverride)
		if err != nil {
			return nil, err
		}
		ApplyGasEstimate(op, estimate)
	}

	if err := ValidateComplete(op); err != nil {
		return nil, err
	}

	p.logger(ctx).Debug().
		Str("sender", core.Sender.Hex()).
		Bool("sponsored", sponsored).
		Msg("user operation prepared")
	return op, nil
}

func (p *Preparer) initial(req PrepareRequest) (UserOperation, error) {
	if req.Operation == nil {
		if len(req.Calls) == 0 {
			return nil, &ValidationError{Field: "calls", Msg: "at least one call or a callData is required"}
		}
		return NewUserOperation(p.entryPoint.Version)
	}
	if req.Operation.Version() != p.entryPoint.Version {
		return nil, &ValidationError{Field: "operation", Msg: "version does not match the account entry point"}
	}
	if len(req.Calls) == 0 && len(req.Operation.Core().CallData) == 0 {
		return nil, &ValidationError{Field: "calls", Msg: "at least one call or a callData is required"}
	}
	return req.Operation.Clone(), nil
}

func (p *Preparer) resolveFields(ctx context.Context, op UserOperation, calls []Call) error {
	core := op.Core()

	var (
		sender      common.Address
		nonce       *big.Int
		factory     *common.Address
		factoryData []byte
		callData    []byte
	)
	needSender := core.Sender == (common.Address{})
	needNonce := core.Nonce == nil
	needInit := !hasInitData(op)
	needCallData := len(core.CallData) == 0

	g, gctx := errgroup.WithContext(ctx)
	if needSender {
		g.Go(func() (err error) {
			sender, err = p.account.Address(gctx)
			return err
		})
	}
	if needNonce {
		g.Go(func() (err error) {
			nonce, err = p.account.Nonce(gctx)
			return err
		})
	}
	if needInit {
		g.Go(func() (err error) {
			factory, factoryData, err = p.account.FactoryArgs(gctx)
			return err
		})
	}
	if needCallData {
		g.Go(func() (err error) {
			callData, err = p.account.EncodeCalls(gctx, calls)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if needSender {
		core.Sender = sender
	}
	if needNonce {
		core.Nonce = BigFrom(nonce)
	}
	if needCallData {
		core.CallData = callData
	}
	if needInit && factory != nil {
		switch uo := op.(type) {
		case *UserOperationV06:
			uo.InitCode = GetInitCode(factory, factoryData)
		case *UserOperationV07:
			uo.Factory = factory
			uo.FactoryData = hexutil.Bytes(factoryData)
		}
	}
	return nil
}

func hasInitData(op UserOperation) bool {
	switch uo := op.(type) {
	case *UserOperationV06:
		return uo.InitCode != nil
	case *UserOperationV07:
		return uo.Factory != nil
	}
	return false
}

func (p *Preparer) resolveFees(ctx context.Context, op UserOperation) error {
	if hasFees(op) {
		return nil
	}
	source := p.fees.EstimateFees
	if p.hooks.GasPrice != nil {
		source = p.hooks.GasPrice
	}
	price, err := source(ctx)
	if err != nil {
		return err
	}
	applyGasPrice(op, price)
	return nil
}
