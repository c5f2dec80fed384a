package erc4337

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const (
	DefaultPollingInterval = time.Second
	DefaultReceiptTimeout  = 2 * time.Minute
)

// WaitOptions controls receipt polling. A zero Timeout disables the deadline.
type WaitOptions struct {
	PollingInterval time.Duration `validate:"gt=0"`
	Timeout         time.Duration `validate:"gte=0"`
}

func DefaultWaitOptions() WaitOptions {
	return WaitOptions{PollingInterval: DefaultPollingInterval, Timeout: DefaultReceiptTimeout}
}

const waitForReceiptKind = "waitForUserOperationReceipt"

// ActiveReceiptPolls reports how many receipt polling loops are running in the process.
func ActiveReceiptPolls() int {
	return receiptObservers.size()
}

// WaitForUserOperationReceipt polls eth_getUserOperationReceipt until the operation is
// included. Concurrent waits for the same hash on the same client share one polling loop,
// whose options are those of the first caller. A bundler error ends the wait for every
// waiter, as does the timeout, which yields *TimeoutError.
func (b *BundlerClient) WaitForUserOperationReceipt(ctx context.Context, hash common.Hash, opts WaitOptions) (*UserOperationReceipt, error) {
	if err := validateStruct(opts); err != nil {
		return nil, err
	}

	key := observerKey(waitForReceiptKind, b.uid, hash.Hex())
	// The loop outlives any single waiter, so it only inherits the logger.
	loopCtx := zerolog.Ctx(ctx).WithContext(context.Background())

	obs := receiptObservers.join(key, loopCtx, func(ctx context.Context) (interface{}, error) {
		return b.pollReceipt(ctx, hash, opts)
	})

	result, err := receiptObservers.wait(ctx, key, obs)
	if err != nil {
		return nil, err
	}
	return result.(*UserOperationReceipt), nil
}

func (b *BundlerClient) pollReceipt(ctx context.Context, hash common.Hash, opts WaitOptions) (*UserOperationReceipt, error) {
	logger := zerolog.Ctx(ctx).With().Str("user_op_hash", hash.Hex()).Logger()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(opts.PollingInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		receipt, err := b.GetUserOperationReceipt(ctx, hash)
		if err != nil {
			return nil, b.pollError(ctx, hash, opts, err)
		}
		if receipt != nil {
			logger.Debug().Int("attempt", attempt).Bool("success", receipt.Success).Msg("user operation receipt found")
			return receipt, nil
		}
		logger.Trace().Int("attempt", attempt).Msg("user operation receipt not yet available")

		select {
		case <-ctx.Done():
			return nil, b.pollError(ctx, hash, opts, ctx.Err())
		case <-ticker.C:
		}
	}
}

// pollError maps the loop's own deadline to *TimeoutError.
func (b *BundlerClient) pollError(ctx context.Context, hash common.Hash, opts WaitOptions, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Hash: hash, Timeout: opts.Timeout}
	}
	return err
}
