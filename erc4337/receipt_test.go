package erc4337

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolling = WaitOptions{PollingInterval: 10 * time.Millisecond, Timeout: 5 * time.Second}

type waitResult struct {
	receipt *UserOperationReceipt
	err     error
}

func waitAsync(ctx context.Context, bundler *BundlerClient, hash common.Hash, opts WaitOptions) <-chan waitResult {
	ch := make(chan waitResult, 1)
	go func() {
		receipt, err := bundler.WaitForUserOperationReceipt(ctx, hash, opts)
		ch <- waitResult{receipt, err}
	}()
	return ch
}

func receive(t *testing.T, ch <-chan waitResult) waitResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not return")
		return waitResult{}
	}
}

func receiptKey(bundler *BundlerClient, hash common.Hash) string {
	return observerKey(waitForReceiptKind, bundler.UID(), hash.Hex())
}

func TestWaitForUserOperationReceipt(t *testing.T) {
	m, bundler := newMockBundler(t)
	hash := common.HexToHash("0x1001")

	ch := waitAsync(context.Background(), bundler, hash, fastPolling)
	require.Eventually(t, func() bool { return m.receiptCalls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	m.setReceipt(defaultMockBundler().receipt)

	res := receive(t, ch)
	require.NoError(t, res.err)
	assert.Equal(t, hash, res.receipt.UserOpHash)
	assert.True(t, res.receipt.Success)
	assert.Zero(t, receiptObservers.waitersOf(receiptKey(bundler, hash)))
}

func TestWaitForUserOperationReceipt_SharesOneLoop(t *testing.T) {
	m, bundler := newMockBundler(t)
	hash := common.HexToHash("0x1002")
	key := receiptKey(bundler, hash)

	first := waitAsync(context.Background(), bundler, hash, fastPolling)
	second := waitAsync(context.Background(), bundler, hash, fastPolling)
	require.Eventually(t, func() bool { return receiptObservers.waitersOf(key) == 2 }, 2*time.Second, 5*time.Millisecond)

	m.setReceipt(defaultMockBundler().receipt)

	a, b := receive(t, first), receive(t, second)
	require.NoError(t, a.err)
	require.NoError(t, b.err)
	assert.Same(t, a.receipt, b.receipt)
	assert.Zero(t, receiptObservers.waitersOf(key))

	t.Run("different clients poll separately", func(t *testing.T) {
		_, other := newMockBundler(t)
		assert.NotEqual(t, key, receiptKey(other, hash))
	})
}

func TestWaitForUserOperationReceipt_Timeout(t *testing.T) {
	m, bundler := newMockBundler(t)
	hash := common.HexToHash("0x1003")
	key := receiptKey(bundler, hash)
	opts := WaitOptions{PollingInterval: 10 * time.Millisecond, Timeout: 80 * time.Millisecond}

	start := time.Now()
	first := waitAsync(context.Background(), bundler, hash, opts)
	second := waitAsync(context.Background(), bundler, hash, opts)

	results := []waitResult{receive(t, first), receive(t, second)}
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, opts.Timeout)
	assert.Less(t, elapsed, opts.Timeout+250*time.Millisecond, "timeout fired late")

	for _, res := range results {
		var terr *TimeoutError
		require.ErrorAs(t, res.err, &terr)
		assert.Equal(t, hash, terr.Hash)
		assert.Equal(t, opts.Timeout, terr.Timeout)
	}
	assert.Zero(t, receiptObservers.waitersOf(key))

	// A later wait starts a fresh loop.
	m.setReceipt(defaultMockBundler().receipt)
	receipt, err := bundler.WaitForUserOperationReceipt(context.Background(), hash, opts)
	require.NoError(t, err)
	assert.Equal(t, hash, receipt.UserOpHash)
}

func TestWaitForUserOperationReceipt_RPCErrorReachesEveryWaiter(t *testing.T) {
	m, bundler := newMockBundler(t)
	hash := common.HexToHash("0x1004")
	key := receiptKey(bundler, hash)

	first := waitAsync(context.Background(), bundler, hash, fastPolling)
	second := waitAsync(context.Background(), bundler, hash, fastPolling)
	require.Eventually(t, func() bool { return receiptObservers.waitersOf(key) == 2 }, 2*time.Second, 5*time.Millisecond)

	m.setReceiptErr(&codedError{code: -32000, msg: "bundler unavailable"})

	for _, res := range []waitResult{receive(t, first), receive(t, second)} {
		var rpcErr *RPCError
		require.ErrorAs(t, res.err, &rpcErr)
		assert.Equal(t, -32000, rpcErr.Code)
		assert.Equal(t, "eth_getUserOperationReceipt", rpcErr.Method)
	}
}

func TestWaitForUserOperationReceipt_Cancellation(t *testing.T) {
	t.Run("one waiter leaving keeps the loop alive", func(t *testing.T) {
		m, bundler := newMockBundler(t)
		hash := common.HexToHash("0x1005")
		key := receiptKey(bundler, hash)

		ctx, cancel := context.WithCancel(context.Background())
		leaving := waitAsync(ctx, bundler, hash, fastPolling)
		staying := waitAsync(context.Background(), bundler, hash, fastPolling)
		require.Eventually(t, func() bool { return receiptObservers.waitersOf(key) == 2 }, 2*time.Second, 5*time.Millisecond)

		cancel()
		res := receive(t, leaving)
		assert.ErrorIs(t, res.err, context.Canceled)
		assert.Equal(t, 1, receiptObservers.waitersOf(key))

		m.setReceipt(defaultMockBundler().receipt)
		res = receive(t, staying)
		require.NoError(t, res.err)
		assert.Equal(t, hash, res.receipt.UserOpHash)
	})

	t.Run("last waiter leaving stops polling", func(t *testing.T) {
		m, bundler := newMockBundler(t)
		hash := common.HexToHash("0x1006")
		key := receiptKey(bundler, hash)

		ctx, cancel := context.WithCancel(context.Background())
		ch := waitAsync(ctx, bundler, hash, fastPolling)
		require.Eventually(t, func() bool { return m.receiptCalls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

		cancel()
		res := receive(t, ch)
		assert.ErrorIs(t, res.err, context.Canceled)
		assert.Zero(t, receiptObservers.waitersOf(key))

		// Allow an in-flight request to land, then the count must stay put.
		time.Sleep(30 * time.Millisecond)
		settled := m.receiptCalls.Load()
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, settled, m.receiptCalls.Load())
	})
}

func TestWaitForUserOperationReceipt_InvalidOptions(t *testing.T) {
	_, bundler := newMockBundler(t)

	tests := []struct {
		name string
		opts WaitOptions
	}{
		{name: "zero interval", opts: WaitOptions{Timeout: time.Second}},
		{name: "negative timeout", opts: WaitOptions{PollingInterval: time.Second, Timeout: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bundler.WaitForUserOperationReceipt(context.Background(), common.HexToHash("0x01"), tt.opts)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestObserverRegistry(t *testing.T) {
	r := newObserverRegistry()
	release := make(chan struct{})
	var runs sync.WaitGroup
	runs.Add(1)

	run := func(ctx context.Context) (interface{}, error) {
		defer runs.Done()
		select {
		case <-release:
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a := r.join("k", context.Background(), run)
	b := r.join("k", context.Background(), func(context.Context) (interface{}, error) {
		t.Error("second join must not start a loop")
		return nil, errors.New("unreachable")
	})
	assert.Same(t, a, b)
	assert.Equal(t, 2, r.waitersOf("k"))

	close(release)
	result, err := r.wait(context.Background(), "k", a)
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	runs.Wait()
	assert.Zero(t, r.size())
}
