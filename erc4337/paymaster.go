package erc4337

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SponsorResult is what a paymaster returns for a sponsored operation. v0.6 paymasters fill
// PaymasterAndData, v0.7 paymasters fill the split paymaster fields.
type SponsorResult struct {
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit,omitempty"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit,omitempty"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas,omitempty"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	PaymasterAndData              hexutil.Bytes   `json:"paymasterAndData,omitempty"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
}

// ProvidesGasLimits reports whether the paymaster estimated gas itself, which requires all of
// callGasLimit, verificationGasLimit and preVerificationGas. A partial set is still applied,
// but the bundler estimates whatever is left unset.
func (r *SponsorResult) ProvidesGasLimits() bool {
	return r.CallGasLimit != nil && r.VerificationGasLimit != nil && r.PreVerificationGas != nil
}

// PaymasterStubData is the result of pm_getPaymasterStubData (ERC-7677).
type PaymasterStubData struct {
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData,omitempty"`
	PaymasterAndData              hexutil.Bytes   `json:"paymasterAndData,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	Sponsor                       *struct {
		Name string `json:"name"`
		Icon string `json:"icon,omitempty"`
	} `json:"sponsor,omitempty"`
	IsFinal bool `json:"isFinal,omitempty"`
}

// PaymasterDataResult is the result of pm_getPaymasterData (ERC-7677).
type PaymasterDataResult struct {
	Paymaster        *common.Address `json:"paymaster,omitempty"`
	PaymasterData    hexutil.Bytes   `json:"paymasterData,omitempty"`
	PaymasterAndData hexutil.Bytes   `json:"paymasterAndData,omitempty"`
}

// TokenQuote prices gas in an ERC-20 token for an ERC-20 paymaster.
type TokenQuote struct {
	Paymaster               common.Address
	Token                   common.Address
	PostOpGas               *big.Int
	ExchangeRate            decimal.Decimal
	ExchangeRateNativeToUsd decimal.Decimal
}

var weiPerEther = decimal.New(1, 18)

// CostInToken converts a native cost in wei into token base units, rounded up.
func (q TokenQuote) CostInToken(costWei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(costWei, 0).Mul(q.ExchangeRate).Div(weiPerEther).Ceil()
}

// PaymasterClient talks to a paymaster service over JSON-RPC.
type PaymasterClient struct {
	client *rpc.Client
}

func DialPaymaster(ctx context.Context, rawurl string) (*PaymasterClient, error) {
	c, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, &ConfigError{Msg: "failed to dial paymaster", Err: err}
	}
	return NewPaymasterClient(c), nil
}

func NewPaymasterClient(c *rpc.Client) *PaymasterClient {
	return &PaymasterClient{client: c}
}

func (p *PaymasterClient) Close() { p.client.Close() }

func (p *PaymasterClient) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	zerolog.Ctx(ctx).Debug().Str("method", method).Msg("paymaster request")
	return wrapRPCError(method, p.client.CallContext(ctx, result, method, args...))
}

// SponsorUserOperation calls pm_sponsorUserOperation. An empty policy id sends no policy argument.
func (p *PaymasterClient) SponsorUserOperation(ctx context.Context, op UserOperation, entryPoint EntryPoint, policyID string) (*SponsorResult, error) {
	args := []interface{}{estimationDraft(op), entryPoint.Address}
	if policyID != "" {
		args = append(args, map[string]string{"sponsorshipPolicyId": policyID})
	}
	var result SponsorResult
	if err := p.call(ctx, &result, "pm_sponsorUserOperation", args...); err != nil {
		return nil, err
	}
	return &result, nil
}

func (p *PaymasterClient) GetPaymasterStubData(ctx context.Context, op UserOperation, entryPoint EntryPoint, chainID *big.Int, pmContext map[string]interface{}) (*PaymasterStubData, error) {
	var result PaymasterStubData
	if err := p.call(ctx, &result, "pm_getPaymasterStubData", estimationDraft(op), entryPoint.Address, (*hexutil.Big)(chainID), contextOrEmpty(pmContext)); err != nil {
		return nil, err
	}
	return &result, nil
}

func (p *PaymasterClient) GetPaymasterData(ctx context.Context, op UserOperation, entryPoint EntryPoint, chainID *big.Int, pmContext map[string]interface{}) (*PaymasterDataResult, error) {
	var result PaymasterDataResult
	if err := p.call(ctx, &result, "pm_getPaymasterData", op, entryPoint.Address, (*hexutil.Big)(chainID), contextOrEmpty(pmContext)); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTokenQuotes calls pimlico_getTokenQuotes for the given ERC-20 tokens.
func (p *PaymasterClient) GetTokenQuotes(ctx context.Context, tokens []common.Address, entryPoint EntryPoint, chainID *big.Int) ([]TokenQuote, error) {
	var result struct {
		Quotes []struct {
			Paymaster               common.Address `json:"paymaster"`
			Token                   common.Address `json:"token"`
			PostOpGas               *hexutil.Big   `json:"postOpGas"`
			ExchangeRate            *hexutil.Big   `json:"exchangeRate"`
			ExchangeRateNativeToUsd *hexutil.Big   `json:"exchangeRateNativeToUsd"`
		} `json:"quotes"`
	}
	params := map[string]interface{}{"tokens": tokens}
	if err := p.call(ctx, &result, "pimlico_getTokenQuotes", params, entryPoint.Address, (*hexutil.Big)(chainID)); err != nil {
		return nil, err
	}

	quotes := make([]TokenQuote, 0, len(result.Quotes))
	for _, q := range result.Quotes {
		if q.ExchangeRate == nil {
			return nil, fmt.Errorf("token quote for %s has no exchange rate", q.Token.Hex())
		}
		quote := TokenQuote{
			Paymaster:    q.Paymaster,
			Token:        q.Token,
			PostOpGas:    bigOrZero(q.PostOpGas),
			ExchangeRate: decimal.NewFromBigInt(q.ExchangeRate.ToInt(), 0),
		}
		if q.ExchangeRateNativeToUsd != nil {
			quote.ExchangeRateNativeToUsd = decimal.NewFromBigInt(q.ExchangeRateNativeToUsd.ToInt(), 0)
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

func contextOrEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
