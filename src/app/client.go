package app

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethaccount/useropkit/accounts"
	"github.com/ethaccount/useropkit/erc4337"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// ClientStack holds the connections and the account every operation goes through.
type ClientStack struct {
	Bundler     *erc4337.BundlerClient
	Chain       *ethclient.Client
	Paymaster   *erc4337.PaymasterClient
	EntryPoint  erc4337.EntryPoint
	ChainID     *big.Int
	Account     erc4337.SmartAccount
	Fees        erc4337.FeeEstimator
	Sponsorship *erc4337.SponsorshipMiddleware
}

func NewClientStack(ctx context.Context, config ClientConfig) (*ClientStack, error) {
	logger := zerolog.Ctx(ctx).With().Str("function", "NewClientStack").Logger()

	entryPoint, err := resolveEntryPoint(config)
	if err != nil {
		return nil, err
	}

	bundler, err := erc4337.DialBundler(ctx, config.BundlerURL)
	if err != nil {
		return nil, err
	}
	stack := &ClientStack{Bundler: bundler, EntryPoint: entryPoint}

	if _, err := erc4337.ResolveEntryPoint(entryPoint.Address); err != nil {
		resolver := erc4337.NewEntryPointResolver()
		if err := resolver.Register(entryPoint); err != nil {
			stack.Close()
			return nil, err
		}
		bundler.WithResolver(resolver)
	}

	chain, err := ethclient.DialContext(ctx, config.RPCURL)
	if err != nil {
		stack.Close()
		return nil, &erc4337.ConfigError{Msg: "failed to dial node", Err: err}
	}
	stack.Chain = chain

	chainID, err := bundler.ChainID(ctx)
	if err != nil {
		stack.Close()
		return nil, err
	}
	stack.ChainID = chainID

	account, err := newAccount(config, chain, entryPoint)
	if err != nil {
		stack.Close()
		return nil, err
	}
	stack.Account = account

	stack.Fees = erc4337.FallbackFeeEstimator{
		erc4337.BundlerFeeEstimator{Bundler: bundler},
		erc4337.ChainFeeEstimator{Client: chain},
	}

	if config.PaymasterURL != "" {
		paymaster, err := erc4337.DialPaymaster(ctx, config.PaymasterURL)
		if err != nil {
			stack.Close()
			return nil, err
		}
		stack.Paymaster = paymaster
		if config.PaymasterPolicyID != "" {
			stack.Sponsorship = erc4337.SponsorWithPaymaster(paymaster, config.PaymasterPolicyID)
		} else {
			stack.Sponsorship = erc4337.SponsorWithStubData(paymaster, bundler, chainID, nil)
		}
		logger.Info().Bool("policy", config.PaymasterPolicyID != "").Msg("paymaster sponsorship enabled")
	}

	logger.Info().
		Str("entry_point", entryPoint.String()).
		Str("chain_id", chainID.String()).
		Str("account_type", config.AccountType).
		Msg("client stack ready")
	return stack, nil
}

func (s *ClientStack) Close() {
	if s.Bundler != nil {
		s.Bundler.Close()
	}
	if s.Chain != nil {
		s.Chain.Close()
	}
	if s.Paymaster != nil {
		s.Paymaster.Close()
	}
}

func resolveEntryPoint(config ClientConfig) (erc4337.EntryPoint, error) {
	if config.EntryPoint != "" {
		return erc4337.NewEntryPoint(common.HexToAddress(config.EntryPoint), config.EntryPointVersion)
	}
	version, err := erc4337.ParseEntryPointVersion(config.EntryPointVersion)
	if err != nil {
		return erc4337.EntryPoint{}, err
	}
	if version == erc4337.EntryPointVersion06 {
		return erc4337.EntryPointV06, nil
	}
	return erc4337.EntryPointV07, nil
}

func optionalAddress(s string) *common.Address {
	if s == "" {
		return nil
	}
	address := common.HexToAddress(s)
	return &address
}

func newAccount(config ClientConfig, chain accounts.ChainReader, entryPoint erc4337.EntryPoint) (erc4337.SmartAccount, error) {
	owner, err := accounts.ECDSASignerFromHex(config.PrivateKey)
	if err != nil {
		return nil, &erc4337.ConfigError{Msg: "invalid PRIVATE_KEY", Err: err}
	}

	switch config.AccountType {
	case AccountTypeModular:
		var factoryData []byte
		if config.AccountFactoryData != "" {
			factoryData, err = hexutil.Decode("0x" + config.AccountFactoryData)
			if err != nil {
				return nil, &erc4337.ConfigError{Msg: "invalid ACCOUNT_FACTORY_DATA", Err: err}
			}
		}
		return accounts.NewModularAccount(accounts.ModularAccountConfig{
			Client:      chain,
			EntryPoint:  entryPoint,
			Signer:      owner,
			Validator:   common.HexToAddress(config.ValidatorAddress),
			Factory:     optionalAddress(config.AccountFactory),
			FactoryData: factoryData,
			Address:     optionalAddress(config.AccountAddress),
		})
	case AccountTypeSimple, "":
		var salt *big.Int
		if config.AccountSalt != "" {
			var ok bool
			salt, ok = new(big.Int).SetString(config.AccountSalt, 10)
			if !ok {
				return nil, &erc4337.ConfigError{Msg: fmt.Sprintf("invalid ACCOUNT_SALT %q", config.AccountSalt)}
			}
		}
		return accounts.NewSimpleAccount(accounts.SimpleAccountConfig{
			Client:     chain,
			EntryPoint: entryPoint,
			Owner:      owner,
			Factory:    optionalAddress(config.AccountFactory),
			Salt:       salt,
			Address:    optionalAddress(config.AccountAddress),
		})
	default:
		return nil, &erc4337.ConfigError{Msg: fmt.Sprintf("unsupported account type %q", config.AccountType)}
	}
}
