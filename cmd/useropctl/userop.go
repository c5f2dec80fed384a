package main

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"time"

	"github.com/ethaccount/useropkit/erc4337"
	"github.com/ethaccount/useropkit/src/app"
	"github.com/ethaccount/useropkit/src/service"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newEntryPointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entrypoint <address>",
		Short: "Resolve the version of an EntryPoint deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) {
				return fmt.Errorf("invalid address %q", args[0])
			}
			ep, err := erc4337.ResolveEntryPoint(common.HexToAddress(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd, ep)
		},
	}
}

func newHashCmd() *cobra.Command {
	var (
		entryPoint        string
		entryPointVersion string
		chainID           int64
	)

	cmd := &cobra.Command{
		Use:   "hash [file]",
		Short: "Compute the userOpHash of a JSON user operation",
		Long: `Compute the userOpHash of a user operation in the bundler RPC JSON format.
The operation is read from file, or from stdin when file is "-" or omitted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ep erc4337.EntryPoint
			var err error
			if entryPointVersion != "" {
				ep, err = erc4337.NewEntryPoint(common.HexToAddress(entryPoint), entryPointVersion)
			} else {
				ep, err = erc4337.ResolveEntryPoint(common.HexToAddress(entryPoint))
			}
			if err != nil {
				return err
			}

			var input io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				input = f
			}
			raw, err := io.ReadAll(input)
			if err != nil {
				return err
			}

			op, err := erc4337.DecodeUserOperation(ep.Version, raw)
			if err != nil {
				return err
			}
			hash, err := erc4337.GetUserOperationHash(op, ep, big.NewInt(chainID))
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"userOpHash": hash,
				"entryPoint": ep,
				"chainId":    chainID,
			})
		},
	}

	cmd.Flags().StringVar(&entryPoint, "entry-point", erc4337.EntryPointV07Address.Hex(), "EntryPoint address")
	cmd.Flags().StringVar(&entryPointVersion, "entry-point-version", "", "Version of a custom EntryPoint deployment (0.6 or 0.7)")
	cmd.Flags().Int64Var(&chainID, "chain-id", 0, "Chain id")
	_ = cmd.MarkFlagRequired("chain-id")
	return cmd
}

func newAddressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the configured smart account address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := app.LoadClientConfig(os.Getenv)
			if err != nil {
				return err
			}
			stack, err := app.NewClientStack(cmd.Context(), config)
			if err != nil {
				return err
			}
			defer stack.Close()

			address, err := stack.Account.Address(cmd.Context())
			if err != nil {
				return err
			}
			factory, _, err := stack.Account.FactoryArgs(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"address":    address,
				"deployed":   factory == nil,
				"entryPoint": stack.EntryPoint,
				"chainId":    stack.ChainID.String(),
			})
		},
	}
}

func newSendCmd() *cobra.Command {
	var (
		to      string
		value   string
		data    string
		wait    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Prepare, sign and submit a call from the configured account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(to) {
				return fmt.Errorf("invalid --to address %q", to)
			}
			amount, err := decimal.NewFromString(value)
			if err != nil || !amount.IsInteger() || amount.IsNegative() {
				return fmt.Errorf("--value must be a non-negative integer amount of wei, got %q", value)
			}
			var callData []byte
			if data != "" {
				if callData, err = hexutil.Decode(data); err != nil {
					return fmt.Errorf("invalid --data: %w", err)
				}
			}

			config, err := app.LoadClientConfig(os.Getenv)
			if err != nil {
				return err
			}
			stack, err := app.NewClientStack(cmd.Context(), config)
			if err != nil {
				return err
			}
			defer stack.Close()

			operations, err := service.NewOperationService(cmd.Context(), service.OperationServiceConfig{
				Bundler:     stack.Bundler,
				Account:     stack.Account,
				Fees:        stack.Fees,
				Sponsorship: stack.Sponsorship,
				WaitOptions: erc4337.WaitOptions{PollingInterval: config.PollingInterval, Timeout: config.ReceiptTimeout},
			})
			if err != nil {
				return err
			}

			params := service.SendParams{
				PrepareParams: service.PrepareParams{
					Calls: []erc4337.Call{{To: common.HexToAddress(to), Value: amount.BigInt(), Data: callData}},
				},
				Wait: wait,
			}
			if timeout > 0 {
				params.WaitOptions = &erc4337.WaitOptions{PollingInterval: config.PollingInterval, Timeout: timeout}
			}

			result, err := operations.Send(cmd.Context(), params)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"userOpHash":    result.UserOpHash,
				"userOperation": result.UserOperation,
				"receipt":       result.Receipt,
			})
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Call target")
	cmd.Flags().StringVar(&value, "value", "0", "Value in wei")
	cmd.Flags().StringVar(&data, "data", "", "Hex call data")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the receipt")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Receipt wait timeout, defaults to RECEIPT_TIMEOUT_MS")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newReceiptCmd() *cobra.Command {
	var (
		bundlerURL string
		wait       bool
		interval   time.Duration
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "receipt <userOpHash>",
		Short: "Fetch the receipt of a user operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hexutil.Decode(args[0])
			if err != nil || len(raw) != common.HashLength {
				return fmt.Errorf("invalid user operation hash %q", args[0])
			}
			hash := common.BytesToHash(raw)

			if bundlerURL == "" {
				bundlerURL = os.Getenv("BUNDLER_URL")
			}
			if bundlerURL == "" {
				return errors.New("--bundler-url or BUNDLER_URL is required")
			}
			bundler, err := erc4337.DialBundler(cmd.Context(), bundlerURL)
			if err != nil {
				return err
			}
			defer bundler.Close()

			var receipt *erc4337.UserOperationReceipt
			if wait {
				receipt, err = bundler.WaitForUserOperationReceipt(cmd.Context(), hash, erc4337.WaitOptions{
					PollingInterval: interval,
					Timeout:         timeout,
				})
			} else {
				receipt, err = bundler.GetUserOperationReceipt(cmd.Context(), hash)
			}
			if err != nil {
				return err
			}
			if receipt == nil {
				return fmt.Errorf("receipt for %s is not available yet", hash.Hex())
			}
			return printJSON(cmd, receipt)
		},
	}

	defaults := erc4337.DefaultWaitOptions()
	cmd.Flags().StringVar(&bundlerURL, "bundler-url", "", "Bundler endpoint, defaults to BUNDLER_URL")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the receipt is available")
	cmd.Flags().DurationVar(&interval, "interval", defaults.PollingInterval, "Polling interval")
	cmd.Flags().DurationVar(&timeout, "timeout", defaults.Timeout, "Wait timeout, 0 waits forever")
	return cmd
}
