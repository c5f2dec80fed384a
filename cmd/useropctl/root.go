package main

import (
	"encoding/json"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	envFile  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "useropctl",
		Short: "ERC-4337 user operation CLI",
		Long: `useropctl builds, signs and submits ERC-4337 user operations and follows them
until they are included.

Account and endpoint settings are read from the environment (BUNDLER_URL, RPC_URL,
PRIVATE_KEY, ...), optionally loaded from an env file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile != "" {
				if _, err := os.Stat(opts.envFile); err == nil {
					if err := godotenv.Overload(opts.envFile); err != nil {
						return err
					}
				}
			}

			level, err := zerolog.ParseLevel(opts.logLevel)
			if err != nil {
				level = zerolog.WarnLevel
			}
			logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).
				Level(level).
				With().Timestamp().Logger()
			cmd.SetContext(logger.WithContext(cmd.Context()))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Env file loaded before reading configuration")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level written to stderr")

	cmd.AddCommand(
		newVersionCmd(),
		newEntryPointCmd(),
		newHashCmd(),
		newAddressCmd(),
		newSendCmd(),
		newReceiptCmd(),
	)
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
