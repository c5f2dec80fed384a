package app

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	AccountTypeSimple  = "simple"
	AccountTypeModular = "modular"
)

// ClientConfig is what is needed to build, sign and submit operations for one account.
// The HTTP service and the CLI share it.
type ClientConfig struct {
	BundlerURL string `validate:"required,url"`
	RPCURL     string `validate:"required,url"`
	// PrivateKey is the account owner key, hex without 0x.
	PrivateKey string `validate:"required,len=64,hexadecimal"`

	PaymasterURL      string `validate:"omitempty,url"`
	PaymasterPolicyID string

	// EntryPoint defaults to the canonical deployment of EntryPointVersion.
	EntryPoint        string `validate:"omitempty,eth_addr"`
	EntryPointVersion string `validate:"oneof=0.6 0.7"`

	AccountType        string `validate:"oneof=simple modular"`
	AccountAddress     string `validate:"omitempty,eth_addr"`
	AccountFactory     string `validate:"omitempty,eth_addr"`
	AccountFactoryData string `validate:"omitempty,hexadecimal"`
	AccountSalt        string `validate:"omitempty,number"`
	ValidatorAddress   string `validate:"required_if=AccountType modular,omitempty,eth_addr"`

	PollingInterval time.Duration `validate:"gt=0"`
	ReceiptTimeout  time.Duration `validate:"gte=0"`
}

type AppConfig struct {
	Client ClientConfig

	// =========================== OPTIONAL ===========================

	// Logging configuration
	LogLevel *string

	// HTTP server configuration
	Port        *string
	Host        *string
	Environment *string

	// CORS configuration
	AllowOrigins *[]string

	// API secret guarding the submit endpoints, empty to disable
	APISecret *string

	// Redis status cache, empty to disable
	RedisURL *string

	// Database journal, empty to disable
	DSN           *string
	MigrationPath *string

	// Reconcile worker configuration
	ReconcileInterval *int
	PendingMaxAge     *time.Duration
}

var configValidator = validator.New()

func NewAppConfig() *AppConfig {
	config, err := LoadAppConfig(os.Getenv)
	if err != nil {
		log.Fatalf("%v", err)
	}
	return config
}

// LoadAppConfig reads the configuration through getenv.
func LoadAppConfig(getenv func(string) string) (*AppConfig, error) {
	client, err := LoadClientConfig(getenv)
	if err != nil {
		return nil, err
	}
	config := &AppConfig{Client: client}

	if err := loadOptionalConfig(config, getenv); err != nil {
		return nil, err
	}
	if err := loadCORSConfig(config, getenv); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadClientConfig reads and validates the account and endpoint configuration.
func LoadClientConfig(getenv func(string) string) (ClientConfig, error) {
	config := ClientConfig{
		BundlerURL:         getenv("BUNDLER_URL"),
		RPCURL:             getenv("RPC_URL"),
		PrivateKey:         strings.TrimPrefix(getenv("PRIVATE_KEY"), "0x"),
		PaymasterURL:       getenv("PAYMASTER_URL"),
		PaymasterPolicyID:  getenv("PAYMASTER_POLICY_ID"),
		EntryPoint:         getenv("ENTRY_POINT"),
		EntryPointVersion:  getEnvWithDefault(getenv, "ENTRY_POINT_VERSION", "0.7"),
		AccountType:        getEnvWithDefault(getenv, "ACCOUNT_TYPE", AccountTypeSimple),
		AccountAddress:     getenv("ACCOUNT_ADDRESS"),
		AccountFactory:     getenv("ACCOUNT_FACTORY"),
		AccountFactoryData: strings.TrimPrefix(getenv("ACCOUNT_FACTORY_DATA"), "0x"),
		AccountSalt:        getenv("ACCOUNT_SALT"),
		ValidatorAddress:   getenv("VALIDATOR_ADDRESS"),
	}

	for _, key := range []string{"BUNDLER_URL", "RPC_URL", "PRIVATE_KEY"} {
		if getenv(key) == "" {
			return ClientConfig{}, fmt.Errorf("REQUIRED: %s not set in environment", key)
		}
	}

	pollingMs, err := getIntWithDefault(getenv, "POLLING_INTERVAL_MS", 1000)
	if err != nil {
		return ClientConfig{}, err
	}
	config.PollingInterval = time.Duration(pollingMs) * time.Millisecond

	timeoutMs, err := getIntWithDefault(getenv, "RECEIPT_TIMEOUT_MS", 120_000)
	if err != nil {
		return ClientConfig{}, err
	}
	config.ReceiptTimeout = time.Duration(timeoutMs) * time.Millisecond

	if err := config.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return config, nil
}

// Validate reports the first invalid field.
func (c ClientConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return fmt.Errorf("invalid configuration: %s failed on %q", errs[0].Field(), errs[0].Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// loadOptionalConfig loads all optional configuration values with sensible defaults
func loadOptionalConfig(config *AppConfig, getenv func(string) string) error {
	// Log level (default: debug)
	// Available levels: "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"
	logLevel := getEnvWithDefault(getenv, "LOG_LEVEL", "debug")
	config.LogLevel = &logLevel

	port := getEnvWithDefault(getenv, "PORT", "8080")
	config.Port = &port

	host := getEnvWithDefault(getenv, "HOST", "localhost:"+port)
	config.Host = &host

	environment := getEnvWithDefault(getenv, "ENVIRONMENT", "dev")
	config.Environment = &environment

	apiSecret := getenv("API_SECRET")
	config.APISecret = &apiSecret

	redisURL := getenv("REDIS_URL")
	config.RedisURL = &redisURL

	dsn := getenv("DB_URL")
	config.DSN = &dsn

	migrationPath := getEnvWithDefault(getenv, "MIGRATION_PATH", "file://migrations")
	config.MigrationPath = &migrationPath

	// Reconcile interval in seconds (default: 60)
	reconcileInterval, err := getIntWithDefault(getenv, "RECONCILE_INTERVAL", 60)
	if err != nil {
		return err
	}
	config.ReconcileInterval = &reconcileInterval

	pendingMaxAge, err := time.ParseDuration(getEnvWithDefault(getenv, "PENDING_MAX_AGE", "30m"))
	if err != nil {
		return fmt.Errorf("invalid PENDING_MAX_AGE: %w", err)
	}
	config.PendingMaxAge = &pendingMaxAge
	return nil
}

// loadCORSConfig handles CORS origins configuration with environment-specific behavior
func loadCORSConfig(config *AppConfig, getenv func(string) string) error {
	var allowOrigins []string
	for _, origin := range strings.Split(getenv("ALLOW_ORIGINS"), ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			allowOrigins = append(allowOrigins, origin)
		}
	}

	if len(allowOrigins) == 0 {
		if !config.IsDev() {
			return fmt.Errorf("REQUIRED: ALLOW_ORIGINS not set in environment (required in production)")
		}
		// Default to localhost in development
		allowOrigins = []string{"http://localhost:5173"}
	}

	config.AllowOrigins = &allowOrigins
	return nil
}

func (c *AppConfig) IsDev() bool {
	return c.Environment != nil && (*c.Environment == "dev" || *c.Environment == "development")
}

// getEnvWithDefault returns environment variable value or default if not set
func getEnvWithDefault(getenv func(string) string, key, defaultValue string) string {
	if value := getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntWithDefault(getenv func(string) string, key string, defaultValue int) (int, error) {
	raw := getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return parsed, nil
}
