package erc4337

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// UserOperation is implemented by *UserOperationV06 and *UserOperationV07.
type UserOperation interface {
	Version() EntryPointVersion
	Core() *UserOperationCore
	Clone() UserOperation
}

// UserOperationCore holds the fields shared by every EntryPoint version.
type UserOperationCore struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce,omitempty"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit,omitempty"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit,omitempty"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas,omitempty"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas,omitempty"`
	Signature            hexutil.Bytes  `json:"signature"`
}

func (c *UserOperationCore) Core() *UserOperationCore { return c }

func (c UserOperationCore) clone() UserOperationCore {
	return UserOperationCore{
		Sender:               c.Sender,
		Nonce:                cloneBig(c.Nonce),
		CallData:             cloneBytes(c.CallData),
		CallGasLimit:         cloneBig(c.CallGasLimit),
		VerificationGasLimit: cloneBig(c.VerificationGasLimit),
		PreVerificationGas:   cloneBig(c.PreVerificationGas),
		MaxFeePerGas:         cloneBig(c.MaxFeePerGas),
		MaxPriorityFeePerGas: cloneBig(c.MaxPriorityFeePerGas),
		Signature:            cloneBytes(c.Signature),
	}
}

// UserOperationV06 is the unpacked v0.6 wire format. InitCode and PaymasterAndData are opaque.
type UserOperationV06 struct {
	UserOperationCore
	InitCode         hexutil.Bytes `json:"initCode"`
	PaymasterAndData hexutil.Bytes `json:"paymasterAndData"`
}

func (uo *UserOperationV06) Version() EntryPointVersion { return EntryPointVersion06 }

func (uo *UserOperationV06) Clone() UserOperation {
	return &UserOperationV06{
		UserOperationCore: uo.UserOperationCore.clone(),
		InitCode:          cloneBytes(uo.InitCode),
		PaymasterAndData:  cloneBytes(uo.PaymasterAndData),
	}
}

// UnmarshalJSON accepts hex quantities with leading zeros, as some bundlers and wallets emit them.
func (uo *UserOperationV06) UnmarshalJSON(data []byte) error {
	type Alias UserOperationV06
	aux := struct {
		quantityFields
		*Alias
	}{
		Alias: (*Alias)(uo),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return aux.quantityFields.apply(&uo.UserOperationCore)
}

// UserOperationV07 is the unpacked v0.7 RPC format. A nil Factory or Paymaster means absent,
// which is distinct from the zero address.
type UserOperationV07 struct {
	UserOperationCore
	Factory                       *common.Address `json:"factory,omitempty"`
	FactoryData                   hexutil.Bytes   `json:"factoryData,omitempty"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData,omitempty"`
}

func (uo *UserOperationV07) Version() EntryPointVersion { return EntryPointVersion07 }

func (uo *UserOperationV07) Clone() UserOperation {
	return &UserOperationV07{
		UserOperationCore:             uo.UserOperationCore.clone(),
		Factory:                       cloneAddress(uo.Factory),
		FactoryData:                   cloneBytes(uo.FactoryData),
		Paymaster:                     cloneAddress(uo.Paymaster),
		PaymasterVerificationGasLimit: cloneBig(uo.PaymasterVerificationGasLimit),
		PaymasterPostOpGasLimit:       cloneBig(uo.PaymasterPostOpGasLimit),
		PaymasterData:                 cloneBytes(uo.PaymasterData),
	}
}

// MarshalJSON always emits factoryData and paymasterData next to a present factory or
// paymaster, and drops them when the address is absent.
func (uo UserOperationV07) MarshalJSON() ([]byte, error) {
	type Alias UserOperationV07
	aux := struct {
		FactoryData   *hexutil.Bytes `json:"factoryData,omitempty"`
		PaymasterData *hexutil.Bytes `json:"paymasterData,omitempty"`
		Alias
	}{
		Alias: Alias(uo),
	}
	if uo.Factory != nil {
		factoryData := uo.FactoryData
		if factoryData == nil {
			factoryData = hexutil.Bytes{}
		}
		aux.FactoryData = &factoryData
	}
	if uo.Paymaster != nil {
		paymasterData := uo.PaymasterData
		if paymasterData == nil {
			paymasterData = hexutil.Bytes{}
		}
		aux.PaymasterData = &paymasterData
	}
	return json.Marshal(aux)
}

func (uo *UserOperationV07) UnmarshalJSON(data []byte) error {
	type Alias UserOperationV07
	aux := struct {
		quantityFields
		PaymasterVerificationGasLimit string `json:"paymasterVerificationGasLimit"`
		PaymasterPostOpGasLimit       string `json:"paymasterPostOpGasLimit"`
		*Alias
	}{
		Alias: (*Alias)(uo),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := aux.quantityFields.apply(&uo.UserOperationCore); err != nil {
		return err
	}

	var err error
	if uo.PaymasterVerificationGasLimit, err = parseQuantity("paymasterVerificationGasLimit", aux.PaymasterVerificationGasLimit); err != nil {
		return err
	}
	if uo.PaymasterPostOpGasLimit, err = parseQuantity("paymasterPostOpGasLimit", aux.PaymasterPostOpGasLimit); err != nil {
		return err
	}
	return nil
}

// NewUserOperation returns an empty operation of the given version.
func NewUserOperation(version EntryPointVersion) (UserOperation, error) {
	switch version {
	case EntryPointVersion06:
		return &UserOperationV06{}, nil
	case EntryPointVersion07:
		return &UserOperationV07{}, nil
	default:
		return nil, &ConfigError{Msg: fmt.Sprintf("unsupported entry point version %q", version)}
	}
}

// DecodeUserOperation decodes a JSON operation in the format of the given version.
func DecodeUserOperation(version EntryPointVersion, data []byte) (UserOperation, error) {
	op, err := NewUserOperation(version)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, op); err != nil {
		return nil, fmt.Errorf("failed to decode v%s user operation: %w", version, err)
	}
	return op, nil
}

type quantityFields struct {
	Nonce                string `json:"nonce"`
	CallGasLimit         string `json:"callGasLimit"`
	VerificationGasLimit string `json:"verificationGasLimit"`
	PreVerificationGas   string `json:"preVerificationGas"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
}

func (q quantityFields) apply(c *UserOperationCore) error {
	fields := []struct {
		name  string
		raw   string
		field **hexutil.Big
	}{
		{"nonce", q.Nonce, &c.Nonce},
		{"callGasLimit", q.CallGasLimit, &c.CallGasLimit},
		{"verificationGasLimit", q.VerificationGasLimit, &c.VerificationGasLimit},
		{"preVerificationGas", q.PreVerificationGas, &c.PreVerificationGas},
		{"maxFeePerGas", q.MaxFeePerGas, &c.MaxFeePerGas},
		{"maxPriorityFeePerGas", q.MaxPriorityFeePerGas, &c.MaxPriorityFeePerGas},
	}
	for _, f := range fields {
		v, err := parseQuantity(f.name, f.raw)
		if err != nil {
			return err
		}
		*f.field = v
	}
	return nil
}

// parseQuantity reads a 0x-prefixed hex quantity. An empty string means absent.
func parseQuantity(name, raw string) (*hexutil.Big, error) {
	if raw == "" {
		return nil, nil
	}
	digits := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if digits == "" {
		return (*hexutil.Big)(new(big.Int)), nil
	}
	v, ok := new(big.Int).SetString(digits, 16)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: %q is not a hex quantity", name, raw)
	}
	return (*hexutil.Big)(v), nil
}

// Big wraps v for use in UserOperation fields.
func Big(v int64) *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(v))
}

// BigFrom wraps a *big.Int, preserving nil.
func BigFrom(v *big.Int) *hexutil.Big {
	if v == nil {
		return nil
	}
	return (*hexutil.Big)(new(big.Int).Set(v))
}

// ToInt unwraps a field value, preserving nil.
func ToInt(v *hexutil.Big) *big.Int {
	if v == nil {
		return nil
	}
	return v.ToInt()
}

func cloneBig(v *hexutil.Big) *hexutil.Big {
	if v == nil {
		return nil
	}
	return (*hexutil.Big)(new(big.Int).Set(v.ToInt()))
}

func cloneBytes(b hexutil.Bytes) hexutil.Bytes {
	if b == nil {
		return nil
	}
	return append(hexutil.Bytes{}, b...)
}

func cloneAddress(a *common.Address) *common.Address {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

func bigOrZero(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToInt()
}
