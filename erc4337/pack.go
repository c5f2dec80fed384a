package erc4337

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	addressLength    = common.AddressLength
	uint128Length    = 16
	paymasterDataPos = addressLength + 2*uint128Length
)

// PackedUserOperation is the v0.7 on-chain representation.
type PackedUserOperation struct {
	Sender             common.Address `json:"sender"`
	Nonce              *hexutil.Big   `json:"nonce"`
	InitCode           hexutil.Bytes  `json:"initCode"`
	CallData           hexutil.Bytes  `json:"callData"`
	AccountGasLimits   [32]byte       `json:"-"`
	PreVerificationGas *hexutil.Big   `json:"preVerificationGas"`
	GasFees            [32]byte       `json:"-"`
	PaymasterAndData   hexutil.Bytes  `json:"paymasterAndData"`
	Signature          hexutil.Bytes  `json:"signature"`
}

func (p PackedUserOperation) MarshalJSON() ([]byte, error) {
	type Alias PackedUserOperation
	return json.Marshal(struct {
		AccountGasLimits hexutil.Bytes `json:"accountGasLimits"`
		GasFees          hexutil.Bytes `json:"gasFees"`
		Alias
	}{
		AccountGasLimits: p.AccountGasLimits[:],
		GasFees:          p.GasFees[:],
		Alias:            Alias(p),
	})
}

// PaymasterFields is the unpacked form of v0.7 paymasterAndData.
type PaymasterFields struct {
	Paymaster                     *common.Address
	PaymasterVerificationGasLimit *big.Int
	PaymasterPostOpGasLimit       *big.Int
	PaymasterData                 []byte
}

// packUint128 left-pads v to 16 bytes. nil packs as zero.
func packUint128(field string, v *big.Int) ([]byte, error) {
	out := make([]byte, uint128Length)
	if v == nil {
		return out, nil
	}
	if v.Sign() < 0 || v.BitLen() > 128 {
		return nil, &ValidationError{Field: field, Msg: fmt.Sprintf("value %s does not fit in uint128", v)}
	}
	return v.FillBytes(out), nil
}

// GetInitCode concatenates factory and factoryData. An absent factory yields empty bytes.
func GetInitCode(factory *common.Address, factoryData []byte) []byte {
	if factory == nil {
		return []byte{}
	}
	initCode := make([]byte, 0, addressLength+len(factoryData))
	initCode = append(initCode, factory.Bytes()...)
	return append(initCode, factoryData...)
}

// UnpackInitCode splits initCode into factory and factoryData. Empty input means no factory.
func UnpackInitCode(initCode []byte) (*common.Address, []byte, error) {
	if len(initCode) == 0 {
		return nil, nil, nil
	}
	if len(initCode) < addressLength {
		return nil, nil, &ValidationError{Field: "initCode", Msg: fmt.Sprintf("length %d is shorter than an address", len(initCode))}
	}
	factory := common.BytesToAddress(initCode[:addressLength])
	factoryData := append([]byte{}, initCode[addressLength:]...)
	return &factory, factoryData, nil
}

// GetAccountGasLimits packs verificationGasLimit into the high and callGasLimit into the low 16 bytes.
func GetAccountGasLimits(verificationGasLimit, callGasLimit *big.Int) ([32]byte, error) {
	return packPair("verificationGasLimit", verificationGasLimit, "callGasLimit", callGasLimit)
}

func UnpackAccountGasLimits(packed [32]byte) (verificationGasLimit, callGasLimit *big.Int) {
	return unpackPair(packed)
}

// GetGasFees packs maxPriorityFeePerGas into the high and maxFeePerGas into the low 16 bytes.
func GetGasFees(maxPriorityFeePerGas, maxFeePerGas *big.Int) ([32]byte, error) {
	return packPair("maxPriorityFeePerGas", maxPriorityFeePerGas, "maxFeePerGas", maxFeePerGas)
}

func UnpackGasFees(packed [32]byte) (maxPriorityFeePerGas, maxFeePerGas *big.Int) {
	return unpackPair(packed)
}

func packPair(highName string, high *big.Int, lowName string, low *big.Int) ([32]byte, error) {
	var out [32]byte
	h, err := packUint128(highName, high)
	if err != nil {
		return out, err
	}
	l, err := packUint128(lowName, low)
	if err != nil {
		return out, err
	}
	copy(out[:uint128Length], h)
	copy(out[uint128Length:], l)
	return out, nil
}

func unpackPair(packed [32]byte) (*big.Int, *big.Int) {
	return new(big.Int).SetBytes(packed[:uint128Length]), new(big.Int).SetBytes(packed[uint128Length:])
}

// GetPaymasterAndData packs the v0.7 paymaster fields. Missing limits pack as zero.
func GetPaymasterAndData(paymaster *common.Address, verificationGasLimit, postOpGasLimit *big.Int, paymasterData []byte) ([]byte, error) {
	if paymaster == nil {
		return []byte{}, nil
	}
	verification, err := packUint128("paymasterVerificationGasLimit", verificationGasLimit)
	if err != nil {
		return nil, err
	}
	postOp, err := packUint128("paymasterPostOpGasLimit", postOpGasLimit)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, paymasterDataPos+len(paymasterData))
	out = append(out, paymaster.Bytes()...)
	out = append(out, verification...)
	out = append(out, postOp...)
	return append(out, paymasterData...), nil
}

// UnpackPaymasterAndData is the inverse of GetPaymasterAndData. Empty input unpacks to all-nil fields.
func UnpackPaymasterAndData(paymasterAndData []byte) (*PaymasterFields, error) {
	if len(paymasterAndData) == 0 {
		return &PaymasterFields{}, nil
	}
	if len(paymasterAndData) < paymasterDataPos {
		return nil, &ValidationError{
			Field: "paymasterAndData",
			Msg:   fmt.Sprintf("length %d is shorter than the %d byte header", len(paymasterAndData), paymasterDataPos),
		}
	}
	paymaster := common.BytesToAddress(paymasterAndData[:addressLength])
	return &PaymasterFields{
		Paymaster:                     &paymaster,
		PaymasterVerificationGasLimit: new(big.Int).SetBytes(paymasterAndData[addressLength : addressLength+uint128Length]),
		PaymasterPostOpGasLimit:       new(big.Int).SetBytes(paymasterAndData[addressLength+uint128Length : paymasterDataPos]),
		PaymasterData:                 append([]byte{}, paymasterAndData[paymasterDataPos:]...),
	}, nil
}

// PackUserOperation converts a v0.7 operation to its on-chain packed form.
func PackUserOperation(op *UserOperationV07) (*PackedUserOperation, error) {
	accountGasLimits, err := GetAccountGasLimits(ToInt(op.VerificationGasLimit), ToInt(op.CallGasLimit))
	if err != nil {
		return nil, err
	}
	gasFees, err := GetGasFees(ToInt(op.MaxPriorityFeePerGas), ToInt(op.MaxFeePerGas))
	if err != nil {
		return nil, err
	}
	paymasterAndData, err := GetPaymasterAndData(op.Paymaster, ToInt(op.PaymasterVerificationGasLimit), ToInt(op.PaymasterPostOpGasLimit), op.PaymasterData)
	if err != nil {
		return nil, err
	}

	return &PackedUserOperation{
		Sender:             op.Sender,
		Nonce:              (*hexutil.Big)(bigOrZero(op.Nonce)),
		InitCode:           GetInitCode(op.Factory, op.FactoryData),
		CallData:           cloneBytes(op.CallData),
		AccountGasLimits:   accountGasLimits,
		PreVerificationGas: (*hexutil.Big)(bigOrZero(op.PreVerificationGas)),
		GasFees:            gasFees,
		PaymasterAndData:   paymasterAndData,
		Signature:          cloneBytes(op.Signature),
	}, nil
}

// UnpackUserOperation restores the RPC form. Absent factory and paymaster come back as nil.
func UnpackUserOperation(packed *PackedUserOperation) (*UserOperationV07, error) {
	factory, factoryData, err := UnpackInitCode(packed.InitCode)
	if err != nil {
		return nil, err
	}
	paymaster, err := UnpackPaymasterAndData(packed.PaymasterAndData)
	if err != nil {
		return nil, err
	}
	verificationGasLimit, callGasLimit := UnpackAccountGasLimits(packed.AccountGasLimits)
	maxPriorityFeePerGas, maxFeePerGas := UnpackGasFees(packed.GasFees)

	return &UserOperationV07{
		UserOperationCore: UserOperationCore{
			Sender:               packed.Sender,
			Nonce:                cloneBig(packed.Nonce),
			CallData:             cloneBytes(packed.CallData),
			CallGasLimit:         (*hexutil.Big)(callGasLimit),
			VerificationGasLimit: (*hexutil.Big)(verificationGasLimit),
			PreVerificationGas:   cloneBig(packed.PreVerificationGas),
			MaxFeePerGas:         (*hexutil.Big)(maxFeePerGas),
			MaxPriorityFeePerGas: (*hexutil.Big)(maxPriorityFeePerGas),
			Signature:            cloneBytes(packed.Signature),
		},
		Factory:                       factory,
		FactoryData:                   factoryData,
		Paymaster:                     paymaster.Paymaster,
		PaymasterVerificationGasLimit: BigFrom(paymaster.PaymasterVerificationGasLimit),
		PaymasterPostOpGasLimit:       BigFrom(paymaster.PaymasterPostOpGasLimit),
		PaymasterData:                 paymaster.PaymasterData,
	}, nil
}
