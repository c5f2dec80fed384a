package accounts

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces the raw owner signature over a UserOperation hash.
type Signer interface {
	SignHash(ctx context.Context, hash common.Hash) ([]byte, error)
	// DummySignature has the shape and length of a real signature, for gas estimation.
	DummySignature() []byte
}

var ecdsaDummySignature = hexutil.MustDecode("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

// ECDSASigner signs with a secp256k1 key using EIP-191 personal_sign semantics.
type ECDSASigner struct {
	key *ecdsa.PrivateKey
}

func NewECDSASigner(key *ecdsa.PrivateKey) *ECDSASigner {
	return &ECDSASigner{key: key}
}

// ECDSASignerFromHex accepts a hex private key with or without the 0x prefix.
func ECDSASignerFromHex(hexKey string) (*ECDSASigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewECDSASigner(key), nil
}

func (s *ECDSASigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *ECDSASigner) SignHash(_ context.Context, hash common.Hash) ([]byte, error) {
	signature, err := crypto.Sign(personalSignHash(hash.Bytes()).Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign user operation hash: %w", err)
	}
	// recovery id to Ethereum's 27/28
	signature[crypto.RecoveryIDOffset] += 27
	return signature, nil
}

func (s *ECDSASigner) DummySignature() []byte {
	return append([]byte{}, ecdsaDummySignature...)
}

// personalSignHash is the EIP-191 version 0x45 digest of data.
func personalSignHash(data []byte) common.Hash {
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(data), data)
	return crypto.Keccak256Hash([]byte(msg))
}

// RecoverSigner returns the address that produced an ECDSASigner signature over hash.
func RecoverSigner(hash common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(signature))
	}
	sig := append([]byte{}, signature...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(personalSignHash(hash.Bytes()).Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
