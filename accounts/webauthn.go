package accounts

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-webauthn/webauthn/protocol"
)

var webAuthnAuthArgs = abi.Arguments{{Type: mustNewType("tuple", []abi.ArgumentMarshaling{
	{Name: "authenticatorData", Type: "bytes"},
	{Name: "clientDataJSON", Type: "string"},
	{Name: "challengeIndex", Type: "uint256"},
	{Name: "typeIndex", Type: "uint256"},
	{Name: "r", Type: "uint256"},
	{Name: "s", Type: "uint256"},
})}}

// WebAuthnAuth is the assertion payload verified on chain by P-256 passkey validators.
type WebAuthnAuth struct {
	AuthenticatorData []byte
	ClientDataJSON    string
	ChallengeIndex    *big.Int
	TypeIndex         *big.Int
	R                 *big.Int
	S                 *big.Int
}

var p256HalfOrder = new(big.Int).Rsh(elliptic.P256().Params().N, 1)

// WebAuthnSigner produces passkey assertions over the UserOperation hash with a P-256 key.
// It stands in for an authenticator, so the key never leaves the process.
type WebAuthnSigner struct {
	key       *ecdsa.PrivateKey
	rpIDHash  [32]byte
	origin    string
	signCount uint32
}

func NewWebAuthnSigner(key *ecdsa.PrivateKey, rpID, origin string) (*WebAuthnSigner, error) {
	if key == nil || key.Curve != elliptic.P256() {
		return nil, errors.New("passkey signer requires a P-256 key")
	}
	if rpID == "" || origin == "" {
		return nil, errors.New("passkey signer requires an RP ID and origin")
	}
	return &WebAuthnSigner{
		key:      key,
		rpIDHash: sha256.Sum256([]byte(rpID)),
		origin:   origin,
	}, nil
}

// PublicKey returns the x and y coordinates registered with the on-chain validator.
func (s *WebAuthnSigner) PublicKey() (*big.Int, *big.Int) {
	return s.key.PublicKey.X, s.key.PublicKey.Y
}

func (s *WebAuthnSigner) SignHash(_ context.Context, hash common.Hash) ([]byte, error) {
	authenticatorData := s.authenticatorData()
	clientDataJSON, err := s.clientDataJSON(hash.Bytes())
	if err != nil {
		return nil, err
	}

	clientDataHash := sha256.Sum256(clientDataJSON)
	digest := sha256.Sum256(append(append([]byte{}, authenticatorData...), clientDataHash[:]...))

	r, sig, err := ecdsa.Sign(rand.Reader, s.key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign passkey assertion: %w", err)
	}
	// validators reject malleable high-s signatures
	if sig.Cmp(p256HalfOrder) > 0 {
		sig = new(big.Int).Sub(elliptic.P256().Params().N, sig)
	}

	return encodeWebAuthnAuth(authenticatorData, string(clientDataJSON), r, sig)
}

func (s *WebAuthnSigner) DummySignature() []byte {
	clientDataJSON, _ := s.clientDataJSON(make([]byte, common.HashLength))
	n := elliptic.P256().Params().N
	dummy, _ := encodeWebAuthnAuth(s.authenticatorData(), string(clientDataJSON), new(big.Int).Sub(n, big.NewInt(1)), new(big.Int).Set(p256HalfOrder))
	return dummy
}

func (s *WebAuthnSigner) authenticatorData() []byte {
	out := make([]byte, 0, 37)
	out = append(out, s.rpIDHash[:]...)
	out = append(out, byte(protocol.FlagUserPresent|protocol.FlagUserVerified))
	return binary.BigEndian.AppendUint32(out, s.signCount)
}

func (s *WebAuthnSigner) clientDataJSON(challenge []byte) ([]byte, error) {
	data, err := json.Marshal(protocol.CollectedClientData{
		Type:      protocol.AssertCeremony,
		Challenge: base64.RawURLEncoding.EncodeToString(challenge),
		Origin:    s.origin,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode client data: %w", err)
	}
	return data, nil
}

func encodeWebAuthnAuth(authenticatorData []byte, clientDataJSON string, r, s *big.Int) ([]byte, error) {
	challengeIndex := strings.Index(clientDataJSON, `"challenge":"`)
	typeIndex := strings.Index(clientDataJSON, `"type":"`)
	if challengeIndex < 0 || typeIndex < 0 {
		return nil, errors.New("client data is missing the challenge or type member")
	}
	encoded, err := webAuthnAuthArgs.Pack(WebAuthnAuth{
		AuthenticatorData: authenticatorData,
		ClientDataJSON:    clientDataJSON,
		ChallengeIndex:    big.NewInt(int64(challengeIndex)),
		TypeIndex:         big.NewInt(int64(typeIndex)),
		R:                 r,
		S:                 s,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode passkey assertion: %w", err)
	}
	return encoded, nil
}

// DecodeWebAuthnAuth is the inverse of the encoding produced by WebAuthnSigner.
func DecodeWebAuthnAuth(data []byte) (*WebAuthnAuth, error) {
	values, err := webAuthnAuthArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode passkey assertion: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("failed to decode passkey assertion: got %d values", len(values))
	}
	return abi.ConvertType(values[0], new(WebAuthnAuth)).(*WebAuthnAuth), nil
}
