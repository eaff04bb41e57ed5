package evm

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	// clockSkewTolerance backdates validAfter so a payment stays redeemable
	// even when the settling node's clock lags the payer's.
	clockSkewTolerance = 600 * time.Second

	// defaultValidity bounds validBefore when the server names no deadline.
	defaultValidity = 300 * time.Second
)

// Domain is the EIP-712 signing domain of an EIP-3009 token contract.
// Name and Version are contract-specific and must come from the payment
// requirement, never from local assumptions.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// TransferAuthorization is the message signed for transferWithAuthorization.
type TransferAuthorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       common.Hash
}

// NewTransferAuthorization builds an authorization valid from ten minutes in
// the past until now plus the server's deadline (or five minutes when the
// server names none), with a fresh random nonce.
func NewTransferAuthorization(from, to common.Address, value *big.Int, timeoutSeconds int) (*TransferAuthorization, error) {
	var nonce common.Hash
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	validity := defaultValidity
	if timeoutSeconds > 0 {
		validity = time.Duration(timeoutSeconds) * time.Second
	}

	now := time.Now()
	return &TransferAuthorization{
		From:        from,
		To:          to,
		Value:       new(big.Int).Set(value),
		ValidAfter:  big.NewInt(now.Add(-clockSkewTolerance).Unix()),
		ValidBefore: big.NewInt(now.Add(validity).Unix()),
		Nonce:       nonce,
	}, nil
}

// SignTransferAuthorization signs the authorization as EIP-712 typed data
// and returns the 65-byte signature hex-encoded, with the recovery id
// adjusted to the on-chain convention (v = 27 or 28).
func SignTransferAuthorization(key *ecdsa.PrivateKey, domain Domain, auth *TransferAuthorization) (string, error) {
	digest, err := transferAuthorizationDigest(domain, auth)
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(digest, key)
	if err != nil {
		return "", fmt.Errorf("sign digest: %w", err)
	}
	signature[64] += 27

	return hexutil.Encode(signature), nil
}

// transferAuthorizationDigest computes keccak256(0x1901 || domainSeparator ||
// hashStruct(message)) per EIP-712.
func transferAuthorizationDigest(domain Domain, auth *TransferAuthorization) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       auth.Value.String(),
			"validAfter":  auth.ValidAfter.String(),
			"validBefore": auth.ValidBefore.String(),
			"nonce":       auth.Nonce.Hex(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}

	raw := append([]byte{0x19, 0x01}, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}
