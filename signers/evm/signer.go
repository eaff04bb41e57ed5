// Package evm provides the x402pay.Signer for EVM-compatible chains using
// the "exact" scheme: an off-chain EIP-3009 transferWithAuthorization signed
// with EIP-712 typed data. The signer never submits anything on-chain — the
// signed authorization is a bearer capability redeemed by the resource
// server's facilitator, so the payer spends no gas on this rail.
package evm

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/solventlabs/x402pay"
)

// Signer implements x402pay.Signer for one EVM chain.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	family     x402pay.ChainFamily
	tokens     []x402pay.TokenConfig
	priority   int
	maxAmount  *big.Int
}

// SignerOption configures a Signer.
type SignerOption func(*Signer) error

// NewSigner creates an EVM signer. A private key (WithPrivateKey,
// WithECDSAKey, WithKeystore, or WithMnemonic) and a network are required.
func NewSigner(opts ...SignerOption) (*Signer, error) {
	s := &Signer{}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.privateKey == nil {
		return nil, x402pay.ErrInvalidKey
	}
	if s.family.Kind != x402pay.ChainEVM {
		return nil, x402pay.ErrInvalidNetwork
	}
	for _, token := range s.tokens {
		if err := x402pay.ValidateAddress(s.family.Canonical, token.Address); err != nil {
			return nil, err
		}
	}

	s.address = crypto.PubkeyToAddress(s.privateKey.PublicKey)
	return s, nil
}

// WithPrivateKey sets the signing key from a hex string, with or without
// the 0x prefix.
func WithPrivateKey(hexKey string) SignerOption {
	return func(s *Signer) error {
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return x402pay.ErrInvalidKey
		}
		s.privateKey = privateKey
		return nil
	}
}

// WithECDSAKey sets an already-parsed signing key.
func WithECDSAKey(key *ecdsa.PrivateKey) SignerOption {
	return func(s *Signer) error {
		if key == nil {
			return x402pay.ErrInvalidKey
		}
		s.privateKey = key
		return nil
	}
}

// WithNetwork sets the chain. Accepts canonical CAIP-2 identifiers and
// legacy aliases; the network must be an EVM chain.
func WithNetwork(network string) SignerOption {
	return func(s *Signer) error {
		family, err := x402pay.ParseNetwork(network)
		if err != nil {
			return err
		}
		if family.Kind != x402pay.ChainEVM {
			return x402pay.ErrInvalidNetwork
		}
		s.family = family
		return nil
	}
}

// WithToken restricts the signer to the given token. Without any WithToken
// option the signer pays in whatever asset the server demands.
func WithToken(address, symbol string, decimals int) SignerOption {
	return WithTokenPriority(address, symbol, decimals, 0)
}

// WithTokenPriority adds an allow-listed token with a selection priority
// (lower wins).
func WithTokenPriority(address, symbol string, decimals, priority int) SignerOption {
	return func(s *Signer) error {
		s.tokens = append(s.tokens, x402pay.TokenConfig{
			Address:  address,
			Symbol:   symbol,
			Decimals: decimals,
			Priority: priority,
		})
		return nil
	}
}

// WithPriority sets the signer's priority among the agent's signers.
func WithPriority(priority int) SignerOption {
	return func(s *Signer) error {
		s.priority = priority
		return nil
	}
}

// WithMaxAmountPerCall caps the amount (smallest units) a single payment
// may authorize.
func WithMaxAmountPerCall(amount string) SignerOption {
	return func(s *Signer) error {
		maxAmount, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return x402pay.ErrInvalidAmount
		}
		s.maxAmount = maxAmount
		return nil
	}
}

// Network implements x402pay.Signer.
func (s *Signer) Network() string {
	return s.family.Canonical
}

// Scheme implements x402pay.Signer.
func (s *Signer) Scheme() string {
	return "exact"
}

// CanSign implements x402pay.Signer.
func (s *Signer) CanSign(req *x402pay.PaymentRequirement) bool {
	if req.Scheme != "exact" {
		return false
	}
	if !x402pay.SameNetwork(req.Network, s.family.Canonical) {
		return false
	}
	if len(s.tokens) == 0 {
		return true
	}
	for _, token := range s.tokens {
		if strings.EqualFold(token.Address, req.Asset) {
			return true
		}
	}
	return false
}

// Sign implements x402pay.Signer. It builds and signs an EIP-3009
// TransferWithAuthorization for the exact requested amount. The EIP-712
// domain name and version MUST be present in the requirement's extra field;
// they are never guessed, because a wrong domain would let the signature be
// redeemed against a different contract or version.
func (s *Signer) Sign(_ context.Context, req *x402pay.PaymentRequirement) (*x402pay.PaymentPayload, error) {
	if !s.CanSign(req) {
		return nil, x402pay.ErrNoValidSigner
	}

	amount, err := req.AtomicAmount()
	if err != nil {
		return nil, err
	}
	if s.maxAmount != nil && amount.Cmp(s.maxAmount) > 0 {
		return nil, x402pay.ErrAmountExceeded
	}

	name := req.ExtraString("name")
	version := req.ExtraString("version")
	if name == "" || version == "" {
		return nil, x402pay.NewPaymentError(x402pay.ErrCodeSigningFailed, "requirement carries no EIP-712 domain", x402pay.ErrMissingDomain).
			WithDetails("network", req.Network).
			WithDetails("asset", req.Asset)
	}

	if err := x402pay.ValidateAddress(s.family.Canonical, req.PayTo); err != nil {
		return nil, err
	}
	if err := x402pay.ValidateAddress(s.family.Canonical, req.Asset); err != nil {
		return nil, err
	}

	auth, err := NewTransferAuthorization(s.address, common.HexToAddress(req.PayTo), amount, req.MaxTimeoutSeconds)
	if err != nil {
		return nil, x402pay.NewPaymentError(x402pay.ErrCodeSigningFailed, "failed to build authorization", err)
	}

	domain := Domain{
		Name:              name,
		Version:           version,
		ChainID:           s.family.ChainID,
		VerifyingContract: common.HexToAddress(req.Asset),
	}

	signature, err := SignTransferAuthorization(s.privateKey, domain, auth)
	if err != nil {
		return nil, x402pay.NewPaymentError(x402pay.ErrCodeSigningFailed, "failed to sign authorization", err).
			WithDetails("network", req.Network).
			WithDetails("amount", req.Amount).
			WithDetails("payTo", req.PayTo)
	}

	return &x402pay.PaymentPayload{
		X402Version: x402pay.X402Version,
		Scheme:      "exact",
		Network:     s.family.Canonical,
		Payload: x402pay.EVMPayload{
			Signature: signature,
			Authorization: x402pay.EVMAuthorization{
				From:        auth.From.Hex(),
				To:          auth.To.Hex(),
				Value:       auth.Value.String(),
				ValidAfter:  auth.ValidAfter.String(),
				ValidBefore: auth.ValidBefore.String(),
				Nonce:       auth.Nonce.Hex(),
			},
		},
	}, nil
}

// GetPriority implements x402pay.Signer.
func (s *Signer) GetPriority() int {
	return s.priority
}

// GetTokens implements x402pay.Signer.
func (s *Signer) GetTokens() []x402pay.TokenConfig {
	return s.tokens
}

// GetMaxAmount implements x402pay.Signer.
func (s *Signer) GetMaxAmount() *big.Int {
	return s.maxAmount
}

// Address returns the signer's Ethereum address.
func (s *Signer) Address() common.Address {
	return s.address
}
