package x402pay

import (
	"context"
	"math/big"
)

// Signer produces a signed payment for one settlement rail. Implementations
// exist for EVM chains (EIP-3009 transfer authorizations, signers/evm) and
// Solana (SPL transfers, signers/svm). A signer holds its key material as an
// opaque capability; it never exposes raw key bytes.
type Signer interface {
	// Network returns the canonical network identifier the signer pays on.
	Network() string

	// Scheme returns the payment scheme identifier (currently "exact").
	Scheme() string

	// CanSign reports whether this signer can satisfy the requirement:
	// matching chain family and network, supported scheme, and (when an
	// allow-list is configured) a known token.
	CanSign(req *PaymentRequirement) bool

	// Sign produces the transport-ready payment payload. Blocking signers
	// (Solana needs chain RPC) honor ctx; EVM signing is local and fast.
	// Sign never submits more than one payment per call.
	Sign(ctx context.Context, req *PaymentRequirement) (*PaymentPayload, error)

	// GetPriority orders signers when several can pay. Lower wins.
	GetPriority() int

	// GetTokens returns the signer's token allow-list; empty means any token.
	GetTokens() []TokenConfig

	// GetMaxAmount returns the per-call spend cap, or nil for no cap.
	GetMaxAmount() *big.Int
}
