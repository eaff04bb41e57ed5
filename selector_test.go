package x402pay

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
)

// stubSigner implements Signer for selector tests.
type stubSigner struct {
	network    string
	tokens     []TokenConfig
	priority   int
	maxAmount  *big.Int
	signCalled bool
}

func (s *stubSigner) Network() string { return s.network }
func (s *stubSigner) Scheme() string  { return "exact" }

func (s *stubSigner) CanSign(req *PaymentRequirement) bool {
	if req.Scheme != "exact" || !SameNetwork(req.Network, s.network) {
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

func (s *stubSigner) Sign(ctx context.Context, req *PaymentRequirement) (*PaymentPayload, error) {
	s.signCalled = true
	return &PaymentPayload{X402Version: X402Version, Scheme: "exact", Network: s.network}, nil
}

func (s *stubSigner) GetPriority() int         { return s.priority }
func (s *stubSigner) GetTokens() []TokenConfig { return s.tokens }
func (s *stubSigner) GetMaxAmount() *big.Int   { return s.maxAmount }

func evmRequirement() PaymentRequirement {
	return PaymentRequirement{
		Scheme:  "exact",
		Network: "eip155:8453",
		Amount:  "10000",
		PayTo:   "0x1111111111111111111111111111111111111111",
		Asset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	}
}

func solanaRequirement() PaymentRequirement {
	return PaymentRequirement{
		Scheme:  "exact",
		Network: "solana:mainnet",
		Amount:  "10000",
		PayTo:   "7EYnhQoR9YM3N7UoaKRoA44Uy8JeaZV3qyouov87awMs",
		Asset:   "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	}
}

func TestSelect_PrefersSolanaRegardlessOfOrder(t *testing.T) {
	evmSigner := &stubSigner{network: "eip155:8453"}
	solSigner := &stubSigner{network: "solana:mainnet"}
	selector := NewChainPreferenceSelector()

	// EVM listed first by the server; Solana must still win.
	accepts := []PaymentRequirement{evmRequirement(), solanaRequirement()}

	req, signer, err := selector.Select(accepts, []Signer{evmSigner, solSigner})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if req.Network != "solana:mainnet" {
		t.Errorf("selected network %s, want solana:mainnet", req.Network)
	}
	if signer != solSigner {
		t.Error("selected the wrong signer")
	}
}

func TestSelect_FallsBackToEVM(t *testing.T) {
	evmSigner := &stubSigner{network: "eip155:8453"}
	selector := NewChainPreferenceSelector()

	accepts := []PaymentRequirement{solanaRequirement(), evmRequirement()}

	req, signer, err := selector.Select(accepts, []Signer{evmSigner})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if req.Network != "eip155:8453" || signer != evmSigner {
		t.Errorf("selected %s, want the EVM option", req.Network)
	}
}

func TestSelect_NoCompatibleNetwork(t *testing.T) {
	evmSigner := &stubSigner{network: "eip155:8453"}
	selector := NewChainPreferenceSelector()

	// Challenge offers only Solana; the wallet has only an EVM key.
	_, _, err := selector.Select([]PaymentRequirement{solanaRequirement()}, []Signer{evmSigner})
	if !errors.Is(err, ErrNoValidSigner) {
		t.Fatalf("error = %v, want ErrNoValidSigner", err)
	}
	if evmSigner.signCalled {
		t.Error("no signer should be invoked when selection fails")
	}
}

func TestSelect_EmptyAccepts(t *testing.T) {
	selector := NewChainPreferenceSelector()
	_, _, err := selector.Select(nil, []Signer{&stubSigner{network: "eip155:8453"}})
	if !errors.Is(err, ErrInvalidRequirements) {
		t.Fatalf("error = %v, want ErrInvalidRequirements", err)
	}
}

func TestSelect_ServerOrderWithinFamily(t *testing.T) {
	signer := &stubSigner{network: "eip155:8453"}
	selector := NewChainPreferenceSelector()

	first := evmRequirement()
	first.Amount = "111"
	second := evmRequirement()
	second.Amount = "222"

	req, _, err := selector.Select([]PaymentRequirement{first, second}, []Signer{signer})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if req.Amount != "111" {
		t.Errorf("selected amount %s, want the server's first option", req.Amount)
	}
}

func TestSelect_SignerPriority(t *testing.T) {
	low := &stubSigner{network: "eip155:8453", priority: 2}
	high := &stubSigner{network: "eip155:8453", priority: 1}
	selector := NewChainPreferenceSelector()

	_, signer, err := selector.Select([]PaymentRequirement{evmRequirement()}, []Signer{low, high})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if signer != high {
		t.Error("expected the lower-priority-number signer to win")
	}
}

func TestSelect_RespectsMaxAmount(t *testing.T) {
	capped := &stubSigner{network: "eip155:8453", maxAmount: big.NewInt(100)}
	selector := NewChainPreferenceSelector()

	_, _, err := selector.Select([]PaymentRequirement{evmRequirement()}, []Signer{capped})
	if !errors.Is(err, ErrNoValidSigner) {
		t.Fatalf("error = %v, want ErrNoValidSigner for over-cap amount", err)
	}
}

func TestSelect_SkipsMalformedAmount(t *testing.T) {
	signer := &stubSigner{network: "eip155:8453"}
	selector := NewChainPreferenceSelector()

	bad := evmRequirement()
	bad.Amount = "0.01" // floats are not valid atomic amounts
	good := evmRequirement()

	req, _, err := selector.Select([]PaymentRequirement{bad, good}, []Signer{signer})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if req.Amount != good.Amount {
		t.Errorf("selected %q, want the well-formed option", req.Amount)
	}
}
