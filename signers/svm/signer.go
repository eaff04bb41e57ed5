// Package svm provides the x402pay.Signer for Solana. Unlike the EVM rail,
// a Solana payment is a fully signed SPL transfer the payer settles with its
// own lamports: the transaction carries the payer as fee payer and, when the
// recipient has no associated token account yet, an instruction that creates
// it at the payer's expense.
package svm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solventlabs/x402pay"
)

// RPC is the subset of the Solana JSON-RPC surface the signer uses.
// *rpc.Client satisfies it.
type RPC interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Signer implements x402pay.Signer for Solana.
type Signer struct {
	privateKey       solana.PrivateKey
	publicKey        solana.PublicKey
	family           x402pay.ChainFamily
	client           RPC
	tokens           []x402pay.TokenConfig
	priority         int
	maxAmount        *big.Int
	directSettlement bool
}

// SignerOption configures a Signer.
type SignerOption func(*Signer) error

// NewSigner creates a Solana signer. A private key and a network are
// required; without an explicit RPC option the signer connects to the
// public endpoint for the configured cluster.
func NewSigner(opts ...SignerOption) (*Signer, error) {
	s := &Signer{}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if len(s.privateKey) == 0 {
		return nil, x402pay.ErrInvalidKey
	}
	if s.family.Kind != x402pay.ChainSolana {
		return nil, x402pay.ErrInvalidNetwork
	}
	for _, token := range s.tokens {
		if err := x402pay.ValidateAddress(s.family.Canonical, token.Address); err != nil {
			return nil, err
		}
	}

	if s.client == nil {
		s.client = rpc.New(clusterEndpoint(s.family.Cluster))
	}

	s.publicKey = s.privateKey.PublicKey()
	return s, nil
}

// WithPrivateKey sets the signing key from a base58 string.
func WithPrivateKey(base58Key string) SignerOption {
	return func(s *Signer) error {
		privateKey, err := solana.PrivateKeyFromBase58(base58Key)
		if err != nil {
			return x402pay.ErrInvalidKey
		}
		s.privateKey = privateKey
		return nil
	}
}

// WithKeygenFile loads the signing key from a solana-keygen JSON file
// (a 64-element byte array).
func WithKeygenFile(path string) SignerOption {
	return func(s *Signer) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %v", x402pay.ErrInvalidKeystore, err)
		}

		var keyBytes []byte
		if err := json.Unmarshal(data, &keyBytes); err != nil {
			return fmt.Errorf("%w: not a keygen JSON array", x402pay.ErrInvalidKeystore)
		}
		if len(keyBytes) != 64 {
			return fmt.Errorf("%w: key length %d, want 64", x402pay.ErrInvalidKeystore, len(keyBytes))
		}

		s.privateKey = solana.PrivateKey(keyBytes)
		return nil
	}
}

// WithNetwork sets the cluster. Accepts canonical CAIP-2 identifiers and
// legacy aliases; the network must be a Solana cluster.
func WithNetwork(network string) SignerOption {
	return func(s *Signer) error {
		family, err := x402pay.ParseNetwork(network)
		if err != nil {
			return err
		}
		if family.Kind != x402pay.ChainSolana {
			return x402pay.ErrInvalidNetwork
		}
		s.family = family
		return nil
	}
}

// WithRPCClient sets the RPC client. Mainly useful for tests and for
// callers with authenticated endpoints.
func WithRPCClient(client RPC) SignerOption {
	return func(s *Signer) error {
		s.client = client
		return nil
	}
}

// WithRPCEndpoint points the signer at a specific RPC endpoint instead of
// the cluster's public one.
func WithRPCEndpoint(endpoint string) SignerOption {
	return func(s *Signer) error {
		s.client = rpc.New(endpoint)
		return nil
	}
}

// WithToken restricts the signer to the given mint.
func WithToken(mintAddress, symbol string, decimals int) SignerOption {
	return WithTokenPriority(mintAddress, symbol, decimals, 0)
}

// WithTokenPriority adds an allow-listed mint with a selection priority
// (lower wins).
func WithTokenPriority(mintAddress, symbol string, decimals, priority int) SignerOption {
	return func(s *Signer) error {
		s.tokens = append(s.tokens, x402pay.TokenConfig{
			Address:  mintAddress,
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
// may move.
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

// WithDirectSettlement makes Sign submit the transaction and wait for
// confirmation before returning, instead of leaving settlement to the
// resource server.
func WithDirectSettlement() SignerOption {
	return func(s *Signer) error {
		s.directSettlement = true
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

// Sign implements x402pay.Signer. It checks balances up front, builds a
// transfer-checked transaction (prepending an associated-token-account
// create when the recipient has none), signs it with the payer as fee
// payer, and base64-encodes the wire bytes. With direct settlement enabled
// it also submits the transaction and waits for confirmation.
func (s *Signer) Sign(ctx context.Context, req *x402pay.PaymentRequirement) (*x402pay.PaymentPayload, error) {
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
	// SPL token amounts are u64 on the wire; anything larger cannot be
	// represented without truncation.
	if !amount.IsUint64() {
		return nil, x402pay.ErrInvalidAmount
	}

	mint, err := solana.PublicKeyFromBase58(req.Asset)
	if err != nil {
		return nil, fmt.Errorf("invalid mint address: %w", err)
	}
	recipient, err := solana.PublicKeyFromBase58(req.PayTo)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}

	tx, err := s.buildTransfer(ctx, mint, recipient, amount.Uint64(), s.tokenDecimals(req.Asset))
	if err != nil {
		return nil, err
	}

	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return nil, x402pay.NewPaymentError(x402pay.ErrCodeSigningFailed, "failed to marshal transaction", err)
	}
	txBase64 := base64.StdEncoding.EncodeToString(txBytes)

	if s.directSettlement {
		if err := s.settle(ctx, tx); err != nil {
			return nil, err
		}
	}

	return &x402pay.PaymentPayload{
		X402Version: x402pay.X402Version,
		Scheme:      "exact",
		Network:     s.family.Canonical,
		Payload: x402pay.SVMPayload{
			Transaction: txBase64,
		},
	}, nil
}

// tokenDecimals resolves the mint's decimals from the configured tokens,
// then from the built-in USDC registry, defaulting to 6.
func (s *Signer) tokenDecimals(asset string) uint8 {
	for _, token := range s.tokens {
		if strings.EqualFold(token.Address, asset) {
			return uint8(token.Decimals)
		}
	}
	if cfg, ok := x402pay.USDCConfig(s.family.Canonical); ok && strings.EqualFold(cfg.USDCAddress, asset) {
		return uint8(cfg.Decimals)
	}
	return 6
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

// Address returns the signer's public key as base58.
func (s *Signer) Address() string {
	return s.publicKey.String()
}

func clusterEndpoint(cluster string) string {
	switch cluster {
	case "devnet":
		return rpc.DevNet_RPC
	case "testnet":
		return rpc.TestNet_RPC
	default:
		return rpc.MainNetBeta_RPC
	}
}
