// Package x402pay implements the client side of the x402 payment protocol:
// parsing HTTP 402 payment challenges, selecting a settlement network,
// producing signed value-transfer authorizations for EVM and Solana rails,
// and resubmitting the paid request. Subpackages provide the challenge
// parser, the chain-specific signers, the HTTP orchestrator, and a balance
// oracle for the agent's survival logic.
package x402pay

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// ChainKind tags the settlement family a network belongs to.
type ChainKind int

const (
	// ChainUnknown is an unrecognized network identifier.
	ChainUnknown ChainKind = iota
	// ChainEVM covers Ethereum Virtual Machine chains (eip155:*).
	ChainEVM
	// ChainSolana covers Solana clusters (solana:*).
	ChainSolana
)

// String implements fmt.Stringer.
func (k ChainKind) String() string {
	switch k {
	case ChainEVM:
		return "evm"
	case ChainSolana:
		return "solana"
	default:
		return "unknown"
	}
}

// ChainFamily is the parsed form of a network identifier. It is a closed
// variant: either an EVM chain with a numeric chain ID, or a Solana cluster.
// All dispatch on networks goes through ParseNetwork and this type; no call
// site matches on string prefixes directly.
type ChainFamily struct {
	Kind ChainKind

	// ChainID is set for ChainEVM.
	ChainID *big.Int

	// Cluster is set for ChainSolana (e.g., "mainnet", "devnet").
	Cluster string

	// Canonical is the CAIP-2 identifier ("eip155:8453", "solana:mainnet").
	Canonical string
}

// IsEVM reports whether the family is an EVM chain.
func (f ChainFamily) IsEVM() bool { return f.Kind == ChainEVM }

// IsSolana reports whether the family is a Solana cluster.
func (f ChainFamily) IsSolana() bool { return f.Kind == ChainSolana }

// String returns the canonical CAIP-2 identifier.
func (f ChainFamily) String() string { return f.Canonical }

// legacyNetworks maps pre-CAIP-2 network names, still emitted by older
// servers, onto canonical identifiers.
var legacyNetworks = map[string]string{
	"ethereum":       "eip155:1",
	"sepolia":        "eip155:11155111",
	"base":           "eip155:8453",
	"base-sepolia":   "eip155:84532",
	"polygon":        "eip155:137",
	"polygon-amoy":   "eip155:80002",
	"avalanche":      "eip155:43114",
	"avalanche-fuji": "eip155:43113",
	"solana":         "solana:mainnet",
	"solana-devnet":  "solana:devnet",
	"solana-testnet": "solana:testnet",
}

var evmChainIDPattern = regexp.MustCompile(`^[0-9]+$`)

// ParseNetwork resolves a network identifier into its ChainFamily. It accepts
// canonical CAIP-2 identifiers and the legacy aliases above; anything else is
// an error. This is the single place network strings are interpreted.
func ParseNetwork(network string) (ChainFamily, error) {
	if network == "" {
		return ChainFamily{}, fmt.Errorf("%w: empty network", ErrInvalidNetwork)
	}

	if canonical, ok := legacyNetworks[strings.ToLower(network)]; ok {
		network = canonical
	}

	switch {
	case strings.HasPrefix(network, "eip155:"):
		suffix := strings.TrimPrefix(network, "eip155:")
		if !evmChainIDPattern.MatchString(suffix) {
			return ChainFamily{}, fmt.Errorf("%w: bad eip155 chain id %q", ErrInvalidNetwork, suffix)
		}
		chainID, ok := new(big.Int).SetString(suffix, 10)
		if !ok {
			return ChainFamily{}, fmt.Errorf("%w: bad eip155 chain id %q", ErrInvalidNetwork, suffix)
		}
		// chainID.String() strips leading zeros so "eip155:0008453" and
		// "eip155:8453" canonicalize identically.
		return ChainFamily{
			Kind:      ChainEVM,
			ChainID:   chainID,
			Canonical: "eip155:" + chainID.String(),
		}, nil

	case strings.HasPrefix(network, "solana:"):
		cluster := strings.TrimPrefix(network, "solana:")
		if cluster == "" {
			return ChainFamily{}, fmt.Errorf("%w: empty solana cluster", ErrInvalidNetwork)
		}
		return ChainFamily{
			Kind:      ChainSolana,
			Cluster:   cluster,
			Canonical: "solana:" + cluster,
		}, nil
	}

	return ChainFamily{}, fmt.Errorf("%w: %q", ErrInvalidNetwork, network)
}

// SameNetwork reports whether two network identifiers resolve to the same
// canonical chain, tolerating legacy aliases on either side.
func SameNetwork(a, b string) bool {
	fa, errA := ParseNetwork(a)
	fb, errB := ParseNetwork(b)
	if errA != nil || errB != nil {
		return false
	}
	return fa.Canonical == fb.Canonical
}

// ChainConfig holds per-chain USDC parameters. EIP3009Name/Version are the
// EIP-712 domain parameters of the USDC contract; empty on non-EVM chains.
type ChainConfig struct {
	// Network is the canonical CAIP-2 identifier.
	Network string

	// USDCAddress is the Circle USDC contract address or mint address.
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals uint8

	// EIP3009Name is the EIP-712 domain "name" of the token contract.
	EIP3009Name string

	// EIP3009Version is the EIP-712 domain "version" of the token contract.
	EIP3009Version string
}

// Verified USDC deployments, keyed informally by chain. Servers remain the
// source of truth for domain parameters via requirement.extra; this registry
// serves the balance oracle and the example paywalls.
var (
	SolanaMainnet = ChainConfig{
		Network:     "solana:mainnet",
		USDCAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Decimals:    6,
	}

	SolanaDevnet = ChainConfig{
		Network:     "solana:devnet",
		USDCAddress: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		Decimals:    6,
	}

	BaseMainnet = ChainConfig{
		Network:        "eip155:8453",
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	BaseSepolia = ChainConfig{
		Network:        "eip155:84532",
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	PolygonMainnet = ChainConfig{
		Network:        "eip155:137",
		USDCAddress:    "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	AvalancheMainnet = ChainConfig{
		Network:        "eip155:43114",
		USDCAddress:    "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}
)

var chainConfigs = []ChainConfig{
	SolanaMainnet,
	SolanaDevnet,
	BaseMainnet,
	BaseSepolia,
	PolygonMainnet,
	AvalancheMainnet,
}

// USDCConfig looks up the USDC configuration for a network identifier,
// tolerating legacy aliases.
func USDCConfig(network string) (ChainConfig, bool) {
	family, err := ParseNetwork(network)
	if err != nil {
		return ChainConfig{}, false
	}
	for _, cfg := range chainConfigs {
		if cfg.Network == family.Canonical {
			return cfg, true
		}
	}
	return ChainConfig{}, false
}

var (
	evmAddressPattern    = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	solanaAddressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// ValidateAddress checks that an address is plausible for the network's
// chain family: 0x-prefixed 20-byte hex for EVM, base58 for Solana.
func ValidateAddress(network, address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	family, err := ParseNetwork(network)
	if err != nil {
		return err
	}

	switch family.Kind {
	case ChainEVM:
		if !evmAddressPattern.MatchString(address) {
			return fmt.Errorf("address %q is not a valid EVM address for %s", address, family)
		}
	case ChainSolana:
		if !solanaAddressPattern.MatchString(address) {
			return fmt.Errorf("address %q is not a valid Solana address for %s", address, family)
		}
	}

	return nil
}
