// Package balance reports a wallet's USDC holdings across the networks the
// payment client can spend on. It exists for budget telemetry, not for
// payment decisions, so it deliberately never returns an error: anything
// that goes wrong is logged and read as a zero balance.
package balance

import (
	"context"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/solventlabs/x402pay"
)

const erc20ABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

// EVMCaller is the subset of an Ethereum client the oracle uses.
// *ethclient.Client satisfies it.
type EVMCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// SolanaRPC is the subset of the Solana JSON-RPC surface the oracle uses.
// *rpc.Client satisfies it.
type SolanaRPC interface {
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
}

// Oracle reads USDC balances. Zero-value queries are answered as zero; a
// network with no registered client reads as zero too.
type Oracle struct {
	logger     *slog.Logger
	evmClients map[string]EVMCaller
	solClients map[string]SolanaRPC
	erc20      abi.ABI
}

// OracleOption configures an Oracle.
type OracleOption func(*Oracle)

// WithEVMClient registers an EVM client for a network.
func WithEVMClient(network string, client EVMCaller) OracleOption {
	return func(o *Oracle) {
		if family, err := x402pay.ParseNetwork(network); err == nil {
			network = family.Canonical
		}
		o.evmClients[network] = client
	}
}

// WithSolanaClient registers a Solana client for a network.
func WithSolanaClient(network string, client SolanaRPC) OracleOption {
	return func(o *Oracle) {
		if family, err := x402pay.ParseNetwork(network); err == nil {
			network = family.Canonical
		}
		o.solClients[network] = client
	}
}

// WithLogger sets the logger used to report swallowed failures.
func WithLogger(logger *slog.Logger) OracleOption {
	return func(o *Oracle) {
		o.logger = logger
	}
}

// NewOracle creates a balance oracle.
func NewOracle(opts ...OracleOption) *Oracle {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic("balance: erc20 abi does not parse: " + err.Error())
	}

	o := &Oracle{
		logger:     slog.Default(),
		evmClients: make(map[string]EVMCaller),
		solClients: make(map[string]SolanaRPC),
		erc20:      parsed,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Balance returns the address's USDC balance on the given network in whole
// tokens. It never fails: unknown networks, missing clients, RPC errors,
// and malformed responses all log a warning and read as zero.
func (o *Oracle) Balance(ctx context.Context, network, address string) decimal.Decimal {
	family, err := x402pay.ParseNetwork(network)
	if err != nil {
		o.logger.Warn("balance query for unknown network", "network", network, "error", err)
		return decimal.Zero
	}

	cfg, ok := x402pay.USDCConfig(family.Canonical)
	if !ok {
		o.logger.Warn("no USDC deployment known for network", "network", family.Canonical)
		return decimal.Zero
	}

	switch family.Kind {
	case x402pay.ChainEVM:
		return o.evmBalance(ctx, family.Canonical, cfg, address)
	case x402pay.ChainSolana:
		return o.solanaBalance(ctx, family.Canonical, cfg, address)
	default:
		return decimal.Zero
	}
}

func (o *Oracle) evmBalance(ctx context.Context, network string, cfg x402pay.ChainConfig, address string) decimal.Decimal {
	client, ok := o.evmClients[network]
	if !ok {
		o.logger.Warn("no EVM client registered", "network", network)
		return decimal.Zero
	}
	if err := x402pay.ValidateAddress(network, address); err != nil {
		o.logger.Warn("balance query for invalid address", "network", network, "error", err)
		return decimal.Zero
	}

	input, err := o.erc20.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		o.logger.Warn("failed to pack balanceOf call", "error", err)
		return decimal.Zero
	}

	tokenAddr := common.HexToAddress(cfg.USDCAddress)
	output, err := client.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: input}, nil)
	if err != nil {
		o.logger.Warn("balanceOf call failed", "network", network, "error", err)
		return decimal.Zero
	}

	results, err := o.erc20.Unpack("balanceOf", output)
	if err != nil || len(results) != 1 {
		o.logger.Warn("balanceOf returned malformed data", "network", network, "error", err)
		return decimal.Zero
	}
	raw, ok := results[0].(*big.Int)
	if !ok {
		o.logger.Warn("balanceOf returned unexpected type", "network", network)
		return decimal.Zero
	}

	return decimal.NewFromBigInt(raw, -int32(cfg.Decimals))
}

func (o *Oracle) solanaBalance(ctx context.Context, network string, cfg x402pay.ChainConfig, address string) decimal.Decimal {
	client, ok := o.solClients[network]
	if !ok {
		o.logger.Warn("no Solana client registered", "network", network)
		return decimal.Zero
	}

	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		o.logger.Warn("balance query for invalid address", "network", network, "error", err)
		return decimal.Zero
	}
	mint, err := solana.PublicKeyFromBase58(cfg.USDCAddress)
	if err != nil {
		o.logger.Warn("invalid mint in network config", "network", network, "error", err)
		return decimal.Zero
	}

	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		o.logger.Warn("failed to derive token account", "network", network, "error", err)
		return decimal.Zero
	}

	res, err := client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		// A wallet that never received the token has no account at all.
		o.logger.Debug("token balance query failed", "network", network, "error", err)
		return decimal.Zero
	}
	if res == nil || res.Value == nil {
		return decimal.Zero
	}

	raw, ok := new(big.Int).SetString(res.Value.Amount, 10)
	if !ok {
		o.logger.Warn("token balance response malformed", "network", network, "amount", res.Value.Amount)
		return decimal.Zero
	}

	return decimal.NewFromBigInt(raw, -int32(cfg.Decimals))
}
