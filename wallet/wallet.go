// Package wallet assembles signers from environment configuration, so a
// CLI or agent process can be pointed at funds without code changes.
package wallet

import (
	"fmt"
	"os"
	"strings"

	"github.com/solventlabs/x402pay"
	"github.com/solventlabs/x402pay/signers/evm"
	"github.com/solventlabs/x402pay/signers/svm"
)

// Environment variables consulted by FromEnv. For each chain the first
// variable that is set wins.
const (
	EnvEVMPrivateKey       = "EVM_PRIVATE_KEY"
	EnvEVMKeystore         = "EVM_KEYSTORE"
	EnvEVMKeystorePassword = "EVM_KEYSTORE_PASSWORD"
	EnvEVMMnemonic         = "EVM_MNEMONIC"

	EnvSolanaPrivateKey = "SOLANA_PRIVATE_KEY"
	EnvSolanaKeygenFile = "SOLANA_KEYGEN_FILE"
	EnvSolanaRPC        = "SOLANA_RPC_ENDPOINT"
)

// FromEnv builds one signer per requested network from credentials in the
// environment. EVM networks share the EVM key material; Solana networks
// share the Solana key material. Networks whose chain has no credentials
// configured are skipped; an error is returned only when no signer at all
// could be built, or when configured credentials are invalid.
func FromEnv(networks ...string) ([]x402pay.Signer, error) {
	if len(networks) == 0 {
		networks = []string{"eip155:8453", "solana:mainnet"}
	}

	var signers []x402pay.Signer
	for _, network := range networks {
		family, err := x402pay.ParseNetwork(network)
		if err != nil {
			return nil, fmt.Errorf("network %q: %w", network, err)
		}

		switch family.Kind {
		case x402pay.ChainEVM:
			keyOpt, ok := evmKeyFromEnv()
			if !ok {
				continue
			}
			signer, err := evm.NewSigner(keyOpt, evm.WithNetwork(family.Canonical))
			if err != nil {
				return nil, fmt.Errorf("evm signer for %s: %w", family.Canonical, err)
			}
			signers = append(signers, signer)

		case x402pay.ChainSolana:
			keyOpt, ok := solanaKeyFromEnv()
			if !ok {
				continue
			}
			opts := []svm.SignerOption{keyOpt, svm.WithNetwork(family.Canonical)}
			if endpoint := os.Getenv(EnvSolanaRPC); endpoint != "" {
				opts = append(opts, svm.WithRPCEndpoint(endpoint))
			}
			signer, err := svm.NewSigner(opts...)
			if err != nil {
				return nil, fmt.Errorf("solana signer for %s: %w", family.Canonical, err)
			}
			signers = append(signers, signer)
		}
	}

	if len(signers) == 0 {
		return nil, fmt.Errorf("no wallet configured: set %s or %s", EnvEVMPrivateKey, EnvSolanaPrivateKey)
	}
	return signers, nil
}

func evmKeyFromEnv() (evm.SignerOption, bool) {
	if key := strings.TrimSpace(os.Getenv(EnvEVMPrivateKey)); key != "" {
		return evm.WithPrivateKey(key), true
	}
	if path := os.Getenv(EnvEVMKeystore); path != "" {
		return evm.WithKeystore(path, os.Getenv(EnvEVMKeystorePassword)), true
	}
	if mnemonic := strings.TrimSpace(os.Getenv(EnvEVMMnemonic)); mnemonic != "" {
		return evm.WithMnemonic(mnemonic, 0), true
	}
	return nil, false
}

func solanaKeyFromEnv() (svm.SignerOption, bool) {
	if key := strings.TrimSpace(os.Getenv(EnvSolanaPrivateKey)); key != "" {
		return svm.WithPrivateKey(key), true
	}
	if path := os.Getenv(EnvSolanaKeygenFile); path != "" {
		return svm.WithKeygenFile(path), true
	}
	return nil, false
}
