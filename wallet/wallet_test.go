package wallet

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
)

const testEVMKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvEVMPrivateKey, EnvEVMKeystore, EnvEVMKeystorePassword,
		EnvEVMMnemonic, EnvSolanaPrivateKey, EnvSolanaKeygenFile, EnvSolanaRPC,
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnvEVMOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvEVMPrivateKey, testEVMKey)

	signers, err := FromEnv("eip155:8453", "solana:mainnet")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signers) != 1 {
		t.Fatalf("signer count = %d, want 1", len(signers))
	}
	if signers[0].Network() != "eip155:8453" {
		t.Errorf("network = %s, want eip155:8453", signers[0].Network())
	}
}

func TestFromEnvBothChains(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvEVMPrivateKey, testEVMKey)
	t.Setenv(EnvSolanaPrivateKey, solana.NewWallet().PrivateKey.String())

	signers, err := FromEnv("eip155:8453", "solana:mainnet")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signers) != 2 {
		t.Fatalf("signer count = %d, want 2", len(signers))
	}
}

func TestFromEnvSolanaKeygenFile(t *testing.T) {
	clearEnv(t)

	wallet := solana.NewWallet()
	data, err := json.Marshal([]byte(wallet.PrivateKey))
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write keygen file: %v", err)
	}
	t.Setenv(EnvSolanaKeygenFile, path)

	signers, err := FromEnv("solana:devnet")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signers) != 1 {
		t.Fatalf("signer count = %d, want 1", len(signers))
	}
	if signers[0].Network() != "solana:devnet" {
		t.Errorf("network = %s, want solana:devnet", signers[0].Network())
	}
}

func TestFromEnvNothingConfigured(t *testing.T) {
	clearEnv(t)

	if _, err := FromEnv("eip155:8453"); err == nil {
		t.Fatal("expected error when no credentials are set")
	}
}

func TestFromEnvInvalidKey(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvEVMPrivateKey, "not-a-key")

	if _, err := FromEnv("eip155:8453"); err == nil {
		t.Fatal("expected error for invalid key")
	}
}

func TestFromEnvUnknownNetwork(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvEVMPrivateKey, testEVMKey)

	if _, err := FromEnv("tron:mainnet"); err == nil {
		t.Fatal("expected error for unknown network")
	}
}

func TestFromEnvLegacyAliases(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvEVMPrivateKey, testEVMKey)

	signers, err := FromEnv("base")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signers[0].Network() != "eip155:8453" {
		t.Errorf("network = %s, want canonical eip155:8453", signers[0].Network())
	}
}
