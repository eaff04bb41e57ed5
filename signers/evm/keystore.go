package evm

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/solventlabs/x402pay"
)

// WithKeystore loads the signing key from a geth-style encrypted keystore
// file.
func WithKeystore(path, password string) SignerOption {
	return func(s *Signer) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %v", x402pay.ErrInvalidKeystore, err)
		}

		var keyJSON struct {
			Crypto keystore.CryptoJSON `json:"crypto"`
		}
		if err := json.Unmarshal(data, &keyJSON); err != nil {
			return fmt.Errorf("%w: not keystore JSON", x402pay.ErrInvalidKeystore)
		}

		keyBytes, err := keystore.DecryptDataV3(keyJSON.Crypto, password)
		if err != nil {
			return fmt.Errorf("%w: decryption failed", x402pay.ErrInvalidKeystore)
		}

		privateKey, err := crypto.ToECDSA(keyBytes)
		if err != nil {
			return fmt.Errorf("%w: decrypted data is not a valid key", x402pay.ErrInvalidKeystore)
		}

		s.privateKey = privateKey
		return nil
	}
}

// WithMnemonic derives the signing key from a BIP-39 mnemonic along the
// standard Ethereum path m/44'/60'/0'/0/{accountIndex}.
func WithMnemonic(mnemonic string, accountIndex uint32) SignerOption {
	return func(s *Signer) error {
		if !bip39.IsMnemonicValid(mnemonic) {
			return x402pay.ErrInvalidMnemonic
		}

		seed := bip39.NewSeed(mnemonic, "")
		privateKey, err := deriveKey(seed, accountIndex)
		if err != nil {
			return fmt.Errorf("%w: %v", x402pay.ErrInvalidMnemonic, err)
		}

		s.privateKey = privateKey
		return nil
	}
}

// deriveKey walks m/44'/60'/0'/0/{index} from a BIP-39 seed.
func deriveKey(seed []byte, index uint32) (*ecdsa.PrivateKey, error) {
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	for _, step := range []uint32{
		bip32.FirstHardenedChild + 44, // purpose
		bip32.FirstHardenedChild + 60, // coin type
		bip32.FirstHardenedChild + 0,  // account
		0,                             // external chain
		index,
	} {
		if key, err = key.NewChildKey(step); err != nil {
			return nil, err
		}
	}

	return crypto.ToECDSA(key.Key)
}
