package ethereum

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// mnemonicMinWords separates seed phrases from raw keys: anything with more
// words than this is treated as a mnemonic.
const mnemonicMinWords = 3

// Signer holds the private key derived from an account identity.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// ParseIdentity derives a signer from a hex private key or a BIP-39 mnemonic.
// Mnemonics follow the default Ethereum path m/44'/60'/0'/0/0.
func ParseIdentity(identity string) (*Signer, error) {
	trimmed := strings.TrimSpace(identity)
	if trimmed == "" {
		return nil, errors.New("empty account identity")
	}

	var (
		key *ecdsa.PrivateKey
		err error
	)
	if len(strings.Fields(trimmed)) > mnemonicMinWords {
		key, err = deriveFromMnemonic(trimmed, accounts.DefaultBaseDerivationPath)
	} else {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X"))
		if err != nil {
			err = fmt.Errorf("invalid private key: %w", err)
		}
	}
	if err != nil {
		return nil, err
	}
	return NewSigner(key), nil
}

// NewSigner wraps an existing private key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the public address controlled by the signer.
func (s *Signer) Address() common.Address {
	return s.address
}

func deriveFromMnemonic(phrase string, path accounts.DerivationPath) (*ecdsa.PrivateKey, error) {
	phrase = strings.Join(strings.Fields(phrase), " ")
	if !bip39.IsMnemonicValid(phrase) {
		return nil, errors.New("invalid mnemonic phrase")
	}
	seed := bip39.NewSeed(phrase, "")

	extended, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	for _, index := range path {
		extended, err = extended.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", index, err)
		}
	}
	priv, err := extended.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("extract private key: %w", err)
	}
	return crypto.ToECDSA(priv.Serialize())
}
