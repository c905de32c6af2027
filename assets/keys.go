// Copyright (C) 2019-2022, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package assets

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ledgerops/ledger-network-runner/network"
	"github.com/ledgerops/ledger-network-runner/utils"
	"golang.org/x/sync/errgroup"
)

const (
	ed25519Tag   = "01"
	secp256k1Tag = "02"

	PublicKeyFile       = "public_key_hex"
	Ed25519SecretFile   = "secret_key.pem"
	Secp256k1SecretFile = "secret_key.hex"
)

// KeyPair is a generated account keypair, kept in memory until written.
type KeyPair struct {
	accountType string
	ed25519Key  ed25519.PrivateKey
	secpKey     *ecdsa.PrivateKey
}

func newKeyPair(accountType string) (*KeyPair, error) {
	switch accountType {
	case network.AccountTypeEd25519:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("couldn't generate ed25519 key: %w", err)
		}
		return &KeyPair{accountType: accountType, ed25519Key: priv}, nil
	case network.AccountTypeSecp256k1:
		priv, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("couldn't generate secp256k1 key: %w", err)
		}
		return &KeyPair{accountType: accountType, secpKey: priv}, nil
	default:
		return nil, network.Invalidf("unknown account type %q", accountType)
	}
}

// PublicKeyHex returns the hex encoded public key prefixed with its algorithm tag.
func (k *KeyPair) PublicKeyHex() string {
	if k.secpKey != nil {
		return secp256k1Tag + hex.EncodeToString(crypto.CompressPubkey(&k.secpKey.PublicKey))
	}
	return ed25519Tag + hex.EncodeToString(k.ed25519Key.Public().(ed25519.PublicKey))
}

// SecretKeyFile is the name of the secret key file for [accountType].
func SecretKeyFile(accountType string) string {
	if accountType == network.AccountTypeSecp256k1 {
		return Secp256k1SecretFile
	}
	return Ed25519SecretFile
}

// Write stores the secret key and the tagged public key under [dir].
func (k *KeyPair) Write(dir string) error {
	if err := os.MkdirAll(dir, utils.DefaultDirPerms); err != nil {
		return err
	}
	secretPath := filepath.Join(dir, SecretKeyFile(k.accountType))
	if k.secpKey != nil {
		if err := crypto.SaveECDSA(secretPath, k.secpKey); err != nil {
			return fmt.Errorf("couldn't write %s: %w", secretPath, err)
		}
	} else {
		der, err := x509.MarshalPKCS8PrivateKey(k.ed25519Key)
		if err != nil {
			return fmt.Errorf("couldn't marshal ed25519 key: %w", err)
		}
		b := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
		if err := os.WriteFile(secretPath, b, 0o600); err != nil {
			return err
		}
	}
	return os.WriteFile(filepath.Join(dir, PublicKeyFile), []byte(k.PublicKeyHex()), utils.DefaultFilePerms)
}

// ReadPublicKey reads the tagged public key written to [dir].
func ReadPublicKey(dir string) (string, error) {
	b, err := os.ReadFile(filepath.Join(dir, PublicKeyFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("no public key in %s: %w", dir, err)
		}
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// generateKeyPairs creates [n] keypairs concurrently. The result is
// indexed so callers can assign keys to assets deterministically.
func generateKeyPairs(ctx context.Context, accountType string, n int) ([]*KeyPair, error) {
	keys := make([]*KeyPair, n)
	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			key, err := newKeyPair(accountType)
			if err != nil {
				return err
			}
			keys[i] = key
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, n)
	for _, key := range keys {
		pub := key.PublicKeyHex()
		if _, ok := seen[pub]; ok {
			return nil, fmt.Errorf("duplicate public key %s", pub)
		}
		seen[pub] = struct{}{}
	}
	return keys, nil
}
