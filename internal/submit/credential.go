package submit

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Credential is a signing key held for the duration of one submission.
type Credential struct {
	key *ecdsa.PrivateKey
}

// ParseCredential decodes a hex private key with or without 0x prefix.
// The error never echoes the input.
func ParseCredential(hexKey string) (Credential, error) {
	s := strings.TrimSpace(hexKey)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return Credential{}, ErrNoCredential
	}
	k, err := crypto.HexToECDSA(s)
	if err != nil {
		return Credential{}, fmt.Errorf("invalid private key (%d hex chars)", len(s))
	}
	return Credential{key: k}, nil
}

// NewCredential wraps an existing key.
func NewCredential(k *ecdsa.PrivateKey) Credential { return Credential{key: k} }

// Present reports whether a key is held.
func (c Credential) Present() bool { return c.key != nil }

// Address is the signer address derived from the key.
func (c Credential) Address() common.Address {
	if c.key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(c.key.PublicKey)
}

// String never prints key material.
func (c Credential) String() string {
	if c.key == nil {
		return "credential(none)"
	}
	return "credential(" + c.Address().Hex() + ")"
}
