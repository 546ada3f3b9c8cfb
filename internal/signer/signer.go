package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrSignatureLength = errors.New("invalid signature length")
	ErrSignatureV      = errors.New("invalid signature recovery id")
)

type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	domain  *Domain
}

// NewSigner creates a new EIP-712 signer for orders of domain.
func NewSigner(privateKeyHex string, domain *Domain) (*Signer, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %v", err)
	}
	return NewSignerFromKey(key, domain), nil
}

func NewSignerFromKey(key *ecdsa.PrivateKey, domain *Domain) *Signer {
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		domain:  domain,
	}
}

// SignOrder signs the order digest and stores the 65-byte [R || S || V]
// signature on the order. V is 27 or 28.
func (s *Signer) SignOrder(order *Order) ([]byte, error) {
	digest := s.domain.Digest(order)
	signature, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return nil, err
	}
	if signature[64] < 27 {
		signature[64] += 27
	}
	order.Signature = signature
	return signature, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

func (s *Signer) Domain() *Domain {
	return s.domain
}

// Recover returns the address that produced sig over digest. V may be 0/1 or 27/28.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrSignatureLength
	}
	raw := make([]byte, len(sig))
	copy(raw, sig)
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	if raw[64] > 1 {
		return common.Address{}, ErrSignatureV
	}
	pub, err := crypto.SigToPub(digest.Bytes(), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("signature recovery failed: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
