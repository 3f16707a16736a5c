// Package crypto signs and verifies bundle attestations with BLS.
package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	bls "github.com/cloudflare/circl/sign/bls"
	"github.com/ethereum/go-ethereum/common"
)

type scheme = bls.KeyG1SigG2

type BLSPubKey = bls.PublicKey[scheme]
type BLSSignature = []byte

// attestationDomain separates bundle attestations from any other message
// signed with the same key.
var attestationDomain = []byte("bundlesettle/attest/v1")

type BLSSigner struct {
	sk *bls.PrivateKey[scheme]
	pk *BLSPubKey
}

// NewBLSSignerFromSeed derives a key from seed, which must be at least 32
// bytes.
func NewBLSSignerFromSeed(seed []byte) (*BLSSigner, error) {
	sk, err := bls.KeyGen[scheme](seed, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("bls keygen: %w", err)
	}
	return &BLSSigner{sk: sk, pk: sk.PublicKey()}, nil
}

func (s *BLSSigner) Pubkey() *BLSPubKey { return s.pk }

// PubkeyHex returns the compressed public key as 0x-prefixed hex.
func (s *BLSSigner) PubkeyHex() string {
	b, _ := s.pk.MarshalBinary()
	return "0x" + hex.EncodeToString(b)
}

func (s *BLSSigner) Sign(msg []byte) []byte {
	return bls.Sign(s.sk, msg)
}

// AttestBundle signs the hash of an encoded bundle.
func (s *BLSSigner) AttestBundle(bundleHash common.Hash) BLSSignature {
	return s.Sign(attestationMessage(bundleHash))
}

func Verify(pk *BLSPubKey, sigBytes, msg []byte) bool {
	return bls.Verify(pk, msg, bls.Signature(sigBytes))
}

// VerifyBundleAttestation checks sig by pk over the bundle hash.
func VerifyBundleAttestation(pk *BLSPubKey, bundleHash common.Hash, sig []byte) bool {
	return Verify(pk, sig, attestationMessage(bundleHash))
}

func ParsePubkey(b []byte) (*BLSPubKey, error) {
	pk := new(BLSPubKey)
	if err := pk.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("bls pubkey: %w", err)
	}
	return pk, nil
}

func ParsePubkeyHex(s string) (*BLSPubKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("bls pubkey hex: %w", err)
	}
	return ParsePubkey(b)
}

func attestationMessage(h common.Hash) []byte {
	return append(append([]byte{}, attestationDomain...), h[:]...)
}
