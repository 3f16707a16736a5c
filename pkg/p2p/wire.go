package p2p

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/uhyunpark/bundlesettle/pkg/crypto"
	"github.com/uhyunpark/bundlesettle/pkg/settle"
)

var (
	ErrNoAttestation      = errors.New("p2p: bundle carries no attestation")
	ErrUnknownAttester    = errors.New("p2p: attester not accepted")
	ErrInvalidAttestation = errors.New("p2p: invalid attestation")
)

func init() {
	gob.Register(BundleWire{})
	gob.Register(SubmitResult{})
}

// BundleWire is a gossiped or directly submitted bundle.
type BundleWire struct {
	Bundle       []byte // encoded bundle
	Attestations []AttestationWire
}

type AttestationWire struct {
	Pubkey    []byte // compressed BLS public key
	Signature []byte
}

// SubmitResult answers a direct submission.
type SubmitResult struct {
	Sequence uint64
	Err      string
}

// Verifier accepts bundles attested by at least one known key. Every
// attestation present must verify.
type Verifier struct {
	accepted []*crypto.BLSPubKey
}

func NewVerifier(pubkeysHex []string) (*Verifier, error) {
	v := &Verifier{}
	for _, s := range pubkeysHex {
		pk, err := crypto.ParsePubkeyHex(s)
		if err != nil {
			return nil, err
		}
		v.accepted = append(v.accepted, pk)
	}
	return v, nil
}

func (v *Verifier) Check(w *BundleWire) error {
	if len(w.Attestations) == 0 {
		return ErrNoAttestation
	}
	h := settle.Hash(w.Bundle)
	known := false
	for i, a := range w.Attestations {
		pk, err := crypto.ParsePubkey(a.Pubkey)
		if err != nil {
			return fmt.Errorf("%w: attestation %d: %w", ErrInvalidAttestation, i, err)
		}
		if !crypto.VerifyBundleAttestation(pk, h, a.Signature) {
			return fmt.Errorf("%w: attestation %d", ErrInvalidAttestation, i)
		}
		if v.accepts(pk) {
			known = true
		}
	}
	if !known {
		return ErrUnknownAttester
	}
	return nil
}

func (v *Verifier) accepts(pk *crypto.BLSPubKey) bool {
	for _, a := range v.accepted {
		if a.Equal(pk) {
			return true
		}
	}
	return false
}

// Attest wraps raw in an envelope signed by signers.
func Attest(raw []byte, signers ...*crypto.BLSSigner) (*BundleWire, error) {
	h := settle.Hash(raw)
	w := &BundleWire{Bundle: raw}
	for _, s := range signers {
		pk, err := s.Pubkey().MarshalBinary()
		if err != nil {
			return nil, err
		}
		w.Attestations = append(w.Attestations, AttestationWire{Pubkey: pk, Signature: s.AttestBundle(h)})
	}
	return w, nil
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
