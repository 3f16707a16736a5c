package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/bundlesettle/pkg/crypto"
	"github.com/uhyunpark/bundlesettle/pkg/p2p"
	"github.com/uhyunpark/bundlesettle/pkg/settle"
)

// bundle-tool encodes a JSON bundle into its wire form, optionally attesting
// it with a BLS key, or decodes a wire bundle back into JSON.
//
//	bundle-tool -in bundle.json -seed 0x01...  # encode + attest
//	bundle-tool -decode 0x0001...              # decode
func main() {
	in := flag.String("in", "-", "bundle JSON file, - for stdin")
	seed := flag.String("seed", "", "hex BLS key seed (>= 32 bytes) to attest the bundle with")
	decode := flag.String("decode", "", "hex wire bundle to decode instead of encoding")
	flag.Parse()

	var err error
	if *decode != "" {
		err = runDecode(*decode)
	} else {
		err = runEncode(*in, *seed)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type encodeOutput struct {
	Bundle      hexutil.Bytes `json:"bundle"`
	BundleHash  string        `json:"bundleHash"`
	Attester    string        `json:"attester,omitempty"`
	Attestation hexutil.Bytes `json:"attestation,omitempty"`
}

func runEncode(path, seedHex string) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	var b settle.Bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return fmt.Errorf("failed to parse bundle json: %w", err)
	}
	raw, err := b.Encode()
	if err != nil {
		return err
	}
	// Round-trip through the decoder so index and hook errors surface here
	// rather than on the node.
	if _, err := settle.Decode(raw); err != nil {
		return err
	}

	out := encodeOutput{Bundle: raw, BundleHash: settle.Hash(raw).Hex()}
	if seedHex != "" {
		seed, err := hexutil.Decode(ensure0x(seedHex))
		if err != nil {
			return fmt.Errorf("invalid seed: %w", err)
		}
		signer, err := crypto.NewBLSSignerFromSeed(seed)
		if err != nil {
			return err
		}
		w, err := p2p.Attest(raw, signer)
		if err != nil {
			return err
		}
		out.Attester = signer.PubkeyHex()
		out.Attestation = w.Attestations[0].Signature
	}
	return printJSON(out)
}

func runDecode(wireHex string) error {
	raw, err := hexutil.Decode(ensure0x(strings.TrimSpace(wireHex)))
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	b, err := settle.Decode(raw)
	if err != nil {
		return err
	}
	return printJSON(struct {
		BundleHash string         `json:"bundleHash"`
		Bundle     *settle.Bundle `json:"bundle"`
	}{settle.Hash(raw).Hex(), b})
}

func ensure0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
