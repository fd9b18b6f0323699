// Package wallet loads the bot's ed25519 signing key.
package wallet

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"copyTrader/internal/ports"
)

var hexPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]+$`)

// Wallet implements ports.Wallet with an in-memory ed25519 key.
type Wallet struct {
	key solana.PrivateKey
}

// Load decodes raw as a bracketed JSON byte array, hex or base58, tried in
// that order. The decoded key is either a 32-byte seed or a 64-byte secret key
// (seed followed by public key).
func Load(raw string) (*Wallet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: private key is empty", ports.ErrWalletInitialization)
	}

	var attempts []string
	for _, dec := range decoders(raw) {
		b, err := dec.decode(raw)
		if err != nil {
			attempts = append(attempts, fmt.Sprintf("%s: %v", dec.name, err))
			continue
		}
		key, err := keyFromBytes(b)
		if err != nil {
			attempts = append(attempts, fmt.Sprintf("%s: %v", dec.name, err))
			continue
		}
		return &Wallet{key: key}, nil
	}
	return nil, fmt.Errorf("%w: %s", ports.ErrWalletInitialization, strings.Join(attempts, "; "))
}

// PublicIdentity returns the base58 public key, the chain's address format.
func (w *Wallet) PublicIdentity() string {
	return w.key.PublicKey().String()
}

// Sign signs msg with the wallet key.
func (w *Wallet) Sign(msg []byte) ([]byte, error) {
	sig, err := w.key.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig[:], nil
}

type decoder struct {
	name   string
	decode func(string) ([]byte, error)
}

func decoders(raw string) []decoder {
	if strings.HasPrefix(raw, "[") {
		return []decoder{{"json array", decodeJSONArray}}
	}
	var out []decoder
	if hexPattern.MatchString(raw) {
		out = append(out, decoder{"hex", decodeHex})
	}
	return append(out, decoder{"base58", base58.Decode})
}

func decodeJSONArray(raw string) ([]byte, error) {
	var ints []int
	if err := json.Unmarshal([]byte(raw), &ints); err != nil {
		return nil, err
	}
	b := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("element %d out of byte range: %d", i, v)
		}
		b[i] = byte(v)
	}
	return b, nil
}

func decodeHex(raw string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(raw, "0x"))
}

func keyFromBytes(b []byte) (solana.PrivateKey, error) {
	switch len(b) {
	case ed25519.SeedSize:
		return solana.PrivateKey(ed25519.NewKeyFromSeed(b)), nil
	case ed25519.PrivateKeySize:
		key := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
		if !key.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(b[ed25519.SeedSize:])) {
			return nil, fmt.Errorf("public key half does not match seed")
		}
		return solana.PrivateKey(key), nil
	default:
		return nil, fmt.Errorf("decoded %d bytes, want %d or %d", len(b), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}
