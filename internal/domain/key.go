package domain

import (
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PublicKeyLength is the size of a Solana account address in bytes.
const PublicKeyLength = 32

// PublicKey identifies an on-chain account.
type PublicKey [PublicKeyLength]byte

// NullKey is the all-zero key. Its base58 form is "11111111111111111111111111111111",
// which the oracle program uses for "no account".
var NullKey PublicKey

// ParsePublicKey decodes a base58 account address.
func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	b, err := base58.Decode(s)
	if err != nil {
		return k, fmt.Errorf("decode public key %q: %w", s, err)
	}
	if len(b) != PublicKeyLength {
		return k, fmt.Errorf("public key %q: expected %d bytes, got %d", s, PublicKeyLength, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// PublicKeyFromBytes copies the first 32 bytes of b into a key.
func PublicKeyFromBytes(b []byte) PublicKey {
	var k PublicKey
	copy(k[:], b)
	return k
}

// String returns the base58 encoding of the key.
func (k PublicKey) String() string {
	return base58.Encode(k[:])
}

// IsNull reports whether k is the null sentinel.
func (k PublicKey) IsNull() bool {
	return k == NullKey
}

// IsOnCurve reports whether k is a valid ed25519 point, i.e. a key that
// can sign (wallets, publishers) rather than a program derived address.
func (k PublicKey) IsOnCurve() bool {
	_, err := new(edwards25519.Point).SetBytes(k[:])
	return err == nil
}

// MarshalText implements encoding.TextMarshaler.
func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
