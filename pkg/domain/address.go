package domain

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"

	dErrors "remittance/pkg/domain-errors"
)

// AddressLength is the byte length of an account identifier.
const AddressLength = 20

// Address identifies an account. It is a fixed-length opaque byte string;
// equality is exact byte equality, so two textual forms that differ only in
// letter case parse to the same Address.
type Address [AddressLength]byte

// ZeroAddress is never a valid participant.
var ZeroAddress Address

// ParseAddress validates a 0x-prefixed, 40 hex digit address at a trust boundary.
// All-lowercase and all-uppercase input is accepted as is; mixed-case input must
// carry a valid EIP-55 checksum.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimSpace(s)
	if s == "" {
		return a, dErrors.New(dErrors.CodeInvalidInput, "address is required")
	}
	body, ok := strings.CutPrefix(s, "0x")
	if !ok {
		body, ok = strings.CutPrefix(s, "0X")
	}
	if !ok {
		return a, dErrors.New(dErrors.CodeInvalidInput, "address must start with 0x")
	}
	if len(body) != AddressLength*2 {
		return a, dErrors.New(dErrors.CodeInvalidInput, "address must be 40 hex characters")
	}
	if _, err := hex.Decode(a[:], []byte(body)); err != nil {
		return Address{}, dErrors.New(dErrors.CodeInvalidInput, "address contains non-hex characters")
	}
	if isMixedCase(body) && checksumHex(a) != body {
		return Address{}, dErrors.New(dErrors.CodeInvalidInput, "address checksum mismatch")
	}
	return a, nil
}

// MustParseAddress panics on invalid input. Intended for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether the address is the zero address.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Hex returns the lowercase 0x-prefixed form, used as the storage key.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// String returns the EIP-55 checksummed form.
func (a Address) String() string {
	return "0x" + checksumHex(a)
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func checksumHex(a Address) string {
	lower := hex.EncodeToString(a[:])
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}

func isMixedCase(s string) bool {
	return strings.ToLower(s) != s && strings.ToUpper(s) != s
}
