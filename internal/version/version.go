// Package version implements the fixed-width, lexicographically sortable
// version identifiers used to order an automata's event log.
//
// A Version is a Width-character, zero-padded base-62 numeral over the
// alphabet 0-9A-Za-z. The alphabet is in ASCII order, so comparing two
// versions byte-by-byte gives the same answer as comparing the integers
// they encode. Storage engines can therefore sort and range-scan versions
// as plain strings.
package version

import (
	"cmp"
	"errors"
	"fmt"
	"strings"
)

const (
	// Width is the number of base-62 digits in every version.
	Width = 6

	// Base is the radix of the encoding.
	Base = 62

	// Alphabet lists the digits in ascending value. ASCII order matches
	// value order, which is what makes byte comparison numeric.
	Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// Version is an encoded position in an automata's event log.
type Version string

const (
	// Zero is the version of an automata immediately after creation.
	Zero Version = "000000"

	// Max is the largest representable version.
	Max Version = "zzzzzz"
)

// MaxIndex is the integer value of Max (62^6 - 1).
var MaxIndex = pow(Base, Width) - 1

var (
	// ErrOverflow is returned when incrementing Max. Version space
	// exhaustion is fatal for the automata; it never wraps.
	ErrOverflow = errors.New("version overflow")

	// ErrUnderflow is returned when decrementing Zero.
	ErrUnderflow = errors.New("version underflow")
)

// FormatError reports input that is not a well-formed version, or an
// integer too wide to encode in Width digits.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid version %q: %s", e.Input, e.Reason)
}

// IsFormatError reports whether err is (or wraps) a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// Parse validates s and returns it as a Version. Anchors supplied by
// callers go through Parse; nothing is coerced or padded.
func Parse(s string) (Version, error) {
	if len(s) != Width {
		return "", &FormatError{Input: s, Reason: fmt.Sprintf("must be exactly %d characters", Width)}
	}
	for i := 0; i < len(s); i++ {
		if digitValue(s[i]) < 0 {
			return "", &FormatError{Input: s, Reason: fmt.Sprintf("invalid character %q at offset %d", s[i], i)}
		}
	}
	return Version(s), nil
}

// Encode converts n to its padded Version form.
func Encode(n uint64) (Version, error) {
	if n > MaxIndex {
		return "", &FormatError{Input: fmt.Sprintf("%d", n), Reason: fmt.Sprintf("wider than %d digits", Width)}
	}
	var buf [Width]byte
	for i := Width - 1; i >= 0; i-- {
		buf[i] = Alphabet[n%Base]
		n /= Base
	}
	return Version(buf[:]), nil
}

// MustEncode is like Encode but panics on error.
// Use only in tests or with constants known to fit.
func MustEncode(n uint64) Version {
	v, err := Encode(n)
	if err != nil {
		panic(err)
	}
	return v
}

// Decode returns the integer value of v.
func Decode(v Version) (uint64, error) {
	if _, err := Parse(string(v)); err != nil {
		return 0, err
	}
	var n uint64
	for i := 0; i < Width; i++ {
		n = n*Base + uint64(digitValue(v[i]))
	}
	return n, nil
}

// Index returns the integer value of v for arithmetic such as snapshot
// interval checks. It panics on a malformed version, so callers must only
// pass versions that came from Parse, Encode, or storage.
func Index(v Version) uint64 {
	n, err := Decode(v)
	if err != nil {
		panic(err)
	}
	return n
}

// Increment returns v+1, or ErrOverflow when v is Max.
func Increment(v Version) (Version, error) {
	n, err := Decode(v)
	if err != nil {
		return "", err
	}
	if n == MaxIndex {
		return "", fmt.Errorf("increment %s: %w", v, ErrOverflow)
	}
	return Encode(n + 1)
}

// Decrement returns v-1, or ErrUnderflow when v is Zero.
func Decrement(v Version) (Version, error) {
	n, err := Decode(v)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", fmt.Errorf("decrement %s: %w", v, ErrUnderflow)
	}
	return Encode(n - 1)
}

// Compare returns -1, 0 or 1. For well-formed versions this is both the
// numeric and the lexicographic order.
func Compare(a, b Version) int {
	return cmp.Compare(string(a), string(b))
}

// IsMultiple reports whether v encodes a multiple of interval.
func IsMultiple(v Version, interval uint64) bool {
	if interval == 0 {
		return false
	}
	return Index(v)%interval == 0
}

// FloorMultiple returns the largest multiple of interval that is <= v.
func FloorMultiple(v Version, interval uint64) Version {
	n := Index(v)
	if interval == 0 {
		return v
	}
	return MustEncode(n - n%interval)
}

// String implements fmt.Stringer.
func (v Version) String() string {
	return string(v)
}

// Ptr returns a pointer to v, for optional anchors.
func (v Version) Ptr() *Version {
	return &v
}

func digitValue(c byte) int {
	return strings.IndexByte(Alphabet, c)
}

func pow(base, exp uint64) uint64 {
	result := uint64(1)
	for i := uint64(0); i < exp; i++ {
		result *= base
	}
	return result
}
