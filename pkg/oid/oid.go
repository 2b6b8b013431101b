// Package oid implements the 20-byte object identifier used throughout
// gitgres: parsing and formatting against its 40-character hex form,
// ordering, hashing, and the canonical git object hash.
package oid

import (
	"crypto/sha1"
	"strconv"

	"github.com/andrewpi/gitgres/pkg/dbsession"
)

// Size is the length of an OID in raw bytes.
const Size = 20

// HexSize is the length of an OID in its textual hex form.
const HexSize = 40

// ErrClass tags this package's genuine input-syntax errors (a non-hex
// character, an unrecognized object type name) as invalid-input. Wrong
// lengths and truncated wire data are dbsession.Corruption instead, per
// the error taxonomy.
var ErrClass = dbsession.InvalidInput

// OID is a fixed-width 20-byte SHA-1 identifier. The zero value is not a
// valid object ID and is reserved for "absent" in optional-OID contexts.
type OID [Size]byte

// Parse decodes a 40-character hex string into an OID. Input is
// case-insensitive; output of String is always lowercase. Any length
// other than 40 is a corruption error; any non-hex character is an
// invalid-input error.
func Parse(s string) (OID, error) {
	var out OID
	if len(s) != HexSize {
		return out, dbsession.Corruption.New("invalid git OID: must be exactly 40 hex characters, got %d", len(s))
	}
	for i := 0; i < Size; i++ {
		hi, ok1 := hexNibble(s[i*2])
		lo, ok2 := hexNibble(s[i*2+1])
		if !ok1 || !ok2 {
			return out, ErrClass.New("invalid hex character in git OID %q", s)
		}
		out[i] = byte(hi<<4 | lo)
	}
	return out, nil
}

// MustParse is Parse but panics on error; meant for constants and tests.
func MustParse(s string) OID {
	o, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return o
}

func hexNibble(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	default:
		return 0, false
	}
}

const hexDigits = "0123456789abcdef"

// String renders the OID as 40 lowercase hex characters.
func (o OID) String() string {
	buf := make([]byte, HexSize)
	for i, b := range o {
		buf[i*2] = hexDigits[b>>4]
		buf[i*2+1] = hexDigits[b&0xf]
	}
	return string(buf)
}

// Bytes returns the OID's raw 20 bytes as a fresh slice.
func (o OID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, o[:])
	return b
}

// FromBytes copies a 20-byte slice into an OID. A slice of any other
// length is a corruption error.
func FromBytes(b []byte) (OID, error) {
	var out OID
	if len(b) != Size {
		return out, dbsession.Corruption.New("invalid git OID: must be exactly %d bytes, got %d", Size, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// IsZero reports whether this is the zero-value OID, used to represent
// an absent old/new OID in reflog and CAS contexts.
func (o OID) IsZero() bool {
	return o == OID{}
}

// Compare returns -1, 0, or 1 by unsigned byte-lex order, matching the
// ordering contract on the custom database OID type.
func (o OID) Compare(other OID) int {
	for i := range o {
		if o[i] != other[i] {
			if o[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Less reports whether o sorts strictly before other.
func (o OID) Less(other OID) bool {
	return o.Compare(other) < 0
}

// Hash32 is a stable 32-bit hash suitable for in-memory indexing. It is
// derived by folding the 20-byte value with FNV-1a, independent of the
// 64-bit advisory-lock hash used by the refdb backend.
func (o OID) Hash32() uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	h := uint32(offset32)
	for _, b := range o {
		h ^= uint32(b)
		h *= prime32
	}
	return h
}

// ObjectHash computes the canonical git object ID: SHA1("<type-name>
// <size>\0<content>"). typeName must be one of commit, tree, blob, tag.
func ObjectHash(typeName string, content []byte) (OID, error) {
	switch typeName {
	case "commit", "tree", "blob", "tag":
	default:
		return OID{}, ErrClass.New("invalid git object type: %q", typeName)
	}
	header := typeName + " " + strconv.Itoa(len(content))
	h := sha1.New()
	h.Write([]byte(header))
	h.Write([]byte{0})
	h.Write(content)
	sum := h.Sum(nil)
	var out OID
	copy(out[:], sum)
	return out, nil
}

// HexPrefixByteLen returns the number of leading bytes that fully
// contain a hex prefix of length hexLen, per read-prefix's matching
// rule: ceil(hexLen/2). Odd lengths intentionally over-match by a
// nibble; callers disambiguate by full OID.
func HexPrefixByteLen(hexLen int) int {
	return (hexLen + 1) / 2
}
