// Package namedhash fingerprints containers with Subresource Integrity strings such as "sha256-<base64>".
package namedhash

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"hash"
	"io"
	"strings"
)

// DefaultAlgorithm is the hash function used by Sum.
const DefaultAlgorithm = "sha256"

// NamedHash is a hash.Hash with a name that can be used to prefix the string [hash.Hash.Sum].
//
// For example, [sha256] hashes would show up as "sha256-abcd".
type NamedHash struct {
	hash.Hash

	// Name is used to prefix SumToString in format "name-encodedSum".
	Name string
}

// New returns a NamedHash for one of the supported hash functions: "sha1", "sha256", "sha384", or "sha512".
func New(name string) (*NamedHash, error) {
	switch name {
	case "sha1":
		return &NamedHash{Hash: sha1.New(), Name: name}, nil
	case "sha256":
		return &NamedHash{Hash: sha256.New(), Name: name}, nil
	case "sha384":
		return &NamedHash{Hash: sha512.New384(), Name: name}, nil
	case "sha512":
		return &NamedHash{Hash: sha512.New(), Name: name}, nil
	default:
		return nil, fmt.Errorf("unknown hash function %q", name)
	}
}

// NewFromChecksumString detects the hash function from the prefix of the checksum string.
func NewFromChecksumString(v string) (*NamedHash, error) {
	if v == "" {
		return nil, fmt.Errorf("empty checksum string")
	}

	name, _, ok := strings.Cut(v, "-")
	if !ok {
		return nil, fmt.Errorf("checksum string %q has no hash function prefix", v)
	}

	return New(name)
}

// SumToString sums and encodes the checksum as a string that can be used as a subresource integrity.
//
// See https://developer.mozilla.org/en-US/docs/Web/Security/Subresource_Integrity for format.
func (h *NamedHash) SumToString(b []byte) string {
	return h.Name + "-" + base64.StdEncoding.EncodeToString(h.Sum(b))
}

// Sum returns the DefaultAlgorithm fingerprint of everything read from r.
func Sum(r io.Reader) (string, int64, error) {
	h, _ := New(DefaultAlgorithm)
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}

	return h.SumToString(nil), n, nil
}

// Verify returns true if the content of r matches the expected checksum string.
//
// The hash function is detected from the prefix of expected.
func Verify(expected string, r io.Reader) (bool, error) {
	h, err := NewFromChecksumString(expected)
	if err != nil {
		return false, err
	}

	if _, err = io.Copy(h, r); err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare([]byte(h.SumToString(nil)), []byte(expected)) == 1, nil
}
