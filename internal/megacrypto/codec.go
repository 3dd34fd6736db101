// Package megacrypto implements the cryptographic building blocks of the MEGA
// protocol: AES key wrapping, attribute blob encryption, password key
// derivation, MPI-framed big integers and the RSA session-id decryption.
//
// The schemes here are fixed by the protocol. Attribute encryption uses a
// zero IV and no authentication; decrypting with the wrong key yields garbage
// rather than an error. Do not substitute stronger primitives.
package megacrypto

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Use errors.Is to check.
var (
	ErrCorrupt = errors.New("megacrypto: corrupt input")
	ErrCrypto  = errors.New("megacrypto: decryption failed")
)

// base64Fixer maps the standard alphabet onto the URL-safe one and drops the
// separators some links carry.
var base64Fixer = strings.NewReplacer("+", "-", "/", "_", ",", "")

// Base64Encode returns URL-safe base64 without padding.
func Base64Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Base64Decode decodes URL-safe base64. Padding and the standard alphabet are
// tolerated.
func Base64Decode(s string) ([]byte, error) {
	s = base64Fixer.Replace(strings.TrimRight(strings.TrimSpace(s), "="))

	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("megacrypto: decoding base64: %w", err)
	}

	return b, nil
}

// BytesToWords converts b into big-endian 32-bit words, zero-padding the
// tail to a word boundary.
func BytesToWords(b []byte) []uint32 {
	n := (len(b) + 3) / 4
	padded := make([]byte, n*4)
	copy(padded, b)

	words := make([]uint32, n)
	for i := range words {
		words[i] = binary.BigEndian.Uint32(padded[i*4:])
	}

	return words
}

// WordsToBytes is the inverse of BytesToWords.
func WordsToBytes(words []uint32) []byte {
	b := make([]byte, len(words)*4)
	for i, w := range words {
		binary.BigEndian.PutUint32(b[i*4:], w)
	}

	return b
}

// WordsToBase64 encodes words as URL-safe base64.
func WordsToBase64(words []uint32) string {
	return Base64Encode(WordsToBytes(words))
}
