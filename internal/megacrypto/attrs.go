package megacrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"fmt"
)

// attrMarker prefixes every plaintext attribute blob.
const attrMarker = "MEGA"

// EncryptAttributes serializes attrs as JSON, prefixes the marker, zero-pads
// to a block boundary and encrypts with AES-CBC under a zero IV.
func EncryptAttributes(attrs any, key []byte) ([]byte, error) {
	js, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("megacrypto: encoding attributes: %w", err)
	}

	plain := append([]byte(attrMarker), js...)
	if r := len(plain) % aes.BlockSize; r != 0 {
		plain = append(plain, make([]byte, aes.BlockSize-r)...)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, plain)

	return out, nil
}

// DecryptAttributes reverses EncryptAttributes and unmarshals the JSON into v.
// A wrong key is reported as ErrCrypto once the marker or JSON fails to parse.
func DecryptAttributes(data, key []byte, v any) error {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return fmt.Errorf("%w: attribute blob of %d bytes", ErrCrypto, len(data))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(plain, data)

	plain = bytes.TrimRight(plain, "\x00")
	if !bytes.HasPrefix(plain, []byte(attrMarker)) {
		return fmt.Errorf("%w: attribute marker missing", ErrCrypto)
	}

	if err := json.Unmarshal(plain[len(attrMarker):], v); err != nil {
		return fmt.Errorf("%w: decoding attributes: %w", ErrCrypto, err)
	}

	return nil
}
