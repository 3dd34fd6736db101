package megacrypto

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// SessionIDLength is the number of decrypted bytes that form a session id.
const SessionIDLength = 43

// mpiHeaderLen is the size of the bit-length prefix of an MPI.
const mpiHeaderLen = 2

// ReadMPI parses one MPI from the front of b and returns it with the
// remaining bytes.
func ReadMPI(b []byte) (*big.Int, []byte, error) {
	if len(b) < mpiHeaderLen {
		return nil, nil, fmt.Errorf("%w: MPI header truncated", ErrCorrupt)
	}

	bits := int(binary.BigEndian.Uint16(b))
	n := (bits + 7) / 8

	if len(b) < mpiHeaderLen+n {
		return nil, nil, fmt.Errorf("%w: MPI of %d bits needs %d bytes, have %d",
			ErrCorrupt, bits, n, len(b)-mpiHeaderLen)
	}

	end := mpiHeaderLen + n

	return new(big.Int).SetBytes(b[mpiHeaderLen:end]), b[end:], nil
}

// EncodeMPI frames x as an MPI.
func EncodeMPI(x *big.Int) []byte {
	mag := x.Bytes()
	out := make([]byte, mpiHeaderLen+len(mag))
	binary.BigEndian.PutUint16(out, uint16(x.BitLen())) //nolint:gosec // protocol MPIs are below 64 Kbit
	copy(out[mpiHeaderLen:], mag)

	return out
}

// PrivateKey holds the RSA components sent by the server: the primes p and
// q, the private exponent d and the CRT coefficient u.
type PrivateKey struct {
	P, Q, D, U *big.Int
}

// ParsePrivateKey reads the four MPIs of an unwrapped private key. Trailing
// bytes are block padding and are ignored.
func ParsePrivateKey(b []byte) (*PrivateKey, error) {
	parts := make([]*big.Int, 4)

	rest := b
	for i := range parts {
		x, r, err := ReadMPI(rest)
		if err != nil {
			return nil, fmt.Errorf("megacrypto: private key component %d: %w", i, err)
		}

		parts[i], rest = x, r
	}

	return &PrivateKey{P: parts[0], Q: parts[1], D: parts[2], U: parts[3]}, nil
}

// DecryptPrivateKey unwraps privk with the master key and parses it.
func DecryptPrivateKey(privk, master []byte) (*PrivateKey, error) {
	plain, err := DecryptKey(privk, master)
	if err != nil {
		return nil, err
	}

	return ParsePrivateKey(plain)
}

// Decrypt returns c^d mod pq.
func (k *PrivateKey) Decrypt(c *big.Int) *big.Int {
	n := new(big.Int).Mul(k.P, k.Q)

	return new(big.Int).Exp(c, k.D, n)
}

// DecryptSessionID decrypts the MPI-framed csid and returns the session id
// as URL-safe base64 of its first SessionIDLength bytes.
func DecryptSessionID(csid []byte, key *PrivateKey) (string, error) {
	c, _, err := ReadMPI(csid)
	if err != nil {
		return "", fmt.Errorf("megacrypto: session id: %w", err)
	}

	m := key.Decrypt(c).Bytes()
	if len(m) < SessionIDLength {
		return "", fmt.Errorf("%w: session id decrypted to %d bytes", ErrCrypto, len(m))
	}

	return Base64Encode(m[:SessionIDLength]), nil
}
