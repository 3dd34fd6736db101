package megacrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Key sizes used by the protocol.
const (
	KeySize     = aes.BlockSize // master, folder, share and attribute keys
	FileKeySize = 2 * KeySize   // file node keys carry IV and MAC words
	UploadWords = 6             // upload key: 4 key words + 2 nonce words
)

// Derivation parameters.
const (
	passwordRounds = 0x10000
	userHashRounds = 0x4000
	v2Iterations   = 100000
	v2KeyLength    = 32
)

// passwordSeed is the fixed initial key for v1 password derivation.
var passwordSeed = []uint32{0x93C467E3, 0x7DB0C7A4, 0xD1BE3F81, 0x0152CB56}

// EncryptKey wraps data under key with AES-ECB and no padding. data must be a
// whole number of blocks.
func EncryptKey(data, key []byte) ([]byte, error) {
	return ecb(data, key, true)
}

// DecryptKey unwraps data produced by EncryptKey.
func DecryptKey(data, key []byte) ([]byte, error) {
	return ecb(data, key, false)
}

func ecb(data, key []byte, encrypt bool) ([]byte, error) {
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: key material of %d bytes is not block aligned", ErrCrypto, len(data))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += aes.BlockSize {
		if encrypt {
			block.Encrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
		} else {
			block.Decrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
		}
	}

	return out, nil
}

// PrepareKey derives the v1 password key: the seed is encrypted 65536 times
// with every 16-byte block of the password in turn.
func PrepareKey(password []byte) []byte {
	pw := WordsToBytes(BytesToWords(password))

	blocks := make([]cipher.Block, 0, (len(pw)+aes.BlockSize-1)/aes.BlockSize)
	for i := 0; i < len(pw); i += aes.BlockSize {
		k := make([]byte, aes.BlockSize)
		copy(k, pw[i:])

		// A 16-byte key never fails.
		block, _ := aes.NewCipher(k)
		blocks = append(blocks, block)
	}

	pkey := WordsToBytes(passwordSeed)
	for range passwordRounds {
		for _, block := range blocks {
			block.Encrypt(pkey, pkey)
		}
	}

	return pkey
}

// UserHash computes the v1 login hash of email under the derived password key.
func UserHash(email string, key []byte) (string, error) {
	words := BytesToWords([]byte(strings.ToLower(email)))

	h := make([]uint32, 4)
	for i, w := range words {
		h[i%4] ^= w
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	hb := WordsToBytes(h)
	for range userHashRounds {
		block.Encrypt(hb, hb)
	}

	hw := BytesToWords(hb)

	return WordsToBase64([]uint32{hw[0], hw[2]}), nil
}

// PrepareKeyV2 derives the password key and user hash for v2 accounts from
// the salt returned by prelogin.
func PrepareKeyV2(password, salt []byte) (key []byte, userHash string) {
	dk := pbkdf2.Key(password, salt, v2Iterations, v2KeyLength, sha512.New)

	return dk[:KeySize], Base64Encode(dk[KeySize:])
}

// DecodeLinkKey reduces decoded key material to a 16-byte AES key. File keys
// (32 bytes or more) are XOR-folded; shorter keys keep their first 16 bytes.
func DecodeLinkKey(b []byte) []byte {
	k := make([]byte, KeySize)
	if len(b) < FileKeySize {
		copy(k, b)
		return k
	}

	for i := range KeySize {
		k[i] = b[i] ^ b[i+KeySize]
	}

	return k
}

// DecodeLinkKeyString base64-decodes s and applies DecodeLinkKey.
func DecodeLinkKeyString(s string) ([]byte, error) {
	b, err := Base64Decode(s)
	if err != nil {
		return nil, err
	}

	return DecodeLinkKey(b), nil
}

// HandleAuth returns the share handle-authentication tag: the node handle
// written twice and wrapped under the master key.
func HandleAuth(handle string, master []byte) ([]byte, error) {
	return EncryptKey([]byte(handle+handle), master)
}

// GenUploadKey returns a fresh random upload key.
func GenUploadKey() []uint32 {
	return BytesToWords(randomBytes(UploadWords * 4))
}

// GenFolderKey returns a fresh random folder node key.
func GenFolderKey() []byte {
	return randomBytes(KeySize)
}

// GenShareKey returns a fresh random share key.
func GenShareKey() []byte {
	return randomBytes(KeySize)
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b) // never fails since Go 1.24

	return b
}
