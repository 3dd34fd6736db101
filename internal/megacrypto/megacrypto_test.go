package megacrypto

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase64_RoundTripAndTolerance(t *testing.T) {
	t.Parallel()

	data := []byte{0xfb, 0xff, 0x00, 0x10, 0x20}
	enc := Base64Encode(data)
	assert.NotContains(t, enc, "=")
	assert.NotContains(t, enc, "+")

	got, err := Base64Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Standard alphabet with padding decodes to the same bytes.
	got, err = Base64Decode("+/8AECA=")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = Base64Decode("!!!")
	assert.Error(t, err)
}

func TestWords_PadAndRoundTrip(t *testing.T) {
	t.Parallel()

	words := BytesToWords([]byte{0x01, 0x02, 0x03, 0x04, 0x05})
	assert.Equal(t, []uint32{0x01020304, 0x05000000}, words)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 0, 0, 0}, WordsToBytes(words))
	assert.Empty(t, BytesToWords(nil))
}

func TestEncryptKey_RoundTrip(t *testing.T) {
	t.Parallel()

	master := GenShareKey()
	nodeKey := randomBytes(FileKeySize)

	wrapped, err := EncryptKey(nodeKey, master)
	require.NoError(t, err)
	assert.Len(t, wrapped, FileKeySize)
	assert.NotEqual(t, nodeKey, wrapped)

	// ECB: each block is wrapped independently.
	first, err := EncryptKey(nodeKey[:KeySize], master)
	require.NoError(t, err)
	assert.Equal(t, first, wrapped[:KeySize])

	unwrapped, err := DecryptKey(wrapped, master)
	require.NoError(t, err)
	assert.Equal(t, nodeKey, unwrapped)
}

func TestEncryptKey_RejectsUnalignedInput(t *testing.T) {
	t.Parallel()

	_, err := EncryptKey(make([]byte, 15), GenShareKey())
	require.ErrorIs(t, err, ErrCrypto)

	_, err = DecryptKey(make([]byte, 16), []byte("short"))
	require.ErrorIs(t, err, ErrCrypto)
}

func TestAttributes_RoundTrip(t *testing.T) {
	t.Parallel()

	key := GenFolderKey()
	attrs := map[string]any{"n": "holiday photos ü.zip"}

	enc, err := EncryptAttributes(attrs, key)
	require.NoError(t, err)
	assert.Zero(t, len(enc)%KeySize)

	var got map[string]any
	require.NoError(t, DecryptAttributes(enc, key, &got))
	assert.Equal(t, attrs, got)
}

func TestAttributes_ExactBlockNeedsNoPadding(t *testing.T) {
	t.Parallel()

	// "MEGA" + {"n":"abcdefghijklmnopqrst"} is 32 bytes.
	enc, err := EncryptAttributes(map[string]string{"n": "abcdefghijklmnopqrst"}, GenFolderKey())
	require.NoError(t, err)
	assert.Len(t, enc, 32)
}

func TestAttributes_WrongKeyIsCryptoFailure(t *testing.T) {
	t.Parallel()

	enc, err := EncryptAttributes(map[string]string{"n": "a.txt"}, GenFolderKey())
	require.NoError(t, err)

	var got map[string]string
	err = DecryptAttributes(enc, GenFolderKey(), &got)
	require.ErrorIs(t, err, ErrCrypto)

	err = DecryptAttributes(enc[:5], GenFolderKey(), &got)
	require.ErrorIs(t, err, ErrCrypto)
}

func TestDecodeLinkKey(t *testing.T) {
	t.Parallel()

	short := randomBytes(KeySize)
	assert.Equal(t, short, DecodeLinkKey(short))

	full := randomBytes(FileKeySize)
	folded := DecodeLinkKey(full)
	require.Len(t, folded, KeySize)

	for i := range KeySize {
		assert.Equal(t, full[i]^full[i+KeySize], folded[i])
	}

	// Shorter material is zero padded.
	assert.Equal(t, []byte{1, 2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, DecodeLinkKey([]byte{1, 2}))

	fromString, err := DecodeLinkKeyString(Base64Encode(full))
	require.NoError(t, err)
	assert.Equal(t, folded, fromString)
}

func TestPrepareKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, WordsToBytes(passwordSeed), PrepareKey(nil), "no password blocks leaves the seed")

	a := PrepareKey([]byte("correct horse"))
	b := PrepareKey([]byte("correct horse"))
	c := PrepareKey([]byte("correct horsf"))

	assert.Len(t, a, KeySize)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	// Passwords longer than one block use every block.
	long1 := PrepareKey([]byte("0123456789abcdefX"))
	long2 := PrepareKey([]byte("0123456789abcdefY"))
	assert.NotEqual(t, long1, long2)
}

func TestUserHash(t *testing.T) {
	t.Parallel()

	key := PrepareKey([]byte("secret"))

	h1, err := UserHash("User@Example.com", key)
	require.NoError(t, err)

	h2, err := UserHash("user@example.com", key)
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "email is case-insensitive")
	assert.Len(t, h1, 11, "two words encode to 11 base64 characters")

	other, err := UserHash("user@example.com", PrepareKey([]byte("other")))
	require.NoError(t, err)
	assert.NotEqual(t, h1, other)
}

func TestPrepareKeyV2(t *testing.T) {
	t.Parallel()

	salt := []byte("0123456789abcdef0123456789abcdef")

	key, hash := PrepareKeyV2([]byte("secret"), salt)
	assert.Len(t, key, KeySize)

	raw, err := Base64Decode(hash)
	require.NoError(t, err)
	assert.Len(t, raw, KeySize)

	key2, hash2 := PrepareKeyV2([]byte("secret"), salt)
	assert.Equal(t, key, key2)
	assert.Equal(t, hash, hash2)
}

func TestReadMPI(t *testing.T) {
	t.Parallel()

	// 9 bits -> 2 magnitude bytes.
	x, rest, err := ReadMPI([]byte{0x00, 0x09, 0x01, 0xff, 0xaa})
	require.NoError(t, err)
	assert.Equal(t, int64(0x1ff), x.Int64())
	assert.Equal(t, []byte{0xaa}, rest)

	// Zero bits -> empty magnitude.
	x, rest, err = ReadMPI([]byte{0x00, 0x00})
	require.NoError(t, err)
	assert.Zero(t, x.Sign())
	assert.Empty(t, rest)

	_, _, err = ReadMPI([]byte{0x00})
	require.ErrorIs(t, err, ErrCorrupt)

	_, _, err = ReadMPI([]byte{0x00, 0x10, 0x01})
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestEncodeMPI_RoundTrip(t *testing.T) {
	t.Parallel()

	x := new(big.Int).SetBytes(randomBytes(64))
	got, rest, err := ReadMPI(EncodeMPI(x))
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, 0, x.Cmp(got))
}

// wrapPrivateKey frames the RSA components the way the server stores them
// and wraps them under master.
func wrapPrivateKey(t *testing.T, key *rsa.PrivateKey, master []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.Write(EncodeMPI(key.Primes[0]))
	buf.Write(EncodeMPI(key.Primes[1]))
	buf.Write(EncodeMPI(key.D))
	buf.Write(EncodeMPI(key.Precomputed.Qinv))

	if r := buf.Len() % KeySize; r != 0 {
		buf.Write(make([]byte, KeySize-r))
	}

	wrapped, err := EncryptKey(buf.Bytes(), master)
	require.NoError(t, err)

	return wrapped
}

func TestDecryptSessionID(t *testing.T) {
	t.Parallel()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	rsaKey.Precompute()

	master := GenShareKey()

	priv, err := DecryptPrivateKey(wrapPrivateKey(t, rsaKey, master), master)
	require.NoError(t, err)
	assert.Equal(t, 0, priv.P.Cmp(rsaKey.Primes[0]))
	assert.Equal(t, 0, priv.D.Cmp(rsaKey.D))

	plain := append([]byte{0x01}, randomBytes(99)...)
	m := new(big.Int).SetBytes(plain)
	c := new(big.Int).Exp(m, big.NewInt(int64(rsaKey.E)), rsaKey.N)

	sid, err := DecryptSessionID(EncodeMPI(c), priv)
	require.NoError(t, err)
	assert.Equal(t, Base64Encode(plain[:SessionIDLength]), sid)
}

func TestParsePrivateKey_Truncated(t *testing.T) {
	t.Parallel()

	_, err := ParsePrivateKey([]byte{0x00, 0x08, 0x05, 0x00, 0x08})
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestHandleAuth(t *testing.T) {
	t.Parallel()

	master := GenShareKey()

	tag, err := HandleAuth("abcdEFGH", master)
	require.NoError(t, err)

	plain, err := DecryptKey(tag, master)
	require.NoError(t, err)
	assert.Equal(t, "abcdEFGHabcdEFGH", string(plain))
}

func TestGenerators(t *testing.T) {
	t.Parallel()

	assert.Len(t, GenUploadKey(), UploadWords)
	assert.Len(t, GenFolderKey(), KeySize)
	assert.Len(t, GenShareKey(), KeySize)
	assert.NotEqual(t, GenShareKey(), GenShareKey())
}
