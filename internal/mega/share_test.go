package mega

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/mega-go/internal/megacrypto"
)

func TestPublicFileLink(t *testing.T) {
	t.Parallel()

	srv, api := newFakeAPI(t, func(apiCall) (int, string) {
		return ok(`["EXPORTED"]`)
	})

	c, _ := newLoggedInClient(t, srv.URL)
	nodeKey := append(megacrypto.GenShareKey(), megacrypto.GenShareKey()...)

	link, err := c.PublicFileLink(context.Background(), "FILEHNDL", nodeKey)
	require.NoError(t, err)
	assert.Equal(t, "https://mega.nz/#!EXPORTED!"+megacrypto.Base64Encode(nodeKey), link)

	call := api.Calls()[0]
	assert.Equal(t, "l", call.name())
	assert.Equal(t, "FILEHNDL", call.Action["n"])
	assert.NotContains(t, call.Action, "i")
}

func TestPublicFolderLink(t *testing.T) {
	t.Parallel()

	srv, api := newFakeAPI(t, func(apiCall) (int, string) {
		return ok(`["FOLDEXPD"]`)
	})

	c, _ := newLoggedInClient(t, srv.URL)
	folderKey := megacrypto.GenShareKey()

	link, err := c.PublicFolderLink(context.Background(), "DIRHNDL1", folderKey)
	require.NoError(t, err)
	assert.Equal(t, "https://mega.nz/#F!FOLDEXPD!"+megacrypto.Base64Encode(folderKey), link)

	parsed, err := ParseLink(link)
	require.NoError(t, err)
	assert.Equal(t, LinkFolder, parsed.Type)
	assert.Equal(t, "FOLDEXPD", parsed.Handle)

	assert.Equal(t, c.requestID(), api.Calls()[0].Action["i"])
}

func TestPublicFileLink_EmptyHandleIsCorrupt(t *testing.T) {
	t.Parallel()

	srv, _ := newFakeAPI(t, func(apiCall) (int, string) {
		return ok(`[""]`)
	})

	c, _ := newLoggedInClient(t, srv.URL)

	_, err := c.PublicFileLink(context.Background(), "FILEHNDL", megacrypto.GenShareKey())
	require.ErrorIs(t, err, ErrCorruptResponse)
}

func TestShareFolder(t *testing.T) {
	t.Parallel()

	srv, api := newFakeAPI(t, func(apiCall) (int, string) {
		return ok(`[0]`)
	})

	c, master := newLoggedInClient(t, srv.URL)
	nodeKey := megacrypto.GenFolderKey()
	shareKey := megacrypto.GenShareKey()

	require.NoError(t, c.ShareFolder(context.Background(), "DIRHNDL1", nodeKey, shareKey))

	call := api.Calls()[0]
	assert.Equal(t, "s2", call.name())
	assert.Equal(t, "DIRHNDL1", call.Action["n"])
	assert.Equal(t, c.requestID(), call.Action["i"])
	assert.Equal(t, []any{map[string]any{"u": "EXP", "r": float64(0)}}, call.Action["s"])
	assert.Equal(t, shareKey, unwrap(t, call.Action["ok"], master))

	ha, err := megacrypto.HandleAuth("DIRHNDL1", master)
	require.NoError(t, err)
	assert.Equal(t, megacrypto.Base64Encode(ha), call.Action["ha"])

	cr, ok := call.Action["cr"].([]any)
	require.True(t, ok)
	require.Len(t, cr, 3)
	assert.Equal(t, []any{"DIRHNDL1"}, cr[0])
	assert.Equal(t, []any{"DIRHNDL1"}, cr[1])

	triple, ok := cr[2].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{float64(0), float64(0)}, triple[:2])
	assert.Equal(t, nodeKey, unwrap(t, triple[2], shareKey))
}

func TestShareFolder_BadNodeKey(t *testing.T) {
	t.Parallel()

	srv, api := newFakeAPI(t, func(apiCall) (int, string) {
		return ok(`[0]`)
	})

	c, _ := newLoggedInClient(t, srv.URL)

	err := c.ShareFolder(context.Background(), "DIRHNDL1", []byte{1, 2, 3}, megacrypto.GenShareKey())
	require.ErrorIs(t, err, ErrCrypto)
	assert.Empty(t, api.Calls())
}
