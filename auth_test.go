package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/mega-go/internal/megacrypto"
	"github.com/tonimelisma/mega-go/internal/sessionfile"
)

// legacyAccountServer answers prelogin, login, node listing and quota for a
// v1 account without an RSA key.
func legacyAccountServer(t *testing.T, password string) (string, *actionServer) {
	t.Helper()

	master := megacrypto.GenShareKey()

	wrapped, err := megacrypto.EncryptKey(master, megacrypto.PrepareKey([]byte(password)))
	require.NoError(t, err)

	k := megacrypto.Base64Encode(wrapped)

	srv, as := newActionServer(t, func(action map[string]any) string {
		switch action["a"] {
		case "us0":
			return `[{"v":1}]`
		case "us":
			return fmt.Sprintf(`[{"k":%q}]`, k)
		case "f":
			return `[{"f":[{"h":"ROOTHNDL","t":2},{"h":"INBXHNDL","t":3},{"h":"TRSHHNDL","t":4}]}]`
		case "uq":
			return `[{"cstrg":1048576,"mstrg":21474836480}]`
		default:
			return `[{}]`
		}
	})

	return srv.URL, as
}

func withStdin(t *testing.T, input string) {
	t.Helper()

	old := stdin
	stdin = strings.NewReader(input)

	t.Cleanup(func() { stdin = old })
}

func TestLogin_SavesSessionThenWhoamiRestoresIt(t *testing.T) {
	url, as := legacyAccountServer(t, "hunter2")
	env := newCLIEnv(t, url)

	withStdin(t, "hunter2\n")

	_, err := env.run("login", "User@Example.com")
	require.NoError(t, err)

	sf, err := sessionfile.Load(env.session)
	require.NoError(t, err)
	require.NotNil(t, sf)
	assert.Equal(t, "user@example.com", sf.Email)

	info, err := os.Stat(env.session)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(sessionfile.FilePerms), info.Mode().Perm())

	out, err := env.run("whoami", "--json")
	require.NoError(t, err)

	var who whoamiOutput
	require.NoError(t, json.Unmarshal([]byte(out), &who))
	assert.Equal(t, "user@example.com", who.Email)
	assert.Equal(t, "ROOTHNDL", who.Root)
	assert.Equal(t, "TRSHHNDL", who.Trash)
	assert.False(t, who.HasSID)

	// Login ran prelogin; the restored session did not.
	assert.Equal(t, 1, strings.Count(strings.Join(as.Actions(), ","), "us0"))
}

func TestLogin_EmailFromConfigAndPrompt(t *testing.T) {
	url, _ := legacyAccountServer(t, "pw")
	env := newCLIEnv(t, url)

	withStdin(t, "prompted@example.com\npw\n")

	_, err := env.run("login")
	require.NoError(t, err)

	sf, err := sessionfile.Load(env.session)
	require.NoError(t, err)
	assert.Equal(t, "prompted@example.com", sf.Email)
}

func TestLogin_EmptyPasswordFails(t *testing.T) {
	env := newCLIEnv(t, "http://127.0.0.1:1")

	withStdin(t, "\n")

	_, err := env.run("login", "a@example.com")
	require.Error(t, err)

	_, statErr := os.Stat(env.session)
	assert.True(t, os.IsNotExist(statErr))
}

func TestQuota_PrintsHumanSizes(t *testing.T) {
	url, _ := legacyAccountServer(t, "pw")
	env := newCLIEnv(t, url)

	require.NoError(t, sessionfile.Save(env.session, sessionfile.New(
		"q@example.com", megacrypto.PrepareKey([]byte("pw")), "hash")))

	out, err := env.run("quota")
	require.NoError(t, err)
	assert.Contains(t, out, "Used:  1.0 MiB")
	assert.Contains(t, out, "Total: 20 GiB")
}

func TestLogout(t *testing.T) {
	env := newCLIEnv(t, "http://127.0.0.1:1")

	require.NoError(t, sessionfile.Save(env.session, sessionfile.New(
		"x@example.com", megacrypto.GenShareKey(), "hash")))

	_, err := env.run("logout")
	require.NoError(t, err)

	_, statErr := os.Stat(env.session)
	assert.True(t, os.IsNotExist(statErr))

	// Logging out twice is not an error.
	_, err = env.run("logout")
	require.NoError(t, err)
}

func TestWhoami_NotLoggedIn(t *testing.T) {
	env := newCLIEnv(t, "http://127.0.0.1:1")

	_, err := env.run("whoami")
	require.ErrorIs(t, err, errNotLoggedIn)
}
