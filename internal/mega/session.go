package mega

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tonimelisma/mega-go/internal/megacrypto"
)

// Account key derivation versions reported by prelogin.
const (
	accountVersion1 = 1
	accountVersion2 = 2
)

type preloginRequest struct {
	act
	User string `json:"user"`
}

type preloginResponse struct {
	Version int    `json:"v"`
	Salt    string `json:"s"`
}

type loginRequest struct {
	act
	User     string `json:"user"`
	UserHash string `json:"uh"`
}

type loginResponse struct {
	Key        string `json:"k"`
	PrivateKey string `json:"privk"`
	CSID       string `json:"csid"`
}

// Credentials is the pre-derived material that lets FastLogin skip the
// password derivation.
type Credentials struct {
	Email       string
	PasswordKey []byte
	UserHash    string
}

// Login derives the password key for email and establishes a session.
// The derivation scheme is chosen by a prelogin round trip.
func (c *Client) Login(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	c.logger.Info("logging in", slog.String("email", email))

	version, salt, err := c.prelogin(ctx, email)
	if err != nil {
		return err
	}

	var (
		key      []byte
		userHash string
	)

	switch version {
	case accountVersion2:
		key, userHash = megacrypto.PrepareKeyV2([]byte(password), salt)
	default:
		key = megacrypto.PrepareKey([]byte(password))

		userHash, err = megacrypto.UserHash(email, key)
		if err != nil {
			return fmt.Errorf("%w: computing user hash: %w", ErrCrypto, err)
		}
	}

	return c.FastLogin(ctx, email, key, userHash)
}

// prelogin asks the server which key derivation the account uses. Accounts
// without a v2 salt use the legacy scheme.
func (c *Client) prelogin(ctx context.Context, email string) (int, []byte, error) {
	req := preloginRequest{act: act{A: "us0"}, User: email}

	raw, err := c.request(ctx, req, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("mega: prelogin: %w", err)
	}

	var resp preloginResponse
	if err := decode(req.name(), raw, &resp); err != nil {
		return 0, nil, err
	}

	if resp.Version != accountVersion2 {
		return accountVersion1, nil, nil
	}

	salt, err := megacrypto.Base64Decode(resp.Salt)
	if err != nil || len(salt) == 0 {
		return 0, nil, fmt.Errorf("%w: prelogin salt %q", ErrCorruptResponse, resp.Salt)
	}

	return accountVersion2, salt, nil
}

// FastLogin establishes a session from previously derived credentials:
// unwrap the master key, decrypt the session id with the account's RSA key
// when the server sends one, then fetch the node tree.
func (c *Client) FastLogin(ctx context.Context, email string, passwordKey []byte, userHash string) error {
	c.resetSession()

	req := loginRequest{act: act{A: "us"}, User: email, UserHash: userHash}

	raw, err := c.request(ctx, req, nil)
	if err != nil {
		return fmt.Errorf("mega: login: %w", err)
	}

	var resp loginResponse
	if err := decode(req.name(), raw, &resp); err != nil {
		return err
	}

	if resp.Key == "" {
		return fmt.Errorf("%w: login response missing master key", ErrCorruptResponse)
	}

	wrapped, err := megacrypto.Base64Decode(resp.Key)
	if err != nil {
		return fmt.Errorf("%w: master key: %w", ErrCorruptResponse, err)
	}

	master, err := megacrypto.DecryptKey(wrapped, passwordKey)
	if err != nil {
		return fmt.Errorf("%w: unwrapping master key: %w", ErrCrypto, err)
	}

	s := session{
		email:       email,
		passwordKey: passwordKey,
		userHash:    userHash,
		masterKey:   master,
		reqID:       newRequestID(),
	}

	if resp.PrivateKey != "" && resp.CSID != "" {
		priv, sid, err := decryptSession(resp.PrivateKey, resp.CSID, master)
		if err != nil {
			return err
		}

		s.privateKey = priv
		s.sid = sid
	}

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	c.logger.Info("session established", slog.String("email", email), slog.Bool("has_sid", s.sid != ""))

	if err := c.FetchNodes(ctx); err != nil {
		c.logger.Warn("fetching node tree after login",
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// decryptSession unwraps the private key and uses it to recover the sid.
func decryptSession(privk, csid string, master []byte) (*megacrypto.PrivateKey, string, error) {
	privBytes, err := megacrypto.Base64Decode(privk)
	if err != nil {
		return nil, "", fmt.Errorf("%w: private key: %w", ErrCorruptResponse, err)
	}

	priv, err := megacrypto.DecryptPrivateKey(privBytes, master)
	if err != nil {
		return nil, "", classifyCrypto("private key", err)
	}

	csidBytes, err := megacrypto.Base64Decode(csid)
	if err != nil {
		return nil, "", fmt.Errorf("%w: csid: %w", ErrCorruptResponse, err)
	}

	sid, err := megacrypto.DecryptSessionID(csidBytes, priv)
	if err != nil {
		return nil, "", classifyCrypto("session id", err)
	}

	return priv, sid, nil
}

// classifyCrypto maps megacrypto failures onto the client taxonomy: framing
// problems are corrupt responses, everything else is a crypto failure.
func classifyCrypto(what string, err error) error {
	if errors.Is(err, megacrypto.ErrCorrupt) {
		return fmt.Errorf("%w: %s: %w", ErrCorruptResponse, what, err)
	}

	return fmt.Errorf("%w: %s: %w", ErrCrypto, what, err)
}

func (c *Client) resetSession() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = session{reqID: newRequestID()}
}

// Credentials returns the fast-login material of the current session.
func (c *Client) Credentials() (Credentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.masterKey == nil {
		return Credentials{}, ErrNotLoggedIn
	}

	return Credentials{
		Email:       c.session.email,
		PasswordKey: c.session.passwordKey,
		UserHash:    c.session.userHash,
	}, nil
}

// Email returns the logged-in account, or "" before login.
func (c *Client) Email() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session.email
}

// SessionID returns the current sid, or "" when none was issued.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session.sid
}

// RootID, InboxID and TrashID return the special node handles recorded by
// FetchNodes.
func (c *Client) RootID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session.rootID
}

func (c *Client) InboxID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session.inboxID
}

func (c *Client) TrashID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session.trashID
}

// masterKey returns the session master key or ErrNotLoggedIn.
func (c *Client) masterKey() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.masterKey == nil {
		return nil, ErrNotLoggedIn
	}

	return c.session.masterKey, nil
}

func (c *Client) requestID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session.reqID
}
