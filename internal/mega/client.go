package mega

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/tonimelisma/mega-go/internal/megacrypto"
)

// DefaultAPIURL is the production API endpoint.
const DefaultAPIURL = "https://g.api.mega.co.nz"

// Retry and request constants.
const (
	maxBackoff       = 64 * time.Second
	maxBackoffShift  = 6
	defaultUserAgent = "mega-go/0.1"
	reqIDLength      = 10
	reqIDAlphabet    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// errorCodeRe matches a bare negative error code, optionally inside a
// single-element array.
var errorCodeRe = regexp.MustCompile(`^\[?(-[0-9]+)\]?$`)

// action is implemented by every request payload through the embedded act.
type action interface {
	name() string
}

// act carries the "a" field of an action packet.
type act struct {
	A string `json:"a"`
}

func (a act) name() string { return a.A }

// session is the mutable state of one logged-in identity.
type session struct {
	email       string
	passwordKey []byte
	userHash    string
	masterKey   []byte
	privateKey  *megacrypto.PrivateKey
	sid         string
	rootID      string
	inboxID     string
	trashID     string
	reqID       string
}

// Client talks to the MEGA API on behalf of one session. Calls are
// serialized: each holds the client lock for its whole retry episode, so one
// Client per session is the unit of concurrency.
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	seq     uint32
	session session
}

// NewClient creates an API client. baseURL is typically DefaultAPIURL.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		baseURL:    baseURL,
		userAgent:  userAgent,
		httpClient: httpClient,
		logger:     logger,
		sleepFunc:  timeSleep,
		seq:        rand.Uint32(), //nolint:gosec // sequence start only needs to be unpredictable-ish
		session:    session{reqID: newRequestID()},
	}
}

// SetAPIKey sets the application key sent as the "ak" query parameter.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.apiKey = key
}

// Seq returns the sequence number the next attempt will use.
func (c *Client) Seq() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.seq
}

// request posts one action packet and returns the first element of the
// response array. Transport failures and negative error codes are retried
// forever with retryWait backoff; only a canceled context or a corrupt
// response ends the loop early.
func (c *Client) request(ctx context.Context, a action, query url.Values) (json.RawMessage, error) {
	body, err := json.Marshal([]action{a})
	if err != nil {
		return nil, fmt.Errorf("mega: encoding %q request: %w", a.name(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var attempt int
	for {
		raw, err := c.doOnce(ctx, a.name(), body, query)
		if err == nil {
			if attempt > 0 {
				c.logger.Debug("request succeeded after retries",
					slog.String("action", a.name()),
					slog.Int("attempts", attempt+1),
				)
			}

			return raw, nil
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("mega: request canceled: %w", ctx.Err())
		}

		if !retryable(err) {
			return nil, err
		}

		backoff := retryWait(attempt)
		c.logger.Warn("retrying action",
			slog.String("action", a.name()),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
			return nil, fmt.Errorf("mega: request canceled: %w", sleepErr)
		}

		attempt++
	}
}

// doOnce performs a single attempt. The sequence number advances whenever
// the server produced a response, whatever its content.
func (c *Client) doOnce(ctx context.Context, name string, body []byte, query url.Values) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(query), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", ErrTransport, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrTransport, resp.StatusCode)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrTransport)
	}

	c.seq++

	return parseResponse(name, data)
}

// endpoint builds the action URL for the current attempt. Caller holds c.mu.
func (c *Client) endpoint(query url.Values) string {
	q := url.Values{}
	q.Set("id", strconv.FormatUint(uint64(c.seq), 10))

	if c.session.sid != "" {
		q.Set("sid", c.session.sid)
	}

	if c.apiKey != "" {
		q.Set("ak", c.apiKey)
	}

	for k, v := range query {
		q[k] = v
	}

	return c.baseURL + "/cs?" + q.Encode()
}

// parseResponse classifies a response body: a bare negative integer is a
// ProtocolError, a JSON array yields its first element, anything else is
// corrupt.
func parseResponse(name string, data []byte) (json.RawMessage, error) {
	if m := errorCodeRe.FindSubmatch(data); m != nil {
		code, err := strconv.Atoi(string(m[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: error code %q: %w", ErrCorruptResponse, m[1], err)
		}

		return nil, &ProtocolError{Code: code, Action: name}
	}

	var results []json.RawMessage
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("%w: action %q: %w", ErrCorruptResponse, name, err)
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("%w: action %q: empty result array", ErrCorruptResponse, name)
	}

	return results[0], nil
}

// retryable reports whether the retry loop should try again after err.
// Every server error code is retried, including ones that will never
// succeed such as access denied; the protocol reports busy and denied the
// same way at this layer.
func retryable(err error) bool {
	var pe *ProtocolError

	return errors.Is(err, ErrTransport) || errors.As(err, &pe)
}

// retryWait returns min(2^attempt, 64) seconds.
func retryWait(attempt int) time.Duration {
	if attempt >= maxBackoffShift {
		return maxBackoff
	}

	return time.Second << attempt
}

// decode unmarshals a result element, mapping failures to ErrCorruptResponse.
func decode(name string, raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: action %q: %w", ErrCorruptResponse, name, err)
	}

	return nil
}

// newRequestID returns a random correlation id for node-creation actions.
func newRequestID() string {
	b := make([]byte, reqIDLength)
	for i := range b {
		b[i] = reqIDAlphabet[rand.IntN(len(reqIDAlphabet))] //nolint:gosec // correlation id, not a secret
	}

	return string(b)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
