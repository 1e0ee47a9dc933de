package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"schooldesk/internal/client/session"
)

// Client is the mobile-side HTTP SDK. It attaches the bearer token to
// every request and, on a 401, coordinates a single refresh through the
// session coordinator before retrying the original request exactly once.
type Client struct {
	baseURL string
	httpc   *http.Client
	store   session.Store
	coord   *session.Coordinator
}

type Option func(*options)

type options struct {
	httpc         *http.Client
	rotateTimeout time.Duration
	onExpired     func()
}

func WithHTTPClient(httpc *http.Client) Option {
	return func(o *options) { o.httpc = httpc }
}

func WithRotateTimeout(d time.Duration) Option {
	return func(o *options) { o.rotateTimeout = d }
}

// WithSessionExpiredHandler registers the hook that routes the app to
// the login screen. It fires once per expired session, no matter how
// many requests were in flight.
func WithSessionExpiredHandler(fn func()) Option {
	return func(o *options) { o.onExpired = fn }
}

func New(baseURL string, store session.Store, opts ...Option) *Client {
	o := &options{
		httpc:         &http.Client{Timeout: 30 * time.Second},
		rotateTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{
		baseURL: baseURL,
		httpc:   o.httpc,
		store:   store,
	}

	coordOpts := []session.CoordinatorOption{session.WithRotateTimeout(o.rotateTimeout)}
	if o.onExpired != nil {
		coordOpts = append(coordOpts, session.WithExpiryNotifier(o.onExpired))
	}
	c.coord = session.NewCoordinator(store, c.rotateSession, coordOpts...)

	return c
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type tokensPayload struct {
	Tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	} `json:"tokens"`
	User struct {
		ID int64 `json:"id"`
	} `json:"user"`
}

// Login authenticates, persists the new pair and opens a fresh session
// generation.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}

	resp, err := c.post(ctx, "/api/v1/auth/login", body, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, env)
	}

	var payload tokensPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return err
	}

	pair := session.Pair{
		AccessToken:  payload.Tokens.AccessToken,
		RefreshToken: payload.Tokens.RefreshToken,
		UserID:       payload.User.ID,
	}
	if err := c.store.Save(pair); err != nil {
		return err
	}
	c.coord.Reset()
	return nil
}

// Logout revokes the refresh credential server-side (best effort) and
// always clears the local pair.
func (c *Client) Logout(ctx context.Context) error {
	pair, _, err := c.coord.Current()
	if err == nil && pair.RefreshToken != "" {
		body, merr := json.Marshal(map[string]string{"refresh_token": pair.RefreshToken})
		if merr == nil {
			if resp, perr := c.post(ctx, "/api/v1/auth/logout", body, ""); perr == nil {
				resp.Body.Close()
			}
		}
	}
	return c.store.Clear()
}

// Do sends an authenticated request. If the access token is rejected,
// it waits on the shared refresh episode and retries once with the new
// token; a second rejection is surfaced, never retried again.
func (c *Client) Do(ctx context.Context, method, path string, reqBody, out any) error {
	var body []byte
	if reqBody != nil {
		var err error
		body, err = json.Marshal(reqBody)
		if err != nil {
			return err
		}
	}

	pair, gen, err := c.coord.Current()
	if err != nil {
		return err
	}

	resp, err := c.send(ctx, method, path, body, pair.AccessToken)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		pair, err = c.coord.Refresh(ctx, gen)
		if err != nil {
			return err
		}

		resp, err = c.send(ctx, method, path, body, pair.AccessToken)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return statusError(resp.StatusCode, env)
	}

	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// rotateSession is the coordinator's network call: it trades the stored
// refresh credential for a new pair. A 401 means the session is gone
// for good; anything else is transient.
func (c *Client) rotateSession(ctx context.Context, current session.Pair) (session.Pair, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": current.RefreshToken})
	if err != nil {
		return session.Pair{}, err
	}

	resp, err := c.post(ctx, "/api/v1/auth/refresh", body, "")
	if err != nil {
		return session.Pair{}, err
	}
	defer resp.Body.Close()

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return session.Pair{}, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		code := "UNAUTHORIZED"
		if env.Error != nil {
			code = env.Error.Code
		}
		return session.Pair{}, fmt.Errorf("refresh rejected (%s): %w", code, session.ErrSessionExpired)
	}
	if resp.StatusCode != http.StatusOK {
		return session.Pair{}, statusError(resp.StatusCode, env)
	}

	var payload tokensPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return session.Pair{}, err
	}

	return session.Pair{
		AccessToken:  payload.Tokens.AccessToken,
		RefreshToken: payload.Tokens.RefreshToken,
		UserID:       current.UserID,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte, token string) (*http.Response, error) {
	return c.send(ctx, http.MethodPost, path, body, token)
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.httpc.Do(req)
}

func decodeEnvelope(r io.Reader) (*envelope, error) {
	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &env, nil
}

func statusError(status int, env *envelope) error {
	if env.Error != nil {
		return fmt.Errorf("http %d: %w", status, env.Error)
	}
	return fmt.Errorf("http %d", status)
}
