// Package geotab is a small MyGeotab JSON-RPC client covering what the
// feeder needs: Authenticate, Get and GetFeed.
package geotab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultServer is used when no server is configured.
const DefaultServer = "my.geotab.com"

type Options struct {
	Database string
	UserName string
	Password string
	// Server is a host name, or a full base URL such as http://127.0.0.1:8080.
	Server  string
	Timeout time.Duration
	Logger  *slog.Logger
}

type Client struct {
	database string
	userName string
	password string
	http     *http.Client
	log      *slog.Logger

	// authMu makes concurrent callers share one login.
	authMu sync.Mutex

	mu    sync.Mutex
	base  string
	creds *Credentials
}

func New(opts Options) *Client {
	if opts.Server == "" {
		opts.Server = DefaultServer
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		database: opts.Database,
		userName: opts.UserName,
		password: opts.Password,
		http:     &http.Client{Timeout: opts.Timeout},
		log:      logger.With("component", "geotab"),
		base:     baseURL(opts.Server),
	}
}

func baseURL(server string) string {
	server = strings.TrimRight(server, "/")
	if strings.HasPrefix(server, "http://") || strings.HasPrefix(server, "https://") {
		return server
	}
	return "https://" + server
}

type authResult struct {
	Credentials Credentials `json:"credentials"`
	Path        string      `json:"path"`
}

// Authenticate logs in and keeps the session for later calls. A path other
// than ThisServer moves the client to the server hosting the database.
func (c *Client) Authenticate(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	_, err := c.authenticate(ctx)
	return err
}

// authenticate must be called with authMu held.
func (c *Client) authenticate(ctx context.Context) (Credentials, error) {
	params := map[string]any{
		"database": c.database,
		"userName": c.userName,
		"password": c.password,
	}
	var res authResult
	if err := c.post(ctx, c.endpoint(), "Authenticate", params, &res); err != nil {
		var ae *APIError
		if errors.As(err, &ae) && ae.Name == invalidUserException {
			return Credentials{}, fmt.Errorf("%w: %s", ErrAuthentication, ae.Message)
		}
		return Credentials{}, err
	}
	creds := res.Credentials
	if creds.SessionID == "" {
		return Credentials{}, fmt.Errorf("%w: no session returned", ErrAuthentication)
	}

	c.mu.Lock()
	stored := creds
	c.creds = &stored
	if res.Path != "" && res.Path != "ThisServer" {
		c.base = baseURL(res.Path)
	}
	c.mu.Unlock()
	c.log.Info("authenticated", "database", creds.Database, "user", creds.UserName, "path", res.Path)
	return creds, nil
}

// Get runs Get for typeName and decodes the result list into out.
func (c *Client) Get(ctx context.Context, typeName string, search *Search, out any) error {
	params := map[string]any{"typeName": typeName}
	if search != nil {
		params["search"] = search
	}
	return c.call(ctx, "Get", params, out)
}

// GetFeed returns the records of typeName changed after fromVersion. An
// empty fromVersion starts the feed from search.FromDate when set.
func (c *Client) GetFeed(ctx context.Context, typeName string, search *Search, fromVersion string, resultsLimit int) (FeedResult, error) {
	params := map[string]any{"typeName": typeName}
	if search != nil {
		params["search"] = search
	}
	if fromVersion != "" {
		params["fromVersion"] = fromVersion
	}
	if resultsLimit > 0 {
		params["resultsLimit"] = resultsLimit
	}
	var res FeedResult
	if err := c.call(ctx, "GetFeed", params, &res); err != nil {
		return FeedResult{}, err
	}
	return res, nil
}

// call sends an authenticated request. An expired session is renewed once.
func (c *Client) call(ctx context.Context, method string, params map[string]any, out any) error {
	for attempt := 0; ; attempt++ {
		creds, err := c.session(ctx)
		if err != nil {
			return err
		}
		params["credentials"] = creds
		err = c.post(ctx, c.endpoint(), method, params, out)
		var ae *APIError
		if !errors.As(err, &ae) || ae.Name != invalidUserException {
			return err
		}
		if attempt > 0 {
			return fmt.Errorf("%w: %s", ErrAuthentication, ae.Message)
		}
		c.log.Warn("session rejected, re-authenticating", "method", method)
		c.expire(creds.SessionID)
	}
}

// session returns the current credentials, logging in first when there are
// none. Callers arriving during a login wait for it and reuse its session.
func (c *Client) session(ctx context.Context) (Credentials, error) {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()
	if creds != nil {
		return *creds, nil
	}
	return c.authenticate(ctx)
}

// expire drops the session only if it is still the rejected one, so a
// session renewed by another caller survives.
func (c *Client) expire(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.creds != nil && c.creds.SessionID == sessionID {
		c.creds = nil
	}
}

func (c *Client) endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base + "/apiv1"
}

type rpcRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) post(ctx context.Context, url, method string, params map[string]any, out any) error {
	body, err := json.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("geotab %s: encode request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("geotab %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ConnectivityError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ConnectivityError{Method: method, Err: fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))}
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return &ConnectivityError{Method: method, Err: fmt.Errorf("decode response: %w", err)}
	}
	if rr.Error != nil {
		return &APIError{Method: method, Name: rr.Error.name(), Message: rr.Error.Message}
	}
	if out == nil || len(rr.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return fmt.Errorf("geotab %s: decode result: %w", method, err)
	}
	return nil
}
