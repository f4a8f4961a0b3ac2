// ABOUTME: Small HTTP client for the coordinator's control API
// ABOUTME: Resolves URL and token from flags, environment and config

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/knyazev692/checkaso/internal/api"
	"github.com/knyazev692/checkaso/internal/config"
)

// EnvToken supplies the control API token when --token is not given.
const EnvToken = "CHECKASO_TOKEN"

type apiClient struct {
	base  string
	token string
	http  *http.Client

	retries    uint64
	retryDelay time.Duration
}

// clientFlags are the connection flags shared by the client commands.
type clientFlags struct {
	configPath string
	url        string
	token      string
}

func (f *clientFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.url, "url", "", "control API URL")
	fs.StringVar(&f.token, "token", "", "control API token")
}

// client builds an apiClient. Flags win over the environment, which wins
// over the config file.
func (f *clientFlags) client() (*apiClient, error) {
	cfg, _, err := config.LoadResolved(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	base := f.url
	if base == "" {
		base = cfg.Control.URL
	}
	token := f.token
	if token == "" {
		token = os.Getenv(EnvToken)
	}
	if token == "" {
		token = cfg.Control.Token
	}
	return newAPIClient(base, token), nil
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},

		retries:    2,
		retryDelay: 500 * time.Millisecond,
	}
}

// do sends a request and decodes a JSON response into out. Non-2xx
// responses become errors carrying the server's message. POSTs carry a
// fresh Idempotency-Key and are retried with it on network errors, 409 and
// 5xx, so a retry is never delivered twice.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}
	key := ""
	if method == http.MethodPost {
		key = uuid.New().String()
	}

	op := func() error {
		retry, err := c.once(ctx, method, path, data, key, out)
		if err != nil && (!retry || key == "" || ctx.Err() != nil) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryDelay
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, c.retries), ctx))
}

type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("%s (HTTP %d)", e.msg, e.code)
	}
	return fmt.Sprintf("HTTP %d", e.code)
}

// once makes a single attempt and reports whether a failure may be retried.
func (c *apiClient) once(ctx context.Context, method, path string, data []byte, key string, out any) (bool, error) {
	var reader io.Reader
	if data != nil {
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return true, fmt.Errorf("contacting coordinator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		retry := resp.StatusCode == http.StatusConflict || resp.StatusCode >= 500
		return retry, &statusError{code: resp.StatusCode, msg: apiErr.Error}
	}

	if out == nil {
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decoding response: %w", err)
	}
	return false, nil
}

func (c *apiClient) Agents(ctx context.Context) (*api.AgentsResponse, error) {
	var resp api.AgentsResponse
	if err := c.do(ctx, http.MethodGet, "/api/agents", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Send(ctx context.Context, hostname, text string) error {
	path := "/api/agents/" + url.PathEscape(hostname) + "/message"
	return c.do(ctx, http.MethodPost, path, api.MessageRequest{Text: text}, &api.CommandResponse{})
}

func (c *apiClient) Check(ctx context.Context, hostname string) error {
	path := "/api/agents/" + url.PathEscape(hostname) + "/check"
	return c.do(ctx, http.MethodPost, path, nil, &api.CommandResponse{})
}

func (c *apiClient) Broadcast(ctx context.Context, text string, hostnames []string) (*api.BroadcastResponse, error) {
	var resp api.BroadcastResponse
	req := api.BroadcastRequest{Text: text, Hostnames: hostnames}
	if err := c.do(ctx, http.MethodPost, "/api/broadcast", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) History(ctx context.Context, hostname, kind string, limit int) (*api.HistoryResponse, error) {
	q := url.Values{}
	if hostname != "" {
		q.Set("hostname", hostname)
	}
	if kind != "" {
		q.Set("kind", kind)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/api/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp api.HistoryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
