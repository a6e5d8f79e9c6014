package citizenos

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/citizenos-connect/pkg/errors"
)

// DefaultTimeout bounds every outbound call
const DefaultTimeout = 5 * time.Second

// DefaultUserInfoPath is the profile endpoint of the signed-in user
const DefaultUserInfoPath = "/api/users/self"

// DefaultCategories are attached to every topic created through the client
var DefaultCategories = []string{"thetwelvemovie"}

// Client talks to the Citizen OS API on behalf of one partner site. A Client
// is cheap to copy; use ForToken to get a per-request client for a visitor.
type Client struct {
	baseURL      string
	partnerID    string
	accessToken  string
	userInfoPath string
	categories   []string
	httpClient   *http.Client
}

// Option configures the Client
type Option func(*clientOptions)

type clientOptions struct {
	timeout            time.Duration
	insecureSkipVerify bool
	httpClient         *http.Client
	categories         []string
	userInfoPath       string
}

// WithTimeout sets the timeout applied to every request
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithInsecureSkipVerify disables TLS certificate verification
func WithInsecureSkipVerify(skip bool) Option {
	return func(o *clientOptions) {
		o.insecureSkipVerify = skip
	}
}

// WithHTTPClient replaces the underlying HTTP client. Timeout and TLS options
// are ignored when set.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = c
	}
}

// WithCategories sets the categories stamped on created topics
func WithCategories(categories ...string) Option {
	return func(o *clientOptions) {
		if len(categories) > 0 {
			o.categories = categories
		}
	}
}

// WithUserInfoPath overrides the profile endpoint path
func WithUserInfoPath(path string) Option {
	return func(o *clientOptions) {
		if path != "" {
			o.userInfoPath = path
		}
	}
}

// NewClient creates a client for baseURL. An empty baseURL yields a client
// whose calls are silent no-ops.
func NewClient(baseURL, partnerID string, opts ...Option) *Client {
	o := clientOptions{
		timeout:      DefaultTimeout,
		categories:   DefaultCategories,
		userInfoPath: DefaultUserInfoPath,
	}
	for _, opt := range opts {
		opt(&o)
	}

	httpClient := o.httpClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if o.insecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- operator opt-in
		}
		httpClient = &http.Client{Timeout: o.timeout, Transport: transport}
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		partnerID:    partnerID,
		userInfoPath: o.userInfoPath,
		categories:   o.categories,
		httpClient:   httpClient,
	}
}

// ForToken returns a copy of the client bound to the given access token
func (c *Client) ForToken(token string) *Client {
	cp := *c
	cp.accessToken = token
	return &cp
}

// BuildPath maps a resource path to its API path. Private paths live under
// the signed-in user. Params replace placeholders such as ":topicId".
func BuildPath(path string, public bool, params map[string]string) string {
	for key, value := range params {
		path = strings.ReplaceAll(path, key, value)
	}
	if public {
		return "/api/" + path
	}
	return "/api/users/self/" + path
}

// Request performs an authenticated call and returns the `data` member of the
// response when present, otherwise the whole body.
func (c *Client) Request(ctx context.Context, path string, body interface{}, method string) (json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, nil
	}
	if c.accessToken == "" {
		return nil, errors.New(errors.ErrCodeUnauthenticated, "No access token")
	}
	raw, err := c.send(ctx, path, body, method, true)
	if err != nil {
		return nil, err
	}
	return unwrapData(raw), nil
}

// requestPublic performs an unauthenticated GET
func (c *Client) requestPublic(ctx context.Context, path string) (json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, nil
	}
	raw, err := c.send(ctx, path, nil, http.MethodGet, false)
	if err != nil {
		return nil, err
	}
	return unwrapData(raw), nil
}

func (c *Client) send(ctx context.Context, path string, body interface{}, method string, authenticated bool) (json.RawMessage, error) {
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeRequestFailed, "Invalid request URL")
	}
	q := u.Query()
	q.Set("sourcePartnerId", c.partnerID)
	u.RawQuery = q.Encode()

	var reader io.Reader
	if body != nil && method != http.MethodGet {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeRequestFailed, "Failed to encode request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeRequestFailed, "Failed to create request")
	}
	// the API may sit behind a reverse proxy that routes on Host
	req.Host = u.Host
	req.Header.Set("x-partner-id", c.partnerID)
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("citizenos request failed", "method", method, "path", path, "err", err)
		return nil, errors.Wrap(err, errors.ErrCodeRequestFailed, "Request to Citizen OS failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeRequestFailed, "Failed to read response")
	}
	if !json.Valid(data) {
		slog.Warn("citizenos returned non-JSON body", "method", method, "path", path, "status", resp.StatusCode)
		return nil, errors.Newf(errors.ErrCodeRequestFailed, "Unexpected response from Citizen OS (status %d)", resp.StatusCode)
	}
	return data, nil
}

// unwrapData returns the `data` member of an envelope when it is present and
// non-empty.
func unwrapData(raw json.RawMessage) json.RawMessage {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return raw
	}
	if data, ok := envelope["data"]; ok && !emptyJSON(data) {
		return data
	}
	return raw
}

func emptyJSON(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "false", "0", `""`, "[]", "{}":
		return true
	}
	return false
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
