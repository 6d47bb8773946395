package badge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultServerURL is the issuance server used when none is configured.
const DefaultServerURL = "http://localhost:8080"

// Client is an HTTP client for a remote issuance server.
type Client struct {
	ServerURL  string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new issuance client. token is sent as a Bearer token when set.
func NewClient(serverURL, token string) *Client {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	return &Client{
		ServerURL: strings.TrimSuffix(serverURL, "/"),
		Token:     token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Issue asks the server to build, sign and store a credential.
func (c *Client) Issue(ctx context.Context, req IssueRequest) (*IssueResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/achievements/credentials", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	status, respBody, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, newClientError(status, respBody)
	}

	var resp IssueResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

// Fetch retrieves the VC-JWT for a credential uuid from the public endpoint.
func (c *Client) Fetch(ctx context.Context, id string) (string, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/api/achievements/credentials/"+url.PathEscape(id), nil)
	if err != nil {
		return "", err
	}

	status, respBody, err := c.do(httpReq)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", newClientError(status, respBody)
	}
	return strings.TrimSpace(string(respBody)), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.ServerURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("User-Agent", "badgeengine-core/1.0")
	return req, nil
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// ClientError is a non-success response from the issuance server.
type ClientError struct {
	StatusCode int
	Message    string
}

func newClientError(status int, body []byte) *ClientError {
	var info struct {
		Description string `json:"imsx_description"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &info); err == nil && info.Description != "" {
		msg = info.Description
	}
	return &ClientError{StatusCode: status, Message: msg}
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code onto the matching sentinel error.
func (e *ClientError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return ErrSchemaViolation
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// IsAuthError returns true if this is an authentication or authorization error.
func (e *ClientError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
