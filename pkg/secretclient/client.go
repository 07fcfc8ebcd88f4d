// Package secretclient fetches credentials for a backup target's
// secret reference from the external secret store over HTTP.
package secretclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dittomount/dms/pkg/model"
)

// Secret holds the connection descriptor and credentials the mount
// executor composes into the FUSE helper's environment for an S3
// target. Bucket/Endpoint/Region travel with the secret rather than the
// request because a backup target's secret_ref is the one field an S3
// request is required to carry (filesystem_export is ignored for S3).
type Secret struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token,omitempty"`

	Bucket         string `json:"bucket"`
	Endpoint       string `json:"endpoint,omitempty"`
	Region         string `json:"region,omitempty"`
	UseSSL         bool   `json:"use_ssl"`
	ForcePathStyle bool   `json:"force_path_style,omitempty"`
}

// Client fetches secrets from the configured secret store base URL,
// authenticating each request with the caller's bearer token.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a Client pointed at baseURL (the configured auth_url).
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// WithHTTPClient overrides the default HTTP client, for tests that
// need to point at an httptest.Server with a custom transport.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// apiError is the JSON error body the secret store returns on non-2xx
// responses.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FetchSecret resolves ref against the secret store, authenticating
// with token. A non-2xx response or a malformed body is returned as a
// *model.SecretError.
func (c *Client) FetchSecret(ctx context.Context, ref, token string) (*Secret, error) {
	reqURL := fmt.Sprintf("%s/secrets/%s", c.baseURL, url.PathEscape(ref))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &model.SecretError{SecretRef: ref, Message: "failed to build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &model.SecretError{SecretRef: ref, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &model.SecretError{SecretRef: ref, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &model.SecretError{SecretRef: ref, Message: describeError(resp.StatusCode, body)}
	}

	var secret Secret
	if err := json.Unmarshal(body, &secret); err != nil {
		return nil, &model.SecretError{SecretRef: ref, Message: "malformed secret payload", Err: err}
	}
	if secret.AccessKeyID == "" || secret.SecretAccessKey == "" {
		return nil, &model.SecretError{SecretRef: ref, Message: "secret payload missing credentials"}
	}
	if secret.Bucket == "" {
		return nil, &model.SecretError{SecretRef: ref, Message: "secret payload missing bucket"}
	}
	return &secret, nil
}

func describeError(status int, body []byte) string {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Sprintf("secret store returned %d: %s", status, apiErr.Message)
	}
	return fmt.Sprintf("secret store returned %d: %s", status, bytes.TrimSpace(body))
}
