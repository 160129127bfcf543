package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"credanchor/internal/credential/models"
)

// TestContext holds state between test steps
type TestContext struct {
	BaseURL          string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte
	AccessToken      string
	Saved            map[string]string

	srv *server
}

// NewTestContext creates a new test context talking to srv
func NewTestContext(srv *server) *TestContext {
	return &TestContext{
		BaseURL:    srv.URL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Saved:      make(map[string]string),
		srv:        srv,
	}
}

func (tc *TestContext) Close() {
	if tc.srv != nil {
		tc.srv.Close()
	}
}

// POST makes a POST request with the current access token, if any
func (tc *TestContext) POST(path string, body any) error {
	return tc.POSTWithHeaders(path, body, tc.authHeaders())
}

// POSTWithHeaders makes a POST request with exactly the given headers
func (tc *TestContext) POSTWithHeaders(path string, body any, headers map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, tc.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return tc.do(req)
}

// GET makes a GET request with the current access token, if any
func (tc *TestContext) GET(path string) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, tc.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range tc.authHeaders() {
		req.Header.Set(k, v)
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

func (tc *TestContext) authHeaders() map[string]string {
	if tc.AccessToken == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + tc.AccessToken}
}

// Authenticate mints a token for principal and uses it on later requests.
func (tc *TestContext) Authenticate(principal string) error {
	token, err := tc.srv.token(principal)
	if err != nil {
		return err
	}
	tc.AccessToken = token
	return nil
}

func (tc *TestContext) ClearAuth() {
	tc.AccessToken = ""
}

func (tc *TestContext) AdminToken() string {
	return adminToken
}

// GetResponseField walks a dotted path such as "credential.id" or
// "anchors.0.network" through the last JSON response.
func (tc *TestContext) GetResponseField(path string) (any, error) {
	var data any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	for part := range strings.SplitSeq(path, ".") {
		switch node := data.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("field %s not found in response", path)
			}
			data = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("index %s out of range in %s", part, path)
			}
			data = node[i]
		default:
			return nil, fmt.Errorf("field %s not found in response", path)
		}
	}
	return data, nil
}

// GetResponseString returns a field formatted with fmt.Sprint.
func (tc *TestContext) GetResponseString(path string) (string, error) {
	v, err := tc.GetResponseField(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

func (tc *TestContext) ResponseContains(field string) bool {
	_, err := tc.GetResponseField(field)
	return err == nil
}

func (tc *TestContext) Save(name, value string) {
	tc.Saved[name] = value
}

func (tc *TestContext) Lookup(name string) (string, error) {
	v, ok := tc.Saved[name]
	if !ok {
		return "", fmt.Errorf("nothing saved as %q", name)
	}
	return v, nil
}

func (tc *TestContext) GetLastResponseStatus() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.LastResponseBody
}

// SetNetworkDown makes a ledger network refuse every call.
func (tc *TestContext) SetNetworkDown(network string, down bool) error {
	chain, ok := tc.srv.harness.Chains[network]
	if !ok {
		return fmt.Errorf("unknown network %q", network)
	}
	chain.SetDown(down)
	return nil
}

// WaitConfirmedEverywhere blocks until the credential is confirmed on every
// network it was anchored on.
func (tc *TestContext) WaitConfirmedEverywhere(credentialID string) error {
	id, err := models.ParseCredentialID(credentialID)
	if err != nil {
		return err
	}
	h := tc.srv.harness
	deadline := time.Now().Add(3 * time.Second)
	for {
		c, err := h.Store.FindByID(context.Background(), id)
		if err == nil && len(c.ConfirmedNetworks(h.MinConfirmations)) == len(c.Anchors) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("credential %s not confirmed on every network", credentialID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
