package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSigningKey = "dev-secret-key-change-in-production"

// TestContext holds per-scenario HTTP state shared by the step packages.
type TestContext struct {
	BaseURL    string
	signingKey []byte
	client     *http.Client

	accessToken  string
	lastStatus   int
	lastHeaders  http.Header
	lastBody     []byte
	lastResponse map[string]interface{}
	saved        map[string]string
}

// NewTestContext reads E2E_BASE_URL and E2E_JWT_SIGNING_KEY.
func NewTestContext() *TestContext {
	key := os.Getenv("E2E_JWT_SIGNING_KEY")
	if key == "" {
		key = defaultSigningKey
	}
	return &TestContext{
		BaseURL:    strings.TrimRight(os.Getenv("E2E_BASE_URL"), "/"),
		signingKey: []byte(key),
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Reset clears state between scenarios.
func (tc *TestContext) Reset() {
	tc.accessToken = ""
	tc.lastStatus = 0
	tc.lastHeaders = nil
	tc.lastBody = nil
	tc.lastResponse = nil
	tc.saved = make(map[string]string)
}

// Authenticate mints a bearer token for email with the server's signing key.
func (tc *TestContext) Authenticate(email string) error {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": strings.ToLower(email),
		"sub":   strings.ToLower(email),
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(tc.signingKey)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	tc.accessToken = signed
	return nil
}

func (tc *TestContext) ClearAuth() {
	tc.accessToken = ""
}

func (tc *TestContext) POST(path string, body interface{}) error {
	return tc.Do(http.MethodPost, path, body, nil)
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.Do(http.MethodGet, path, nil, headers)
}

// Do sends a request and records the response for later assertions.
func (tc *TestContext) Do(method, path string, body interface{}, headers map[string]string) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, tc.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tc.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+tc.accessToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.lastStatus = resp.StatusCode
	tc.lastHeaders = resp.Header
	tc.lastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.lastResponse = nil
	if len(tc.lastBody) > 0 {
		var decoded map[string]interface{}
		if json.Unmarshal(tc.lastBody, &decoded) == nil {
			tc.lastResponse = decoded
		}
	}
	return nil
}

func (tc *TestContext) LastStatus() int { return tc.lastStatus }

func (tc *TestContext) LastHeader(name string) string {
	return tc.lastHeaders.Get(name)
}

func (tc *TestContext) LastBody() string { return string(tc.lastBody) }

// GetResponseField resolves a dotted path such as "payment.amount".
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	var cur interface{} = tc.lastResponse
	for _, part := range strings.Split(field, ".") {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field %q not found in %s", field, tc.lastBody)
		}
		cur, ok = obj[part]
		if !ok {
			return nil, fmt.Errorf("field %q not found in %s", field, tc.lastBody)
		}
	}
	return cur, nil
}

func (tc *TestContext) ResponseContains(field string) bool {
	_, err := tc.GetResponseField(field)
	return err == nil
}

func (tc *TestContext) Save(name, value string) { tc.saved[name] = value }

func (tc *TestContext) Saved(name string) string { return tc.saved[name] }
