package aasclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// ClientError is the error this package returns when the AAS server answers
// with a non-2xx status. Transport, request-building and response-parsing
// failures are returned as wrapped errors instead.
type ClientError struct {
	Status  int
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("aasclient: API error (status %d): %s", e.Status, e.Message)
}

// Config configures an AAS HTTP client. The three *File fields are PEM
// paths enabling mTLS: CACertFile alone pins the server chain, and the
// client cert/key pair must be set together or not at all.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	BearerToken string

	CACertFile     string
	ClientCertFile string
	ClientKeyFile  string
}

// DefaultConfig returns the package defaults: localhost AAS server, 30s
// timeout, no auth.
func DefaultConfig() Config {
	return Config{BaseURL: "http://localhost:8081", Timeout: 30 * time.Second}
}

// Client is an HTTP client for the AAS Part 2 API, using the identifier and
// idShortPath encoding rules in this package.
type Client struct {
	http   *http.Client
	config Config
}

// New creates an AAS client over plain HTTP(S) with the system trust store,
// ignoring Config's TLS file fields. Use NewTLS when those are set.
func New(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{
		http:   &http.Client{Timeout: config.Timeout},
		config: config,
	}
}

// NewTLS creates an AAS client honoring Config's TLS file fields: a CA
// bundle to pin the server chain and/or a client cert/key pair for mTLS.
// With no TLS fields set it behaves exactly like New.
func NewTLS(config Config) (*Client, error) {
	c := New(config)
	if config.CACertFile == "" && config.ClientCertFile == "" && config.ClientKeyFile == "" {
		return c, nil
	}
	if (config.ClientCertFile == "") != (config.ClientKeyFile == "") {
		return nil, fmt.Errorf("aasclient: client cert and key must be configured together")
	}

	tlsConfig := &tls.Config{}
	if config.CACertFile != "" {
		pem, err := os.ReadFile(config.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("aasclient: read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("aasclient: no certificates found in CA bundle %s", config.CACertFile)
		}
		tlsConfig.RootCAs = pool
	}
	if config.ClientCertFile != "" {
		cert, err := tls.LoadX509KeyPair(config.ClientCertFile, config.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("aasclient: load client key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	c.http.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	return c, nil
}

func (c *Client) authHeader() string {
	if c.config.BearerToken == "" {
		return ""
	}
	return "Bearer " + c.config.BearerToken
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("aasclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth := c.authHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aasclient: request error: %w", err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ClientError{Status: resp.StatusCode, Message: string(respBody)}
	}
	if readErr != nil {
		return nil, fmt.Errorf("aasclient: read response: %w", readErr)
	}
	return respBody, nil
}

// GetSubmodelValue fetches the $value view of a submodel as decoded JSON.
func (c *Client) GetSubmodelValue(ctx context.Context, submodelID string) (any, error) {
	url := fmt.Sprintf("%s/submodels/%s/$value", c.config.BaseURL, EncodeIDBase64URL(submodelID))
	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return nil, fmt.Errorf("aasclient: parse error: %w", err)
	}
	return value, nil
}

// GetSubmodelElementValue fetches the $value of a single submodel element.
func (c *Client) GetSubmodelElementValue(ctx context.Context, submodelID, idShortPath string) (any, error) {
	url := fmt.Sprintf("%s/submodels/%s/submodel-elements/%s/$value",
		c.config.BaseURL, EncodeIDBase64URL(submodelID), EncodeIDShortPath(idShortPath))
	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return nil, fmt.Errorf("aasclient: parse error: %w", err)
	}
	return value, nil
}

// PatchSubmodelElementValue patches the $value of a single submodel element
// with value, a minimal-payload write.
func (c *Client) PatchSubmodelElementValue(ctx context.Context, submodelID, idShortPath string, value any) error {
	url := fmt.Sprintf("%s/submodels/%s/submodel-elements/%s/$value",
		c.config.BaseURL, EncodeIDBase64URL(submodelID), EncodeIDShortPath(idShortPath))
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("aasclient: encode patch payload: %w", err)
	}
	_, err = c.do(ctx, http.MethodPatch, url, payload)
	return err
}

// ListSubmodels returns every submodel descriptor from the repository,
// unwrapping the AAS API's paginated {"result": [...]} envelope when
// present.
func (c *Client) ListSubmodels(ctx context.Context) ([]any, error) {
	url := fmt.Sprintf("%s/submodels", c.config.BaseURL)
	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("aasclient: parse error: %w", err)
	}
	switch v := decoded.(type) {
	case map[string]any:
		if result, ok := v["result"].([]any); ok {
			return result, nil
		}
		return []any{v}, nil
	case []any:
		return v, nil
	default:
		return []any{decoded}, nil
	}
}
