package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// DefaultCredentialHeader carries the account token on every request.
const DefaultCredentialHeader = "x-account-token"

// maxReasonBytes bounds how much of an error body ends up in ApplicationError.Reason.
const maxReasonBytes = 512

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	// Endpoint is the GraphQL URL, e.g. https://api.example.com/graphql.
	Endpoint string

	// CredentialHeader names the header that carries Call.Credential
	// (default: x-account-token).
	CredentialHeader string

	// Client is the HTTP client to use (default: a client with a 30s timeout).
	Client *http.Client

	// UserAgent is sent when non-empty.
	UserAgent string

	Logger *zap.Logger
}

// HTTP sends calls as GET requests with query, variables and fragments
// query parameters.
type HTTP struct {
	endpoint  *url.URL
	header    string
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewHTTP validates config and returns an HTTP transport.
func NewHTTP(config HTTPConfig) (*HTTP, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	endpoint, err := url.Parse(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", config.Endpoint, err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be http or https", config.Endpoint)
	}
	if config.CredentialHeader == "" {
		config.CredentialHeader = DefaultCredentialHeader
	}
	if config.Client == nil {
		config.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &HTTP{
		endpoint:  endpoint,
		header:    config.CredentialHeader,
		client:    config.Client,
		userAgent: config.UserAgent,
		logger:    config.Logger.Named("transport"),
	}, nil
}

// Client returns the underlying HTTP client.
func (h *HTTP) Client() *http.Client {
	return h.client
}

// Send implements Transport.
func (h *HTTP) Send(ctx context.Context, call Call) Response {
	req, err := h.newRequest(ctx, call)
	if err != nil {
		return &ConnectionFailure{Reason: err}
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Debug("request failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return &ConnectionFailure{Reason: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnectionFailure{Reason: fmt.Errorf("failed to read response body: %w", err)}
	}

	h.logger.Debug("request complete",
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ApplicationError{StatusCode: resp.StatusCode, Reason: reason(resp.Status, body)}
	}
	return &Success{Body: body}
}

func (h *HTTP) newRequest(ctx context.Context, call Call) (*http.Request, error) {
	params := url.Values{}
	params.Set("query", call.Query)

	variables := call.Variables
	if variables == nil {
		variables = map[string]any{}
	}
	encoded, err := json.Marshal(variables)
	if err != nil {
		return nil, fmt.Errorf("failed to encode variables: %w", err)
	}
	params.Set("variables", string(encoded))

	if len(call.Fragments) > 0 {
		fragments, err := json.Marshal(call.Fragments)
		if err != nil {
			return nil, fmt.Errorf("failed to encode fragments: %w", err)
		}
		params.Set("fragments", string(fragments))
	}

	u := *h.endpoint
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if call.Credential != "" {
		req.Header.Set(h.header, call.Credential)
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	return req, nil
}

func reason(status string, body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > maxReasonBytes {
		text = text[:maxReasonBytes] + "..."
	}
	if text == "" {
		return status
	}
	return status + ": " + text
}
