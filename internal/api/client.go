package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/feedsync/internal/model"
	"github.com/MarcoPoloResearchLab/feedsync/internal/pagination"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultBurst      = 5
	maxErrorBodyBytes = 8 << 10
)

var (
	errMissingBaseURL = errors.New("api: base url required")
	errInvalidBaseURL = errors.New("api: invalid base url")
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures Client. RequestsPerSecond <= 0 disables throttling.
type Config struct {
	BaseURL           string
	Token             string
	HTTPClient        Doer
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	DefaultPageLimit  int
	Logger            *zap.Logger
}

// Client talks to the remote feed API. Every endpoint is a JSON POST carrying the access
// token as "i".
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient Doer
	limiter    *rate.Limiter
	pageSize   pagination.PageSizeConfig
	logger     *zap.Logger
}

// NewClient validates cfg and constructs a client.
func NewClient(cfg Config) (*Client, error) {
	trimmed := strings.TrimSpace(cfg.BaseURL)
	if trimmed == "" {
		return nil, errMissingBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(trimmed, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", errInvalidBaseURL, cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = defaultBurst
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	pageSize := pagination.DefaultPageSize
	if cfg.DefaultPageLimit > 0 {
		pageSize.Default = pagination.ClampPageSize(cfg.DefaultPageLimit, pagination.DefaultPageSize)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    parsed,
		token:      cfg.Token,
		httpClient: httpClient,
		limiter:    limiter,
		pageSize:   pageSize,
		logger:     logger,
	}, nil
}

// BaseURL returns the instance root.
func (c *Client) BaseURL() *url.URL {
	copied := *c.baseURL
	return &copied
}

// Token returns the configured access token.
func (c *Client) Token() string {
	return c.token
}

// post sends body to endpoint and decodes the response into out. out may be nil.
func (c *Client) post(ctx context.Context, endpoint string, body any, out any) error {
	operation := "api." + endpoint
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &model.NetworkError{Operation: operation, Err: err}
		}
	}

	payload, err := c.encodeBody(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", operation, err)
	}
	target := c.baseURL.JoinPath("api", endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &model.NetworkError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		message := readErrorMessage(resp.Body)
		c.logger.Warn("remote api rejected credentials",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode))
		return &model.UnauthorizedError{Operation: operation, StatusCode: resp.StatusCode, Message: message}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		message := readErrorMessage(resp.Body)
		return &model.NetworkError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("remote error: %s", firstNonEmpty(message, resp.Status)),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &model.NetworkError{Operation: operation, Err: ctxErr}
		}
		return &model.NetworkError{Operation: operation, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// encodeBody marshals body as a JSON object and adds the access token.
func (c *Client) encodeBody(body any) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(encoded, &fields); err != nil {
			return nil, fmt.Errorf("request body must be an object: %w", err)
		}
	}
	if c.token != "" {
		token, err := json.Marshal(c.token)
		if err != nil {
			return nil, err
		}
		fields["i"] = token
	}
	return json.Marshal(fields)
}

type remoteErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func readErrorMessage(reader io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(reader, maxErrorBodyBytes))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var decoded remoteErrorBody
	if err := json.Unmarshal(raw, &decoded); err == nil {
		if decoded.Error.Message != "" {
			return decoded.Error.Message
		}
		if decoded.Error.Code != "" {
			return decoded.Error.Code
		}
	}
	return strings.TrimSpace(string(raw))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
