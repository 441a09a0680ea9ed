package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// DefaultUserAgent is sent when the caller configures none.
const DefaultUserAgent = "drivebridge/0.1"

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer per the
// "accept interfaces, return structs" convention; auth.go provides the real one.
type TokenSource interface {
	Token() (string, error)
}

// Client is an HTTP client for the Microsoft Graph API. It builds requests,
// authenticates them and classifies failures. It never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a Graph API client. baseURL is typically DefaultBaseURL.
// Panics if token is nil, since every call needs one.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger, userAgent string) *Client {
	if token == nil {
		panic("graph: NewClient called with nil TokenSource")
	}

	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		userAgent:  userAgent,
		logger:     logger,
	}
}

// Do executes one authenticated request against the Graph API. The path is
// appended to the base URL. Non-nil bodies are sent as application/json.
// On success the caller must close the response body. Non-2xx responses are
// returned as *GraphError.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	return c.DoWithHeaders(ctx, method, path, body, nil)
}

// DoWithHeaders is Do with extra request headers (e.g. a custom Content-Type).
func (c *Client) DoWithHeaders(
	ctx context.Context, method, path string, body io.Reader, headers http.Header,
) (*http.Response, error) {
	return c.doAuthed(ctx, method, path, body, 0, headers)
}

// doAuthed is DoWithHeaders with an explicit Content-Length for bodies
// net/http cannot size on its own.
func (c *Client) doAuthed(
	ctx context.Context, method, path string, body io.Reader, length int64, headers http.Header,
) (*http.Response, error) {
	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("graph: obtaining token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("graph: creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)

	if length > 0 {
		req.ContentLength = length
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, vs := range headers {
		req.Header.Del(k)

		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	return c.send(req, path)
}

// doPreAuth executes a request against a pre-authenticated URL (download
// links, upload sessions). No Authorization header is sent: these URLs embed
// their own credentials and reject bearer tokens. length sets Content-Length
// when positive.
func (c *Client) doPreAuth(
	ctx context.Context, method, rawURL string, body io.Reader, length int64, headers http.Header,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("graph: creating request: %w", err)
	}

	if length > 0 {
		req.ContentLength = length
	}

	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	// The URL carries a short-lived credential; log only a placeholder.
	return c.send(req, "(pre-authenticated)")
}

// send performs the round trip and turns non-2xx responses into GraphError.
func (c *Client) send(req *http.Request, logPath string) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, fmt.Errorf("graph: request canceled: %w", ctxErr)
		}

		return nil, fmt.Errorf("graph: %s %s: %w", req.Method, logPath, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", req.Method),
			slog.String("path", logPath),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	graphErr := newGraphError(resp)

	c.logger.Debug("request failed",
		slog.String("method", req.Method),
		slog.String("path", logPath),
		slog.Int("status", resp.StatusCode),
		slog.String("code", graphErr.Code),
		slog.String("request_id", graphErr.RequestID),
	)

	return nil, graphErr
}

// drain discards and closes a response body so the connection is reused.
func drain(resp *http.Response) error {
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("graph: draining response body: %w", err)
	}

	return nil
}
