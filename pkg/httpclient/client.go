// Package httpclient is a Go client for the meshrouter admin API.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ErrNotAuthenticated is returned by admin calls made before Login or SetToken
var ErrNotAuthenticated = errors.New("client not authenticated - call Login() first")

// APIError is a non-2xx response from the admin API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Client provides HTTP client for the meshrouter admin API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewClient creates a new admin API client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// Login exchanges the configured secret for an admin token and stores it
func (c *Client) Login(ctx context.Context) (*LoginResponse, error) {
	req := map[string]string{
		"secret":  c.config.SecretKey,
		"subject": c.config.Subject,
	}

	var resp LoginResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", req, &resp, false); err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	c.token = resp.Token
	return &resp, nil
}

// Health returns the health of the node. Unhealthy nodes answer 503; the body is still
// decoded and returned together with the APIError.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp, false)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable && resp.NodeID != "" {
			return &resp, err
		}
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// ListRoutes returns the routing table
func (c *Client) ListRoutes(ctx context.Context) ([]Route, error) {
	var resp RoutesResponse
	if err := c.doAuthenticated(ctx, http.MethodGet, "/api/v1/routes", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	return resp.Routes, nil
}

// GetRoute returns the next hop of participantID
func (c *Client) GetRoute(ctx context.Context, participantID string) (*Route, error) {
	var resp Route
	if err := c.doAuthenticated(ctx, http.MethodGet, routePath(participantID), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get route: %w", err)
	}
	return &resp, nil
}

// AddRoute registers addr, in any form the node can parse, as the next hop of participantID
func (c *Client) AddRoute(ctx context.Context, participantID, addr string, isGloballyVisible bool) (*Route, error) {
	req := AddRouteRequest{Address: addr, IsGloballyVisible: isGloballyVisible}

	var resp Route
	if err := c.doAuthenticated(ctx, http.MethodPut, routePath(participantID), req, &resp); err != nil {
		return nil, fmt.Errorf("failed to add route: %w", err)
	}
	return &resp, nil
}

// RemoveRoute removes the next hop of participantID
func (c *Client) RemoveRoute(ctx context.Context, participantID string) error {
	if err := c.doAuthenticated(ctx, http.MethodDelete, routePath(participantID), nil, nil); err != nil {
		return fmt.Errorf("failed to remove route: %w", err)
	}
	return nil
}

// ListMulticast returns the registered multicast receivers
func (c *Client) ListMulticast(ctx context.Context) ([]MulticastPattern, error) {
	var resp MulticastResponse
	if err := c.doAuthenticated(ctx, http.MethodGet, "/api/v1/multicast", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list multicast receivers: %w", err)
	}
	return resp.Patterns, nil
}

// SendMessage injects a message into the router
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResponse, error) {
	var resp SendMessageResponse
	if err := c.doAuthenticated(ctx, http.MethodPost, "/api/v1/messages", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return &resp, nil
}

// IsAuthenticated returns whether the client has a token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}

func routePath(participantID string) string {
	return "/api/v1/routes/" + url.PathEscape(participantID)
}

func (c *Client) doAuthenticated(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	if c.token == "" {
		return ErrNotAuthenticated
	}
	return c.doRequest(ctx, method, path, reqBody, respBody, true)
}

// doRequest performs an HTTP request with optional authentication. Error bodies are
// decoded into respBody as well when they parse.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody, respBody interface{}, requireAuth bool) error {
	fullURL := c.baseURL.ResolveReference(&url.URL{Path: path})

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		if respBody != nil {
			_ = json.Unmarshal(bodyBytes, respBody)
		}
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil || errResp.Message == "" {
			return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(bodyBytes))}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Message}
	}

	if respBody != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
