package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the control API of a running devlauncher.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:7070/api",
		Timeout: 30 * time.Second,
	}
}

// New creates a new control API client.
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the launcher is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Status(ctx)
	if err != nil {
		c.logger.Debug("launcher unreachable", "error", err)
		return false
	}
	return true
}

// Status lists every service.
func (c *Client) Status(ctx context.Context) ([]ServiceStatus, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", &resp); err != nil {
		return nil, err
	}
	return resp.Services, nil
}

// Service returns one service.
func (c *Client) Service(ctx context.Context, name string) (ServiceStatus, error) {
	var st ServiceStatus
	err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(name), &st)
	return st, err
}

// Start, Stop and Restart act on one service and return its new status.
func (c *Client) Start(ctx context.Context, name string) (ServiceStatus, error) {
	return c.serviceAction(ctx, name, "start")
}

func (c *Client) Stop(ctx context.Context, name string) (ServiceStatus, error) {
	return c.serviceAction(ctx, name, "stop")
}

func (c *Client) Restart(ctx context.Context, name string) (ServiceStatus, error) {
	return c.serviceAction(ctx, name, "restart")
}

// StartAll, StopAll and RestartAll act on every service.
func (c *Client) StartAll(ctx context.Context) ([]ServiceStatus, error) {
	return c.bulk(ctx, "/start")
}

func (c *Client) StopAll(ctx context.Context) ([]ServiceStatus, error) {
	return c.bulk(ctx, "/stop")
}

func (c *Client) RestartAll(ctx context.Context) ([]ServiceStatus, error) {
	return c.bulk(ctx, "/restart")
}

// ForceKillAll asks the launcher to kill every service process it can find.
func (c *Client) ForceKillAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/force-kill-all", nil)
}

func (c *Client) serviceAction(ctx context.Context, name, action string) (ServiceStatus, error) {
	c.logger.Debug("service action", "name", name, "action", action)
	var st ServiceStatus
	err := c.do(ctx, http.MethodPost, "/services/"+url.PathEscape(name)+"/"+action, &st)
	return st, err
}

func (c *Client) bulk(ctx context.Context, path string) ([]ServiceStatus, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodPost, path, &resp); err != nil {
		return nil, err
	}
	return resp.Services, nil
}

// do performs a request and decodes a 2xx body into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err == nil {
		apiErr.Message = errorResp.Error
	}
	c.logger.Debug("API request failed", "error", apiErr.Message, "status", resp.StatusCode)
	return apiErr
}
