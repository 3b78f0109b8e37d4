package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a typed HTTP client for the gateway API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the gateway at baseURL (no trailing slash).
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Minute},
	}
}

// SetToken sets the bearer token sent on authenticated calls.
func (c *Client) SetToken(token string) {
	c.token = token
}

// APIError is a non-2xx response decoded from the gateway's error
// body.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// TokenResponse is the POST /token payload.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Instance is the POST /deploy payload.
type Instance struct {
	ID          uint      `json:"id"`
	TaskName    string    `json:"task_name"`
	ContainerID string    `json:"container_id"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Status      string    `json:"status"`
	Endpoint    string    `json:"endpoint"`
	Port        int       `json:"port,omitempty"`
}

// InstanceSummary is one GET /instances item.
type InstanceSummary struct {
	ID            uint   `json:"id"`
	TaskName      string `json:"task_name"`
	ExpiresInSecs int64  `json:"expires_in_secs"`
	Endpoint      string `json:"endpoint"`
	Status        string `json:"status"`
}

// TaskInfo is one GET /tasks item.
type TaskInfo struct {
	Name          string `json:"name"`
	Protocol      string `json:"protocol"`
	ContainerPort int    `json:"container_port"`
}

// Token requests (or reuses) a bearer token for the username and
// remembers it for subsequent calls.
func (c *Client) Token(ctx context.Context, username string) (*TokenResponse, error) {
	var resp TokenResponse
	err := c.do(ctx, http.MethodPost, "/token", map[string]string{"username": username}, &resp)
	if err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

// Deploy requests a new instance of the named task.
func (c *Client) Deploy(ctx context.Context, task, captchaToken string) (*Instance, error) {
	var inst Instance
	body := map[string]string{"task": task, "captcha_token": captchaToken}
	if err := c.do(ctx, http.MethodPost, "/deploy", body, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// Stop terminates an owned instance.
func (c *Client) Stop(ctx context.Context, instanceID uint) error {
	return c.do(ctx, http.MethodPost, "/stop", map[string]uint{"instance_id": instanceID}, nil)
}

// Restart restarts an owned instance, granting a fresh TTL.
func (c *Client) Restart(ctx context.Context, instanceID uint) error {
	return c.do(ctx, http.MethodPost, "/restart", map[string]uint{"instance_id": instanceID}, nil)
}

// Extend pushes an owned instance's expiry out by the configured
// extension time.
func (c *Client) Extend(ctx context.Context, instanceID uint) error {
	return c.do(ctx, http.MethodPost, "/extend", map[string]uint{"instance_id": instanceID}, nil)
}

// Instances lists the caller's running instances.
func (c *Client) Instances(ctx context.Context) ([]InstanceSummary, error) {
	var items []InstanceSummary
	if err := c.do(ctx, http.MethodGet, "/instances", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Tasks lists the deployable tasks.
func (c *Client) Tasks(ctx context.Context) ([]TaskInfo, error) {
	var items []TaskInfo
	if err := c.do(ctx, http.MethodGet, "/tasks", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
		var errBody struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errBody); decodeErr == nil && errBody.Error != "" {
			apiErr.Message = errBody.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
