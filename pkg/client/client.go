package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/terra-clan/assessment-engine/internal/dashboard"
	"github.com/terra-clan/assessment-engine/internal/models"
)

// Client is a Go SDK for the assessment remote persistence API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new assessment API client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is an error reported by the API or an unexpected HTTP status
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %s - %s", e.Code, e.Message)
}

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// HistoryOptions filters the history listing
type HistoryOptions struct {
	Country      string
	UpdatedAfter *time.Time
	Limit        int
}

// Sync pushes changes and returns the remote's answer
func (c *Client) Sync(ctx context.Context, req *models.SyncRequest) (*models.SyncResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var result models.SyncResponse
	if err := c.call(ctx, "POST", "/api/v1/assessments/sync", bytes.NewReader(body), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// History lists the assessments visible to the caller
func (c *Client) History(ctx context.Context, opts HistoryOptions) ([]*models.AssessmentState, error) {
	q := url.Values{}
	if opts.Country != "" {
		q.Set("country", opts.Country)
	}
	if opts.UpdatedAfter != nil {
		q.Set("updated_after", opts.UpdatedAfter.UTC().Format(time.RFC3339Nano))
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	path := "/api/v1/assessments/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result struct {
		Assessments []*models.AssessmentState `json:"assessments"`
		Total       int                       `json:"total"`
	}
	if err := c.call(ctx, "GET", path, nil, &result); err != nil {
		return nil, err
	}
	return result.Assessments, nil
}

// DeleteAssessment removes an assessment by its remote ID
func (c *Client) DeleteAssessment(ctx context.Context, id string) error {
	return c.call(ctx, "DELETE", fmt.Sprintf("/api/v1/assessments/%s", url.PathEscape(id)), nil, nil)
}

// Dashboard returns aggregated metrics over the caller's assessments
func (c *Client) Dashboard(ctx context.Context) (*dashboard.Metrics, error) {
	var result dashboard.Metrics
	if err := c.call(ctx, "GET", "/api/v1/dashboard", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Me returns the authenticated user
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var result models.User
	if err := c.call(ctx, "GET", "/api/v1/me", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, "GET", "/health", nil)
	return err
}

// call performs a request and decodes the data of the response envelope into out
func (c *Client) call(ctx context.Context, method, path string, body io.Reader, out any) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	var result envelope[json.RawMessage]
	if err := json.Unmarshal(resp, &result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		apiErr := &APIError{StatusCode: http.StatusOK, Code: "unknown", Message: "request failed"}
		if result.Error != nil {
			apiErr.Code = result.Error.Code
			apiErr.Message = result.Error.Message
		}
		return apiErr
	}

	if out == nil || len(result.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(result.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return nil
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var result envelope[json.RawMessage]
		if json.Unmarshal(respBody, &result) == nil && result.Error != nil {
			apiErr.Code = result.Error.Code
			apiErr.Message = result.Error.Message
		}
		return nil, apiErr
	}

	return respBody, nil
}
