// Package httprequest provides a step executor that performs an outbound HTTP
// call, used for notification webhooks and simple service hand-offs.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/adlytics/adflow/pkg/models"
	"github.com/adlytics/adflow/pkg/protocol"
)

const defaultTimeoutSeconds = 30

// ErrURLRequired indicates a missing 'url' configuration value.
var ErrURLRequired = errors.New("http_request executor requires a 'url' configuration value")

// Factory creates HTTP request executors under the "http_request" service
// name.
type Factory struct{}

// NewFactory creates the HTTP request executor factory.
func NewFactory() *Factory {
	return &Factory{}
}

// ID returns the service name of the HTTP request executor.
func (*Factory) ID() string {
	return "http_request"
}

// Create builds an HTTP request executor from the step configuration.
func (*Factory) Create(config map[string]any) (protocol.StepExecutor, error) {
	if config == nil {
		config = map[string]any{}
	}

	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, ErrURLRequired
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for key, value := range headersMap {
				if strVal, ok := value.(string); ok {
					headers[key] = strVal
				}
			}
		}
	}

	// YAML decoding yields int, the JSON API yields float64.
	timeout := defaultTimeoutSeconds * time.Second

	switch seconds := config["timeout"].(type) {
	case int:
		if seconds > 0 {
			timeout = time.Duration(seconds) * time.Second
		}
	case float64:
		if seconds > 0 {
			timeout = time.Duration(seconds) * time.Second
		}
	}

	return &Executor{
		url:     url,
		method:  strings.ToUpper(method),
		headers: headers,
		body:    body,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Schema returns the JSON schema for the HTTP request configuration.
func (*Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Target URL for the request",
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method",
				"default":     http.MethodGet,
				"enum":        []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "Request headers",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body",
			},
			"timeout": map[string]any{
				"type":        "integer",
				"description": "Request timeout in seconds",
				"default":     defaultTimeoutSeconds,
			},
		},
		"required": []string{"url"},
	}
}

// Executor performs one HTTP request per step dispatch.
type Executor struct {
	url     string
	method  string
	headers map[string]string
	body    string
	timeout time.Duration
	client  *http.Client
}

// Timeout returns the executor's request timeout.
func (e *Executor) Timeout(_ map[string]any) time.Duration {
	return e.timeout
}

// Execute performs the request and returns status, headers and decoded body
// as the result fragment. A JSON response body is decoded; anything else is
// passed through as a string.
func (e *Executor) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With(
		"executor", "http_request",
		"method", e.method,
		"url", e.url,
		"step", executionCtx.StepName,
	)

	var reqBody io.Reader
	if e.body != "" {
		reqBody = strings.NewReader(e.body)
	}

	req, err := http.NewRequestWithContext(ctx, e.method, e.url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for key, value := range e.headers {
		req.Header.Set(key, value)
	}

	logger.Debug("Performing HTTP request")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var decoded any
	if json.Unmarshal(rawBody, &decoded) != nil {
		decoded = string(rawBody)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("request returned status %d", resp.StatusCode)
	}

	logger.Debug("HTTP request completed", "status", resp.StatusCode)

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        decoded,
	}, nil
}
