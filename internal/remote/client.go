package remote

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

	"github.com/nerrad567/devsync-core/internal/auth"
	"github.com/nerrad567/devsync-core/internal/device"
	"github.com/nerrad567/devsync-core/internal/infrastructure/config"
	"github.com/nerrad567/devsync-core/internal/infrastructure/metrics"
	"github.com/nerrad567/devsync-core/internal/settings"
	"github.com/nerrad567/devsync-core/internal/telemetry"
)

// Operation names used in errors, logs and metrics labels.
const (
	OpFetchDevices        = "fetch_devices"
	OpFetchConfiguration  = "fetch_configuration"
	OpUploadTelemetry     = "upload_telemetry"
	OpUploadConfiguration = "upload_configuration"
	OpSubmitCommand       = "submit_command"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4096
)

// Logger is the logging interface used by the client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client is the HTTP implementation of Service.
type Client struct {
	baseURL string
	tokens  auth.TokenSource
	client  *http.Client
	logger  Logger
}

// NewClient builds a Client from configuration. tokens may be nil for
// backends that do not require authentication.
func NewClient(cfg config.RemoteConfig, tokens auth.TokenSource) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote: empty base url")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("remote: invalid base url: %w", err)
	}

	timeout := cfg.TimeoutDuration()
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
		logger:  noopLogger{},
	}, nil
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// FetchDevices returns the devices the backend holds for userID.
func (c *Client) FetchDevices(ctx context.Context, userID string) ([]device.Device, error) {
	var resp devicesResponse
	path := "/api/v1/users/" + url.PathEscape(userID) + "/devices"
	if err := c.doJSON(ctx, OpFetchDevices, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	devices := make([]device.Device, 0, len(resp.Devices))
	for _, rec := range resp.Devices {
		d := rec.Device
		d.Token = rec.Token
		devices = append(devices, d)
	}
	return devices, nil
}

// FetchConfiguration returns the configuration entries the backend holds
// for userID's devices.
func (c *Client) FetchConfiguration(ctx context.Context, userID string) ([]settings.Entry, error) {
	var resp configurationsResponse
	path := "/api/v1/users/" + url.PathEscape(userID) + "/configurations"
	if err := c.doJSON(ctx, OpFetchConfiguration, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Configurations, nil
}

// UploadTelemetry pushes a batch of readings and returns per-row outcomes.
func (c *Client) UploadTelemetry(ctx context.Context, readings []telemetry.Reading) (*UploadResult, error) {
	if len(readings) == 0 {
		return &UploadResult{}, nil
	}
	var resp UploadResult
	body := telemetryUpload{Readings: readings}
	if err := c.doJSON(ctx, OpUploadTelemetry, http.MethodPost, "/api/v1/telemetry/batch", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadConfiguration pushes locally edited configuration entries.
func (c *Client) UploadConfiguration(ctx context.Context, entries []settings.Entry) (*UploadResult, error) {
	if len(entries) == 0 {
		return &UploadResult{}, nil
	}
	var resp UploadResult
	body := configurationUpload{Configurations: entries}
	if err := c.doJSON(ctx, OpUploadConfiguration, http.MethodPost, "/api/v1/configurations/batch", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitCommand forwards a command for remote delivery. A refusal by the
// backend is reported as an error wrapping ErrRejected.
func (c *Client) SubmitCommand(ctx context.Context, cmd CommandSubmission) (*SubmitResult, error) {
	var resp SubmitResult
	path := "/api/v1/devices/" + url.PathEscape(cmd.DeviceID) + "/commands"
	if err := c.doJSON(ctx, OpSubmitCommand, http.MethodPost, path, cmd, &resp); err != nil {
		return nil, err
	}
	if !resp.Accepted {
		return &resp, &HTTPError{
			Operation:  OpSubmitCommand,
			StatusCode: http.StatusOK,
			Message:    resp.Message,
			kind:       ErrRejected,
		}
	}
	return &resp, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out any) (err error) {
	defer func() {
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultError
		}
		metrics.IncRemoteRequest(op, result)
	}()

	var reqBody io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: %s: encoding request: %w", op, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("remote: %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUnauthorized, op, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("remote: %s: %w", op, ctxErr)
		}
		return fmt.Errorf("%w: %s: %w", ErrUnreachable, op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("remote request",
		"operation", op,
		"method", method,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode >= 300 {
		return &HTTPError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp.Body),
			kind:       classify(resp.StatusCode),
		}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: %s: decoding response: %w", op, err)
	}
	return nil
}

// readErrorMessage extracts a message from an error body, JSON or text.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var env errorResponse
	if json.Unmarshal(raw, &env) == nil {
		if env.Message != "" {
			return env.Message
		}
		if env.Error != "" {
			return env.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
