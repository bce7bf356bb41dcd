package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/booth-checkin/internal/dto"
	"github.com/noah-isme/booth-checkin/internal/models"
	appErrors "github.com/noah-isme/booth-checkin/pkg/errors"
	"github.com/noah-isme/booth-checkin/pkg/logger"
	"github.com/noah-isme/booth-checkin/pkg/middleware/requestid"
)

const maxResponseBytes = 8 << 20

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// ClientConfig locates the server and identifies the device.
type ClientConfig struct {
	BaseURL   string
	APIPrefix string
	Token     string
	DeviceID  string
	Timeout   time.Duration
}

// VisitClient talks to the check-in server over HTTP.
type VisitClient struct {
	cfg    ClientConfig
	http   *http.Client
	logger *zap.Logger
}

type envelope struct {
	Data  json.RawMessage  `json:"data"`
	Error *appErrors.Error `json:"error"`
}

// NewVisitClient builds a client. httpClient may be nil.
func NewVisitClient(cfg ClientConfig, httpClient *http.Client, logger *zap.Logger) *VisitClient {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VisitClient{cfg: cfg, http: httpClient, logger: logger}
}

// RecordVisit posts one visit. Errors are *appErrors.Error values: server
// rejections keep their code, and anything the device cannot tell apart from
// a lost response is ErrTransient.
func (c *VisitClient) RecordVisit(ctx context.Context, req dto.RecordVisitRequest) (*dto.RecordVisitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "visit payload not encodable")
	}
	var res dto.RecordVisitResponse
	if err := c.do(ctx, http.MethodPost, c.cfg.APIPrefix+"/visits", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// FetchIdentifiers downloads the identifier snapshot.
func (c *VisitClient) FetchIdentifiers(ctx context.Context) (*models.IdentifierSnapshot, error) {
	var snapshot models.IdentifierSnapshot
	if err := c.do(ctx, http.MethodGet, c.cfg.APIPrefix+"/students/identifiers", nil, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Probe checks the server health endpoint.
func (c *VisitClient) Probe(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func (c *VisitClient) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "invalid server url")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.cfg.DeviceID != "" {
		req.Header.Set(logger.DeviceHeader, c.cfg.DeviceID)
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	if id == "" {
		id = uuid.NewString()
	}
	req.Header.Set(requestid.HeaderKey, id)
	return req, nil
}

func (c *VisitClient) do(ctx context.Context, method, path string, body []byte, dest interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "server unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "response interrupted")
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if decodeErr != nil {
			return appErrors.Wrap(decodeErr, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "unreadable server response")
		}
		if dest != nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, dest); err != nil {
				return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "unreadable server response")
			}
		}
		return nil
	}

	apiErr := statusError(resp.StatusCode)
	if decodeErr == nil && env.Error != nil && env.Error.Code != "" {
		apiErr = env.Error
		apiErr.Status = resp.StatusCode
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		if !errors.Is(apiErr, appErrors.ErrTransient) {
			apiErr = appErrors.Wrap(apiErr, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, apiErr.Message)
		}
	}
	c.logger.Debug("server rejected request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("code", apiErr.Code))
	return apiErr
}

// statusError covers responses without an error envelope, such as proxies or
// captive portals. They are never taken as a verdict on the visit itself.
func statusError(status int) *appErrors.Error {
	return appErrors.New(appErrors.ErrInternal.Code, status, fmt.Sprintf("unexpected status %d", status))
}
