// Package nuvla is the registry client for Nuvla nuvlabox-peripheral
// resources. It keeps an api-key session and re-authenticates once when
// the session is rejected.
package nuvla

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"modbusmgr/internal/domain"
)

const (
	sessionPath    = "/api/session"
	peripheralPath = "/api/nuvlabox-peripheral"
	apiKeyTemplate = "session-template/api-key"
)

// HTTPClient defines the interface for making HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the connection settings for a Nuvla endpoint
type Config struct {
	Endpoint  string
	Insecure  bool
	APIKey    string
	APISecret string
	// ParentID is the nuvlabox resource that owns created peripherals
	ParentID string
	Version  int
	Timeout  time.Duration
}

// Client talks to the Nuvla REST API
type Client struct {
	cfg    Config
	http   HTTPClient
	logger zerolog.Logger

	mu       sync.Mutex
	loggedIn bool
}

// New creates a client. A nil httpClient gets a cookie-keeping default
// honoring cfg.Insecure and cfg.Timeout.
func New(cfg Config, httpClient HTTPClient, logger zerolog.Logger) (*Client, error) {
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.Insecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		httpClient = &http.Client{Jar: jar, Transport: transport, Timeout: timeout}
	}

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger,
	}, nil
}

// Login opens an api-key session
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	body := map[string]any{
		"template": map[string]string{
			"href":   apiKeyTemplate,
			"key":    c.cfg.APIKey,
			"secret": c.cfg.APISecret,
		},
	}

	c.logger.Info().Str("api_key", c.cfg.APIKey).Str("endpoint", c.cfg.Endpoint).Msg("Authenticating with Nuvla")

	resp, err := c.send(ctx, http.MethodPost, sessionPath, body)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		c.loggedIn = false
		return fmt.Errorf("login with api key %s: %w", c.cfg.APIKey, err)
	}

	c.loggedIn = true
	return nil
}

// Create registers a peripheral and returns its resource id
func (c *Client) Create(ctx context.Context, id domain.Identity, metadata map[string]string) (string, error) {
	payload := c.peripheralPayload(id, metadata)
	payload["parent"] = c.cfg.ParentID
	payload["version"] = c.cfg.Version

	var out struct {
		ResourceID string `json:"resource-id"`
	}
	if err := c.call(ctx, http.MethodPost, peripheralPath, payload, &out); err != nil {
		return "", fmt.Errorf("create peripheral %s: %w", id, err)
	}
	if out.ResourceID == "" {
		return "", fmt.Errorf("create peripheral %s: %w", id, errMissingResourceID)
	}
	return out.ResourceID, nil
}

// Update replaces the peripheral description of an existing resource
func (c *Client) Update(ctx context.Context, id domain.Identity, remoteID string, metadata map[string]string) error {
	if err := c.call(ctx, http.MethodPut, resourcePath(remoteID), c.peripheralPayload(id, metadata), nil); err != nil {
		return fmt.Errorf("update peripheral %s (%s): %w", remoteID, id, err)
	}
	return nil
}

// Remove deletes a peripheral resource. Returns ErrNotFound if it is already gone.
//
// When the delete fails for any other reason the resource is marked
// unavailable instead. The delete error is still returned so the removal
// is retried.
func (c *Client) Remove(ctx context.Context, id domain.Identity, remoteID string) error {
	err := c.call(ctx, http.MethodDelete, resourcePath(remoteID), nil, nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		c.markUnavailable(ctx, remoteID)
	}
	return fmt.Errorf("remove peripheral %s (%s): %w", remoteID, id, err)
}

func (c *Client) markUnavailable(ctx context.Context, remoteID string) {
	payload := map[string]any{"available": false}
	if err := c.call(ctx, http.MethodPut, resourcePath(remoteID), payload, nil); err != nil {
		c.logger.Debug().Err(err).Str("resource", remoteID).Msg("Could not mark peripheral unavailable")
		return
	}
	c.logger.Warn().Str("resource", remoteID).Msg("Delete failed, peripheral marked unavailable")
}

// call performs an authenticated request, logging in first if needed and
// retrying once after re-authentication when the session was rejected
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}

	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		drain(resp)
		c.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("Session rejected, re-authenticating")

		c.mu.Lock()
		err := c.login(ctx)
		c.mu.Unlock()
		if err != nil {
			return err
		}

		if resp, err = c.send(ctx, method, path, body); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}
	return c.login(ctx)
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %d", ErrUnauthorized, resp.StatusCode)
	default:
		return fmt.Errorf("%w: %d, response: %s", errUnexpectedStatusCode, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

// resourcePath maps "nuvlabox-peripheral/uuid" to "/api/nuvlabox-peripheral/uuid"
func resourcePath(remoteID string) string {
	return "/api/" + strings.TrimPrefix(remoteID, "/")
}
