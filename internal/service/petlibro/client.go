// Package petlibro is a small client for the PETLIBRO cloud API, limited to
// what the wet-food feeder needs: login, device discovery, and opening and
// closing the plate.
package petlibro

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"feeder/internal/logger"
)

const (
	appID = 1
	appSN = "c35772530d1041699c87fe62348507a8"

	appVersion = "1.3.45"

	// WetFeederProduct is the product name the feeder reports in the device list.
	WetFeederProduct = "Polar Wet Food Feeder"

	codeOK          = 0
	codeNotLoggedIn = 1009
)

// BaseURLs maps a region to its API endpoint.
var BaseURLs = map[string]string{
	"US": "https://api.us.petlibro.com",
}

var (
	ErrNoDevice      = errors.New("no wet food feeder found")
	ErrDeviceOffline = errors.New("wet food feeder is offline")
)

// APIError is a request the API answered with a non-zero code or a bad status.
type APIError struct {
	Op     string
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	if e.Status != 0 && e.Status != http.StatusOK {
		return fmt.Sprintf("petlibro %s: http status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("petlibro %s: code %d: %s", e.Op, e.Code, e.Msg)
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Device is an entry of the account's device list.
type Device struct {
	DeviceSn    string `json:"deviceSn"`
	Name        string `json:"name"`
	ProductName string `json:"productName"`
	Online      bool   `json:"online"`
}

type Options struct {
	BaseURL  string // overrides the region endpoint
	Region   string
	Timezone string
	Email    string
	Password string
	Timeout  time.Duration
}

// Client talks to the API. Requests are serialized; the session token is
// acquired lazily and renewed once when the API reports it expired.
type Client struct {
	opts   Options
	http   *http.Client
	logger *logger.Logger

	mu     sync.Mutex
	token  string
	device *Device
}

func New(opts Options, logger *logger.Logger) (*Client, error) {
	if opts.BaseURL == "" {
		url, ok := BaseURLs[opts.Region]
		if !ok {
			return nil, fmt.Errorf("unsupported petlibro region %q", opts.Region)
		}
		opts.BaseURL = url
	}
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Client{
		opts:   opts,
		http:   &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}, nil
}

// HashPassword is the password digest the login endpoint expects.
func HashPassword(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

func (c *Client) do(ctx context.Context, op, path, token string, body interface{}) (*envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("source", "ANDROID")
	req.Header.Set("language", "EN")
	req.Header.Set("timezone", c.opts.Timezone)
	req.Header.Set("version", appVersion)
	if token != "" {
		req.Header.Set("token", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("petlibro %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("petlibro %s: failed to read response: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Op: op, Status: resp.StatusCode}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("petlibro %s: failed to decode response: %w", op, err)
	}
	return &env, nil
}

// Login acquires a session token.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	env, err := c.do(ctx, "login", "/member/auth/login", "", map[string]interface{}{
		"appId":              appID,
		"appSn":              appSN,
		"country":            c.opts.Region,
		"email":              c.opts.Email,
		"password":           HashPassword(c.opts.Password),
		"phoneBrand":         "",
		"phoneSystemVersion": "",
		"timezone":           c.opts.Timezone,
		"thirdId":            nil,
		"type":               nil,
	})
	if err != nil {
		return err
	}
	if env.Code != codeOK {
		return &APIError{Op: "login", Code: env.Code, Msg: env.Msg}
	}

	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		return &APIError{Op: "login", Code: env.Code, Msg: "no token in response"}
	}

	c.token = data.Token
	c.logger.Debug("Logged in to petlibro as %s", c.opts.Email)
	return nil
}

// call posts body to path and decodes the data field into out. An expired
// token triggers a single re-login and retry.
func (c *Client) call(ctx context.Context, op, path string, body, out interface{}) error {
	if c.token == "" {
		if err := c.login(ctx); err != nil {
			return err
		}
	}

	env, err := c.do(ctx, op, path, c.token, body)
	if err != nil {
		return err
	}
	if env.Code == codeNotLoggedIn {
		c.logger.Debug("Petlibro session expired during %s, logging in again", op)
		if err := c.login(ctx); err != nil {
			return err
		}
		if env, err = c.do(ctx, op, path, c.token, body); err != nil {
			return err
		}
	}
	if env.Code != codeOK {
		return &APIError{Op: op, Code: env.Code, Msg: env.Msg}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("petlibro %s: failed to decode data: %w", op, err)
		}
	}
	return nil
}

// Devices lists the devices on the account.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.devices(ctx)
}

func (c *Client) devices(ctx context.Context) ([]Device, error) {
	var devices []Device
	if err := c.call(ctx, "device list", "/device/device/list", map[string]interface{}{}, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// WetFeeder finds the wet food feeder on the account and caches it.
func (c *Client) WetFeeder(ctx context.Context) (Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wetFeeder(ctx)
}

func (c *Client) wetFeeder(ctx context.Context) (Device, error) {
	if c.device != nil {
		return *c.device, nil
	}

	devices, err := c.devices(ctx)
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		if d.ProductName != WetFeederProduct {
			continue
		}
		if !d.Online {
			return d, fmt.Errorf("%w: %s", ErrDeviceOffline, d.DeviceSn)
		}
		c.device = &d
		c.logger.Info("Using feeder %s (%s)", d.DeviceSn, d.Name)
		return d, nil
	}
	return Device{}, ErrNoDevice
}

// FeedStart opens the plate.
func (c *Client) FeedStart(ctx context.Context, plate int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	device, err := c.wetFeeder(ctx)
	if err != nil {
		return err
	}
	return c.call(ctx, "manualFeedNow", "/device/wetFeedingPlan/manualFeedNow", map[string]interface{}{
		"deviceSn": device.DeviceSn,
		"plate":    plate,
	}, nil)
}

// FeedStop closes the plate.
func (c *Client) FeedStop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	device, err := c.wetFeeder(ctx)
	if err != nil {
		return err
	}
	return c.call(ctx, "stopFeedNow", "/device/wetFeedingPlan/stopFeedNow", map[string]interface{}{
		"deviceSn": device.DeviceSn,
		"feedId":   1,
	}, nil)
}
