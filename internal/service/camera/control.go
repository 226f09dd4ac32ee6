package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrResolutionMismatch is returned when the stream does not deliver the requested size.
var ErrResolutionMismatch = errors.New("camera resolution mismatch")

// ControlError is a camera HTTP command that did not succeed.
type ControlError struct {
	Op     string
	Status int
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("camera %s: unexpected status %d", e.Op, e.Status)
}

// Control drives the camera's HTTP settings endpoints.
type Control struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

func NewControl(baseURL, username, password string) *Control {
	return &Control{
		baseURL:  baseURL,
		username: username,
		password: password,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Control) get(ctx context.Context, op, path string, query url.Values) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("camera %s: %w", op, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ControlError{Op: op, Status: resp.StatusCode}
	}
	return nil
}

// SetVideoSize asks the camera to stream at width x height.
func (c *Control) SetVideoSize(ctx context.Context, width, height int) error {
	return c.get(ctx, "video_size", "/settings/video_size", url.Values{
		"set": {fmt.Sprintf("%dx%d", width, height)},
	})
}

// SetTorch switches the camera light.
func (c *Control) SetTorch(ctx context.Context, on bool) error {
	if on {
		return c.get(ctx, "enabletorch", "/enabletorch", nil)
	}
	return c.get(ctx, "disabletorch", "/disabletorch", nil)
}

// VerifyResolution checks the stream delivers the requested frame size.
func VerifyResolution(s *Stream, width, height int) error {
	w, h := s.Size()
	if w != width || h != height {
		return fmt.Errorf("%w: requested %dx%d, stream is %dx%d", ErrResolutionMismatch, width, height, w, h)
	}
	return nil
}
