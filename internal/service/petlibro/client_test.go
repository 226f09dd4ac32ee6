package petlibro

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"feeder/internal/logger"
)

type fakeAPI struct {
	mu       sync.Mutex
	logins   int
	calls    []string
	bodies   []map[string]interface{}
	expireOn string // path that answers 1009 once
	expired  bool
	devices  []Device
	failCode int
}

func (f *fakeAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)

		if r.Header.Get("source") != "ANDROID" || r.Header.Get("version") != appVersion {
			t.Errorf("Missing client headers on %s", r.URL.Path)
		}

		reply := func(code int, data interface{}) {
			json.NewEncoder(w).Encode(map[string]interface{}{"code": code, "msg": "msg", "data": data})
		}

		if r.URL.Path == "/member/auth/login" {
			f.logins++
			if body["password"] != HashPassword("hunter2") {
				reply(1001, nil)
				return
			}
			reply(0, map[string]string{"token": "tok"})
			return
		}

		if r.Header.Get("token") != "tok" {
			reply(codeNotLoggedIn, nil)
			return
		}
		f.calls = append(f.calls, r.URL.Path)
		f.bodies = append(f.bodies, body)

		if r.URL.Path == f.expireOn && !f.expired {
			f.expired = true
			reply(codeNotLoggedIn, nil)
			return
		}
		if f.failCode != 0 {
			reply(f.failCode, nil)
			return
		}

		switch r.URL.Path {
		case "/device/device/list":
			reply(0, f.devices)
		default:
			reply(0, nil)
		}
	}
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	c, err := New(Options{
		BaseURL:  srv.URL,
		Region:   "US",
		Timezone: "America/New_York",
		Email:    "cat@example.com",
		Password: "hunter2",
	}, logger.NewDiscard())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

var feeders = []Device{
	{DeviceSn: "FD-1", ProductName: "Granary Feeder", Online: true},
	{DeviceSn: "WF-2", ProductName: WetFeederProduct, Name: "Kitchen", Online: true},
}

func TestHashPassword(t *testing.T) {
	if got := HashPassword("password"); got != "5f4dcc3b5aa765d61d8327deb882cf99" {
		t.Errorf("Unexpected digest %s", got)
	}
}

func TestNew_UnknownRegion(t *testing.T) {
	if _, err := New(Options{Region: "XX"}, logger.NewDiscard()); err == nil {
		t.Error("Expected error for unknown region")
	}
}

func TestClient_FeedStartAndStop(t *testing.T) {
	api := &fakeAPI{devices: feeders}
	c := newTestClient(t, api)
	ctx := context.Background()

	if err := c.FeedStart(ctx, 2); err != nil {
		t.Fatalf("FeedStart failed: %v", err)
	}
	if err := c.FeedStop(ctx); err != nil {
		t.Fatalf("FeedStop failed: %v", err)
	}

	want := []string{"/device/device/list", "/device/wetFeedingPlan/manualFeedNow", "/device/wetFeedingPlan/stopFeedNow"}
	if len(api.calls) != len(want) {
		t.Fatalf("Expected calls %v, got %v", want, api.calls)
	}
	for i := range want {
		if api.calls[i] != want[i] {
			t.Errorf("Call %d: expected %s, got %s", i, want[i], api.calls[i])
		}
	}
	if api.logins != 1 {
		t.Errorf("Expected a single login, got %d", api.logins)
	}

	start := api.bodies[1]
	if start["deviceSn"] != "WF-2" || start["plate"] != float64(2) {
		t.Errorf("Unexpected start body %v", start)
	}
	stop := api.bodies[2]
	if stop["deviceSn"] != "WF-2" || stop["feedId"] != float64(1) {
		t.Errorf("Unexpected stop body %v", stop)
	}
}

func TestClient_ReloginOnExpiredToken(t *testing.T) {
	api := &fakeAPI{devices: feeders, expireOn: "/device/wetFeedingPlan/stopFeedNow"}
	c := newTestClient(t, api)

	if err := c.FeedStop(context.Background()); err != nil {
		t.Fatalf("FeedStop failed: %v", err)
	}
	if api.logins != 2 {
		t.Errorf("Expected one re-login, got %d logins", api.logins)
	}
	if n := len(api.calls); n != 3 || api.calls[n-1] != "/device/wetFeedingPlan/stopFeedNow" {
		t.Errorf("Expected the stop to be retried, got %v", api.calls)
	}
}

func TestClient_APIError(t *testing.T) {
	api := &fakeAPI{devices: feeders}
	c := newTestClient(t, api)
	ctx := context.Background()

	if _, err := c.WetFeeder(ctx); err != nil {
		t.Fatalf("WetFeeder failed: %v", err)
	}
	api.failCode = 500

	err := c.FeedStart(ctx, 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.Op != "manualFeedNow" || apiErr.Code != 500 {
		t.Errorf("Unexpected error %+v", apiErr)
	}
}

func TestClient_LoginRejected(t *testing.T) {
	api := &fakeAPI{devices: feeders}
	c := newTestClient(t, api)
	c.opts.Password = "wrong"

	var apiErr *APIError
	if err := c.Login(context.Background()); !errors.As(err, &apiErr) || apiErr.Code != 1001 {
		t.Errorf("Expected login APIError 1001, got %v", err)
	}
}

func TestClient_DeviceDiscovery(t *testing.T) {
	tests := []struct {
		name    string
		devices []Device
		wantErr error
	}{
		{"missing", []Device{{DeviceSn: "FD-1", ProductName: "Granary Feeder", Online: true}}, ErrNoDevice},
		{"offline", []Device{{DeviceSn: "WF-2", ProductName: WetFeederProduct}}, ErrDeviceOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &fakeAPI{devices: tt.devices})
			if err := c.FeedStop(context.Background()); !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	c := newTestClient(t, &fakeAPI{devices: feeders})
	devices, err := c.Devices(context.Background())
	if err != nil || len(devices) != 2 {
		t.Errorf("Expected 2 devices, got %v (%v)", devices, err)
	}
}
