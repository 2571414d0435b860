package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/haier-bridge/internal/auth"
	"github.com/nerrad567/haier-bridge/internal/bridges/haier"
	"github.com/nerrad567/haier-bridge/internal/infrastructure/config"
	"github.com/nerrad567/haier-bridge/internal/infrastructure/logging"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

type fakeService struct {
	mu         sync.Mutex
	devices    []haier.Device
	snapshot   map[string]any
	snapErr    error
	connected  bool
	controls   []haier.ControlEvent
	refreshed  []string
	refreshErr error
}

func (f *fakeService) Devices() []haier.Device { return f.devices }

func (f *fakeService) Device(id string) (haier.Device, bool) {
	for _, d := range f.devices {
		if d.ID == id {
			return d, true
		}
	}
	return haier.Device{}, false
}

func (f *fakeService) Snapshot(_ context.Context, id string) (map[string]any, error) {
	if _, ok := f.Device(id); !ok {
		return nil, fmt.Errorf("%w: %s", haier.ErrUnknownDevice, id)
	}
	return f.snapshot, f.snapErr
}

func (f *fakeService) Control(ev haier.ControlEvent) error {
	if _, ok := f.Device(ev.DeviceID); !ok {
		return fmt.Errorf("%w: %s", haier.ErrUnknownDevice, ev.DeviceID)
	}
	if !f.connected {
		return haier.ErrNotConnected
	}
	f.mu.Lock()
	f.controls = append(f.controls, ev)
	f.mu.Unlock()
	return nil
}

func (f *fakeService) RefreshModel(_ context.Context, id string) (haier.Device, error) {
	d, ok := f.Device(id)
	if !ok {
		return haier.Device{}, fmt.Errorf("%w: %s", haier.ErrUnknownDevice, id)
	}
	if f.refreshErr != nil {
		return haier.Device{}, f.refreshErr
	}
	f.mu.Lock()
	f.refreshed = append(f.refreshed, id)
	f.mu.Unlock()
	return d, nil
}

type fakeState map[string]haier.DeviceState

func (f fakeState) Device(id string) (haier.DeviceState, bool) {
	st, ok := f[id]
	return st, ok
}

type fakeHealth struct{ msg haier.HealthMessage }

func (f fakeHealth) Current() haier.HealthMessage { return f.msg }

func testService() *fakeService {
	return &fakeService{
		devices: []haier.Device{{
			ID:          "dev-1",
			Name:        "Boiler",
			Type:        "waterHeater",
			ProductCode: "pc-1",
			Attributes: []haier.Attribute{
				{Name: "targetTemp", Writable: true, Value: "40", HasValue: true},
			},
		}},
		snapshot:  map[string]any{"targetTemp": "42"},
		connected: true,
	}
}

// testServer creates a Server with fake dependencies. An empty secret
// disables authentication.
func testServer(t *testing.T, svc *fakeService, secret string) *Server {
	t.Helper()

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: secret}},
		Logger:   log,
		Service:  svc,
		State: fakeState{"dev-1": {
			Attributes: map[string]any{"currentTemp": "38"},
			UpdatedAt:  time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		}},
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func do(t *testing.T, srv *Server, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func mustToken(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken("tester", role, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	return tok
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Service: testService()}); err == nil {
		t.Error("New() without logger should fail")
	}
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without service should fail")
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t, testService(), testSecret)

	rec := do(t, srv, http.MethodGet, "/api/v1/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	srv.health = fakeHealth{msg: haier.HealthMessage{Bridge: "haier-bridge", Status: haier.HealthDegraded}}
	rec = do(t, srv, http.MethodGet, "/api/v1/health", "", "")
	var msg haier.HealthMessage
	if err := json.NewDecoder(rec.Body).Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Status != haier.HealthDegraded {
		t.Errorf("Status = %q, want degraded", msg.Status)
	}
}

func TestListDevices(t *testing.T) {
	srv := testServer(t, testService(), "")

	rec := do(t, srv, http.MethodGet, "/api/v1/devices", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Devices []map[string]any `json:"devices"`
		Count   int              `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Devices[0]["id"] != "dev-1" {
		t.Fatalf("body = %+v", body)
	}
	if _, ok := body.Devices[0]["attributes"]; ok {
		t.Error("list should omit attribute models")
	}
}

func TestGetDevice(t *testing.T) {
	srv := testServer(t, testService(), "")

	rec := do(t, srv, http.MethodGet, "/api/v1/devices/dev-1", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		ID         string            `json:"id"`
		Attributes []haier.Attribute `json:"attributes"`
		State      *struct {
			Attributes map[string]any `json:"attributes"`
		} `json:"state"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Attributes) != 1 || body.Attributes[0].Name != "targetTemp" {
		t.Errorf("Attributes = %+v", body.Attributes)
	}
	if a := body.Attributes[0]; a.HasValue || a.Value != nil {
		t.Errorf("cached value served: %+v", a)
	}
	if body.State == nil || body.State.Attributes["currentTemp"] != "38" {
		t.Errorf("State = %+v", body.State)
	}

	rec = do(t, srv, http.MethodGet, "/api/v1/devices/nope", "", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", rec.Code)
	}
}

func TestGetSnapshot(t *testing.T) {
	svc := testService()
	srv := testServer(t, svc, "")

	rec := do(t, srv, http.MethodGet, "/api/v1/devices/dev-1/snapshot", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Attributes map[string]any `json:"attributes"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Attributes["targetTemp"] != "42" {
		t.Errorf("Attributes = %v", body.Attributes)
	}

	if rec := do(t, srv, http.MethodGet, "/api/v1/devices/nope/snapshot", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", rec.Code)
	}

	svc.snapErr = &haier.RemoteError{Code: "E1", Info: "boom"}
	if rec := do(t, srv, http.MethodGet, "/api/v1/devices/dev-1/snapshot", "", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("cloud failure status = %d, want 502", rec.Code)
	}
}

func TestControl(t *testing.T) {
	svc := testService()
	srv := testServer(t, svc, "")

	rec := do(t, srv, http.MethodPost, "/api/v1/devices/dev-1/control", `{"attributes":{"targetTemp":"42"}}`, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if len(svc.controls) != 1 || svc.controls[0].Attributes["targetTemp"] != "42" {
		t.Fatalf("controls = %+v", svc.controls)
	}

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"bad json", "/api/v1/devices/dev-1/control", `{`, http.StatusBadRequest},
		{"empty attributes", "/api/v1/devices/dev-1/control", `{"attributes":{}}`, http.StatusBadRequest},
		{"unknown device", "/api/v1/devices/nope/control", `{"attributes":{"a":"1"}}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, srv, http.MethodPost, tt.path, tt.body, ""); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	svc.connected = false
	rec = do(t, srv, http.MethodPost, "/api/v1/devices/dev-1/control", `{"attributes":{"targetTemp":"40"}}`, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disconnected status = %d, want 503", rec.Code)
	}
}

func TestRefreshModel(t *testing.T) {
	svc := testService()
	srv := testServer(t, svc, "")

	rec := do(t, srv, http.MethodPost, "/api/v1/devices/dev-1/refresh", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(svc.refreshed) != 1 || svc.refreshed[0] != "dev-1" {
		t.Errorf("refreshed = %v", svc.refreshed)
	}
	if strings.Contains(rec.Body.String(), `"value"`) {
		t.Errorf("refresh response carries cached values: %s", rec.Body.String())
	}

	if rec := do(t, srv, http.MethodPost, "/api/v1/devices/nope/refresh", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", rec.Code)
	}

	svc.refreshErr = &haier.RemoteError{Code: "E1", Info: "boom"}
	if rec := do(t, srv, http.MethodPost, "/api/v1/devices/dev-1/refresh", "", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("cloud failure status = %d, want 502", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv := testServer(t, testService(), testSecret)
	viewer := mustToken(t, auth.RoleViewer)
	operator := mustToken(t, auth.RoleOperator)
	control := `{"attributes":{"targetTemp":"42"}}`

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/devices", "", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/v1/devices", "", "junk", http.StatusUnauthorized},
		{"viewer reads", http.MethodGet, "/api/v1/devices", "", viewer, http.StatusOK},
		{"viewer control", http.MethodPost, "/api/v1/devices/dev-1/control", control, viewer, http.StatusForbidden},
		{"operator control", http.MethodPost, "/api/v1/devices/dev-1/control", control, operator, http.StatusAccepted},
		{"viewer refresh", http.MethodPost, "/api/v1/devices/dev-1/refresh", "", viewer, http.StatusForbidden},
		{"operator refresh", http.MethodPost, "/api/v1/devices/dev-1/refresh", "", operator, http.StatusOK},
		{"health is public", http.MethodGet, "/api/v1/health", "", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.path, tt.body, tt.token)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		got, ok := bearerToken(req)
		if got != tt.want || ok != tt.ok {
			t.Errorf("bearerToken(%q) = %q, %v; want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStartClose(t *testing.T) {
	srv := testServer(t, testService(), "")
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start should fail")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
	if err := srv.Close(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close: %v", err)
	}
}
