package haier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newTestClient wires a Client to an httptest server whose handler sees
// every endpoint under a distinct path.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(ClientOptions{
		Credentials: Credentials{
			AppID:    "MB-TEST-0000",
			AppKey:   "test-key",
			ClientID: "client-1",
			Timezone: "+8",
			Language: "zh-CN",
		},
		Endpoints: Endpoints{
			RefreshToken:  srv.URL + "/refresh",
			UserInfo:      srv.URL + "/userinfo",
			Devices:       srv.URL + "/devices",
			GatewayAssign: srv.URL + "/assign",
			DigitalModel:  srv.URL + "/model",
		},
		HTTPClient: srv.Client(),
		Tokens:     StaticToken("access-1"),
	})
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func TestRefreshToken(t *testing.T) {
	var gotBody map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/refresh" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, `{"retCode":"00000","data":{"tokenInfo":{"accountToken":"A2","refreshToken":"R2","expiresIn":3600}}}`)
	})

	info, err := client.RefreshToken(context.Background(), "R1")
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}
	if gotBody["refreshToken"] != "R1" {
		t.Errorf("request refreshToken = %q, want R1", gotBody["refreshToken"])
	}
	want := TokenInfo{AccessToken: "A2", RefreshToken: "R2", ExpiresIn: 3600}
	if info != want {
		t.Errorf("RefreshToken() = %+v, want %+v", info, want)
	}
}

func TestRemoteErrorEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, `{"retCode":"99999","retInfo":"boom"}`)
	})

	_, err := client.ListDevices(context.Background())
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("ListDevices() error = %v, want ErrRemote", err)
	}
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("error %v is not a *RemoteError", err)
	}
	if remote.Code != "99999" || remote.Info != "boom" {
		t.Errorf("RemoteError = %+v, want code 99999 info boom", remote)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error message %q does not carry retInfo", err.Error())
	}
}

func TestCheckEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"success code", `{"retCode":"00000"}`, false},
		{"missing code", `{"deviceinfos":[]}`, false},
		{"null code", `{"retCode":null}`, false},
		{"failure code", `{"retCode":"A00001","retInfo":"token expired"}`, true},
		{"numeric failure code", `{"retCode":500}`, true},
		{"array body", `[1,2]`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkEnvelope([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Errorf("checkEnvelope(%s) error = %v, wantErr %v", tt.body, err, tt.wantErr)
			}
		})
	}
}

func TestSignedRequestHeaders(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		for _, key := range []string{"accessToken", "appId", "appKey", "clientId", "sequenceId", "sign", "timestamp", "timezone", "language"} {
			if r.Header.Get(key) == "" {
				t.Errorf("header %s missing", key)
			}
		}
		if got := r.Header.Get("accessToken"); got != "access-1" {
			t.Errorf("accessToken header = %q, want access-1", got)
		}
		if got := r.Header.Get("clientId"); got != "client-1" {
			t.Errorf("clientId header = %q, want client-1", got)
		}
		writeJSON(w, `{"retCode":"00000","deviceinfos":[]}`)
	})

	if _, err := client.ListDevices(context.Background()); err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
}

func TestListDevices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		writeJSON(w, `{"retCode":"00000","deviceinfos":[
			{"deviceId":"d1","deviceName":"Boiler","deviceType":"water_heater","productCodeT":"PC1","productNameT":"Heater X","wifiType":"W1"},
			{"deviceId":"d2","deviceName":"AC"}
		]}`)
	})

	devices, err := client.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("len(devices) = %d, want 2", len(devices))
	}
	want := Device{ID: "d1", Name: "Boiler", Type: "water_heater", ProductCode: "PC1", ProductName: "Heater X", WifiType: "W1"}
	if devices[0].ID != want.ID || devices[0].Name != want.Name || devices[0].ProductName != want.ProductName || devices[0].WifiType != want.WifiType {
		t.Errorf("devices[0] = %+v, want %+v", devices[0], want)
	}
	if len(devices[0].Attributes) != 0 {
		t.Errorf("devices[0].Attributes = %v, want empty", devices[0].Attributes)
	}
}

func TestGetDigitalModel(t *testing.T) {
	model := `{"attributes":[{"name":"targetTemp","value":"42","writable":true,"valueRange":{"type":"STEP","dataStep":{"dataType":"Integer","step":"1","minValue":"35","maxValue":"75"}}},{"name":"onOffStatus"}]}`
	encoded, _ := json.Marshal(model)

	var gotBody struct {
		DeviceInfoList []map[string]string `json:"deviceInfoList"`
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, `{"retCode":"00000","detailInfo":{"d1":`+string(encoded)+`}}`)
	})

	attrs, err := client.GetDigitalModel(context.Background(), "d1")
	if err != nil {
		t.Fatalf("GetDigitalModel() error = %v", err)
	}
	if len(gotBody.DeviceInfoList) != 1 || gotBody.DeviceInfoList[0]["deviceId"] != "d1" {
		t.Errorf("request body = %+v, want one deviceId d1", gotBody)
	}
	if len(attrs) != 2 {
		t.Fatalf("len(attrs) = %d, want 2", len(attrs))
	}
	if attrs[0].Name != "targetTemp" || attrs[0].Value != "42" || !attrs[0].HasValue {
		t.Errorf("attrs[0] = %+v", attrs[0])
	}
	if attrs[0].ValueRange.DataStep == nil || attrs[0].ValueRange.DataStep.MaxValue != "75" {
		t.Errorf("attrs[0].ValueRange = %+v", attrs[0].ValueRange)
	}
	if attrs[1].HasValue {
		t.Errorf("attrs[1].HasValue = true, want false")
	}
}

func TestGetDigitalModelMissingDevice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, `{"retCode":"00000","detailInfo":{}}`)
	})

	attrs, err := client.GetDigitalModel(context.Background(), "d1")
	if err != nil {
		t.Fatalf("GetDigitalModel() error = %v", err)
	}
	if attrs == nil || len(attrs) != 0 {
		t.Errorf("GetDigitalModel() = %v, want empty non-nil list", attrs)
	}
}

func TestGetDeviceSnapshot(t *testing.T) {
	model, _ := json.Marshal(`{"attributes":[{"name":"a","value":"1"},{"name":"b"},{"name":"c","value":null}]}`)
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, `{"detailInfo":{"d1":`+string(model)+`}}`)
	})

	snap, err := client.GetDeviceSnapshot(context.Background(), "d1")
	if err != nil {
		t.Fatalf("GetDeviceSnapshot() error = %v", err)
	}
	if len(snap) != 2 || snap["a"] != "1" {
		t.Errorf("snapshot = %v, want a=1 and c=nil", snap)
	}
	if v, ok := snap["c"]; !ok || v != nil {
		t.Errorf("snapshot[c] = %v, %v; want nil, true", v, ok)
	}
	if _, ok := snap["b"]; ok {
		t.Errorf("snapshot contains b, which had no value")
	}
}

func TestGetUserInfo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
			t.Errorf("Authorization = %q, want Bearer access-1", got)
		}
		writeJSON(w, `{"userId":"u1","mobile":"13800000000","username":"alice"}`)
	})

	user, err := client.GetUserInfo(context.Background())
	if err != nil {
		t.Fatalf("GetUserInfo() error = %v", err)
	}
	want := UserInfo{UserID: "u1", Mobile: "13800000000", Username: "alice"}
	if user != want {
		t.Errorf("GetUserInfo() = %+v, want %+v", user, want)
	}
}

func TestGetUserInfoAuthError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, `{"error":"invalid_token","error_description":"token expired"}`)
	})

	_, err := client.GetUserInfo(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("GetUserInfo() error = %v, want ErrAuth", err)
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Description != "token expired" {
		t.Errorf("AuthError = %+v, want description 'token expired'", authErr)
	}
}

func TestGetGatewayURL(t *testing.T) {
	var gotBody map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, `{"retCode":"00000","agAddr":"http://gw.example.com:9000"}`)
	})

	got, err := client.GetGatewayURL(context.Background())
	if err != nil {
		t.Fatalf("GetGatewayURL() error = %v", err)
	}
	if got != "wss://gw.example.com:9000" {
		t.Errorf("GetGatewayURL() = %q, want wss://gw.example.com:9000", got)
	}
	if gotBody["clientId"] != "client-1" || gotBody["token"] != "access-1" {
		t.Errorf("request body = %v", gotBody)
	}
}

func TestNonJSONResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html>bad gateway</html>")
	})

	_, err := client.GetGatewayURL(context.Background())
	if !errors.Is(err, ErrDecode) {
		t.Errorf("GetGatewayURL() error = %v, want ErrDecode", err)
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(ClientOptions{
		Endpoints:  Endpoints{Devices: url + "/devices"},
		HTTPClient: &http.Client{Timeout: time.Second},
	})
	_, err := client.ListDevices(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Errorf("ListDevices() error = %v, want ErrTransport", err)
	}
}

func TestSetTokenProvider(t *testing.T) {
	client := NewClient(ClientOptions{})
	if got := client.AccessToken(); got != "" {
		t.Errorf("AccessToken() = %q, want empty", got)
	}
	client.SetTokenProvider(StaticToken("swapped"))
	if got := client.AccessToken(); got != "swapped" {
		t.Errorf("AccessToken() = %q, want swapped", got)
	}
}
