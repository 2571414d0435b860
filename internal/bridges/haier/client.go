package haier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// successCode is the retCode of a successful response envelope.
	successCode = "00000"

	// maxResponseSize caps REST response bodies.
	maxResponseSize = 8 << 20

	defaultHTTPTimeout = 15 * time.Second
)

// Endpoints lists the vendor REST URLs.
type Endpoints struct {
	RefreshToken  string
	UserInfo      string
	Devices       string
	GatewayAssign string
	DigitalModel  string
}

// DefaultEndpoints returns the production vendor endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		RefreshToken:  "https://zj.haier.net/api-gw/oauthserver/account/v1/refreshToken",
		UserInfo:      "https://account-api.haier.net/v2/haier/userinfo",
		Devices:       "https://uws.haier.net/uds/v1/protected/deviceinfos",
		GatewayAssign: "https://uws.haier.net/gmsWS/wsag/assign",
		DigitalModel:  "https://uws.haier.net/shadow/v1/devdigitalmodels",
	}
}

// TokenProvider supplies the access token placed on each call.
type TokenProvider interface {
	AccessToken() string
}

// StaticToken is a TokenProvider that never changes.
type StaticToken string

// AccessToken returns the token itself.
func (s StaticToken) AccessToken() string { return string(s) }

// ClientOptions configures a Client.
type ClientOptions struct {
	Credentials Credentials
	Endpoints   Endpoints

	// HTTPClient defaults to a client with a 15 second timeout.
	HTTPClient *http.Client

	// Tokens may be set later with SetTokenProvider.
	Tokens TokenProvider

	Logger Logger
}

// Client performs authenticated calls against the vendor cloud.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	creds     Credentials
	endpoints Endpoints
	http      *http.Client
	logger    Logger
	now       func() time.Time

	tokens   TokenProvider
	tokensMu sync.RWMutex
}

// NewClient creates a Client. Missing endpoints fall back to production.
func NewClient(opts ClientOptions) *Client {
	endpoints := opts.Endpoints
	defaults := DefaultEndpoints()
	if endpoints.RefreshToken == "" {
		endpoints.RefreshToken = defaults.RefreshToken
	}
	if endpoints.UserInfo == "" {
		endpoints.UserInfo = defaults.UserInfo
	}
	if endpoints.Devices == "" {
		endpoints.Devices = defaults.Devices
	}
	if endpoints.GatewayAssign == "" {
		endpoints.GatewayAssign = defaults.GatewayAssign
	}
	if endpoints.DigitalModel == "" {
		endpoints.DigitalModel = defaults.DigitalModel
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	tokens := opts.Tokens
	if tokens == nil {
		tokens = StaticToken("")
	}

	return &Client{
		creds:     opts.Credentials,
		endpoints: endpoints,
		http:      httpClient,
		logger:    orNop(opts.Logger),
		now:       time.Now,
		tokens:    tokens,
	}
}

// SetTokenProvider replaces the source of access tokens.
func (c *Client) SetTokenProvider(p TokenProvider) {
	c.tokensMu.Lock()
	c.tokens = p
	c.tokensMu.Unlock()
}

// AccessToken returns the token currently used for calls.
func (c *Client) AccessToken() string {
	c.tokensMu.RLock()
	defer c.tokensMu.RUnlock()
	return c.tokens.AccessToken()
}

// ClientID returns the account's client id.
func (c *Client) ClientID() string {
	return c.creds.ClientID
}

// RefreshToken exchanges refreshToken for a new token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (TokenInfo, error) {
	var resp struct {
		Data struct {
			TokenInfo *TokenInfo `json:"tokenInfo"`
		} `json:"data"`
	}
	payload := map[string]string{"refreshToken": refreshToken}
	if err := c.doSigned(ctx, http.MethodPost, c.endpoints.RefreshToken, payload, &resp); err != nil {
		return TokenInfo{}, fmt.Errorf("refresh token: %w", err)
	}
	if resp.Data.TokenInfo == nil || resp.Data.TokenInfo.AccessToken == "" {
		return TokenInfo{}, fmt.Errorf("refresh token: %w: response has no tokenInfo", ErrDecode)
	}
	return *resp.Data.TokenInfo, nil
}

// GetUserInfo returns the account owning the current token. An expired
// or invalid token yields an *AuthError.
func (c *Client) GetUserInfo(ctx context.Context) (UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.UserInfo, nil)
	if err != nil {
		return UserInfo{}, fmt.Errorf("get user info: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken())

	body, err := c.send(req)
	if err != nil {
		return UserInfo{}, fmt.Errorf("get user info: %w", err)
	}

	var resp struct {
		ErrorDescription *string `json:"error_description"`
		UserInfo
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return UserInfo{}, fmt.Errorf("get user info: %w: %w", ErrDecode, err)
	}
	if resp.ErrorDescription != nil {
		return UserInfo{}, &AuthError{Description: *resp.ErrorDescription}
	}
	return resp.UserInfo, nil
}

// ListDevices returns the devices bound to the account, without attributes.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var resp struct {
		DeviceInfos []deviceInfo `json:"deviceinfos"`
	}
	if err := c.doSigned(ctx, http.MethodGet, c.endpoints.Devices, nil, &resp); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	devices := make([]Device, 0, len(resp.DeviceInfos))
	for _, info := range resp.DeviceInfos {
		c.logger.Debug("device info", "device_id", info.DeviceID, "product", info.ProductNameT)
		devices = append(devices, info.toDevice())
	}
	return devices, nil
}

// GetDigitalModel fetches the attribute model of one device. A response
// without the device in its detail map means no model is available yet:
// it is logged and an empty list is returned.
func (c *Client) GetDigitalModel(ctx context.Context, deviceID string) ([]Attribute, error) {
	payload := map[string]any{
		"deviceInfoList": []map[string]string{{"deviceId": deviceID}},
	}
	var resp struct {
		DetailInfo map[string]json.RawMessage `json:"detailInfo"`
	}
	if err := c.doSigned(ctx, http.MethodPost, c.endpoints.DigitalModel, payload, &resp); err != nil {
		return nil, fmt.Errorf("get digital model %s: %w", deviceID, err)
	}

	raw, ok := resp.DetailInfo[deviceID]
	if !ok {
		c.logger.Warn("digital model not available", "device_id", deviceID)
		return []Attribute{}, nil
	}

	attrs, err := decodeDigitalModel(raw)
	if err != nil {
		return nil, fmt.Errorf("get digital model %s: %w", deviceID, err)
	}
	return attrs, nil
}

// decodeDigitalModel accepts the model either as a JSON-encoded string
// (what the service sends) or as an inline object.
func decodeDigitalModel(raw json.RawMessage) ([]Attribute, error) {
	doc := []byte(raw)
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		doc = []byte(encoded)
	}

	var model struct {
		Attributes []Attribute `json:"attributes"`
	}
	if err := json.Unmarshal(doc, &model); err != nil {
		return nil, fmt.Errorf("%w: digital model: %w", ErrDecode, err)
	}
	if model.Attributes == nil {
		return []Attribute{}, nil
	}
	return model.Attributes, nil
}

// GetDeviceSnapshot fetches the live digital model and keeps the
// attributes that carry a value.
func (c *Client) GetDeviceSnapshot(ctx context.Context, deviceID string) (map[string]any, error) {
	attrs, err := c.GetDigitalModel(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return SnapshotOf(attrs), nil
}

// GetGatewayURL asks the cloud which WebSocket gateway to use. The
// returned address has its http:// scheme rewritten to wss://.
func (c *Client) GetGatewayURL(ctx context.Context) (string, error) {
	payload := map[string]string{
		"clientId": c.creds.ClientID,
		"token":    c.AccessToken(),
	}
	var resp struct {
		AgAddr string `json:"agAddr"`
	}
	if err := c.doSigned(ctx, http.MethodPost, c.endpoints.GatewayAssign, payload, &resp); err != nil {
		return "", fmt.Errorf("get gateway url: %w", err)
	}
	if resp.AgAddr == "" {
		return "", fmt.Errorf("get gateway url: %w: response has no agAddr", ErrDecode)
	}
	return strings.ReplaceAll(resp.AgAddr, "http://", "wss://"), nil
}

// doSigned sends a signed request and decodes a successful envelope into out.
func (c *Client) doSigned(ctx context.Context, method, rawURL string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return err
	}
	req.Header = signedHeaders(c.creds, c.AccessToken(), rawURL, string(body), c.now())
	if body != nil {
		req.Header["Content-Type"] = []string{"application/json"}
	}

	respBody, err := c.send(req)
	if err != nil {
		return err
	}
	if err := checkEnvelope(respBody); err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}

// send performs req and returns the body. Status codes are not checked
// here: the service reports failures inside the JSON envelope.
func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrTransport, req.URL.Path, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: %s returned non-JSON body (status %d)", ErrDecode, req.URL.Path, resp.StatusCode)
	}
	return body, nil
}

// checkEnvelope treats a missing retCode or retCode "00000" as success.
func checkEnvelope(body []byte) error {
	var env struct {
		RetCode json.RawMessage `json:"retCode"`
		RetInfo json.RawMessage `json:"retInfo"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		// Non-object bodies (arrays, scalars) carry no envelope.
		return nil
	}
	if env.RetCode == nil || string(env.RetCode) == "null" {
		return nil
	}
	code := rawText(env.RetCode)
	if code == successCode {
		return nil
	}
	return &RemoteError{Code: code, Info: rawText(env.RetInfo)}
}

// rawText renders a JSON string as its contents and anything else as-is.
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
