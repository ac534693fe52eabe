/*
File: internal/platform/identity/client.go
Description: The production implementation of relay.IdentityVerifier. Tokens
are RS256 JWTs issued by the identity service and verified locally against
its JWKS endpoint; device ownership is checked with one HTTP call.
*/
// Package identity talks to the external identity and authorization service.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-intercom-relay/pkg/relay"
)

// Device tokens carry these private claims (set by the identity service when
// a device authenticates as itself).
const (
	claimIsDevice = "isDevice"
	claimDeviceID = "deviceId"
)

const jwksPath = "/.well-known/jwks.json"

// Config locates the identity service.
type Config struct {
	// BaseURL of the identity service, e.g. "https://id.example.com".
	BaseURL string
	// JWKSURL overrides the default BaseURL + "/.well-known/jwks.json".
	JWKSURL string
	// HTTPClient used for ownership lookups; defaults to a 10s-timeout client.
	HTTPClient *http.Client
}

// Client implements relay.IdentityVerifier against the identity service.
type Client struct {
	baseURL    string
	jwksURL    string
	cache      *jwk.Cache
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates the verifier and registers the JWKS endpoint with a
// refreshing key cache. The ctx bounds the lifetime of the background
// refresher.
func NewClient(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("identity base URL is required")
	}
	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = cfg.BaseURL + jwksPath
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS endpoint: %w", err)
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		jwksURL:    jwksURL,
		cache:      cache,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "IdentityClient").Logger(),
	}, nil
}

func (c *Client) parse(ctx context.Context, token string) (jwt.Token, error) {
	set, err := c.cache.Get(ctx, c.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	tok, err := jwt.Parse(
		[]byte(token),
		jwt.WithKeySet(set, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
	)
	if err != nil {
		return nil, fmt.Errorf("token rejected: %w", err)
	}
	return tok, nil
}

// VerifyUserToken validates a user session token and returns its subject.
// A device credential presented on the user path is rejected.
func (c *Client) VerifyUserToken(ctx context.Context, token string) (string, error) {
	tok, err := c.parse(ctx, token)
	if err != nil {
		return "", err
	}
	if isDevice, _ := tok.Get(claimIsDevice); isDevice == true {
		return "", fmt.Errorf("device credential presented as user token")
	}
	sub := tok.Subject()
	if sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}

// VerifyDeviceToken validates a device-scoped credential and returns the
// device it was issued to.
func (c *Client) VerifyDeviceToken(ctx context.Context, token string) (relay.DeviceID, error) {
	tok, err := c.parse(ctx, token)
	if err != nil {
		return 0, err
	}
	if isDevice, _ := tok.Get(claimIsDevice); isDevice != true {
		return 0, fmt.Errorf("not a device credential")
	}
	raw, ok := tok.Get(claimDeviceID)
	if !ok {
		return 0, fmt.Errorf("device token has no %s claim", claimDeviceID)
	}
	deviceID, err := asDeviceID(raw)
	if err != nil {
		return 0, fmt.Errorf("device token %s claim: %w", claimDeviceID, err)
	}
	return deviceID, nil
}

// asDeviceID normalizes the deviceId claim. JSON numbers surface as float64
// after the sign/parse round trip, but builders and other providers may use
// integer or string forms.
func asDeviceID(raw any) (relay.DeviceID, error) {
	switch v := raw.(type) {
	case float64:
		if v <= 0 || v != float64(int64(v)) {
			return 0, fmt.Errorf("not a positive integer: %v", v)
		}
		return relay.DeviceID(int64(v)), nil
	case int64:
		if v <= 0 {
			return 0, fmt.Errorf("not a positive integer: %d", v)
		}
		return relay.DeviceID(v), nil
	case int:
		if v <= 0 {
			return 0, fmt.Errorf("not a positive integer: %d", v)
		}
		return relay.DeviceID(v), nil
	case string:
		return relay.ParseDeviceID(v)
	case json.Number:
		return relay.ParseDeviceID(v.String())
	default:
		return 0, fmt.Errorf("unsupported claim type %T", raw)
	}
}

// accessResponse is the identity service's device access check payload.
type accessResponse struct {
	Allowed bool `json:"allowed"`
}

// OwnsDevice asks the identity service whether userID is entitled to the
// device. Any transport or protocol failure is an error, never a grant.
func (c *Client) OwnsDevice(ctx context.Context, userID string, deviceID relay.DeviceID) (bool, error) {
	endpoint := fmt.Sprintf("%s/api/v1/device/%s/access?userId=%s",
		c.baseURL, strconv.FormatInt(int64(deviceID), 10), url.QueryEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build ownership request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("ownership check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		var access accessResponse
		if err := json.NewDecoder(resp.Body).Decode(&access); err != nil {
			return false, fmt.Errorf("failed to decode ownership response: %w", err)
		}
		return access.Allowed, nil
	case http.StatusForbidden, http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("ownership check returned status %d", resp.StatusCode)
	}
}

var _ relay.IdentityVerifier = (*Client)(nil)
