package identity_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-intercom-relay/internal/platform/identity"
	"github.com/tinywideclouds/go-intercom-relay/pkg/relay"
)

// --- Test helpers ---

type identityFixture struct {
	client     *identity.Client
	privateKey *rsa.PrivateKey
	// accessHandler serves the ownership endpoint; tests swap it per case.
	accessHandler http.HandlerFunc
}

func newIdentityFixture(t *testing.T) *identityFixture {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &identityFixture{privateKey: privateKey}

	publicKey, err := jwk.FromRaw(privateKey.Public())
	require.NoError(t, err)
	require.NoError(t, publicKey.Set(jwk.KeyIDKey, "test-key-id"))
	require.NoError(t, publicKey.Set(jwk.AlgorithmKey, jwa.RS256))
	keySet := jwk.NewSet()
	require.NoError(t, keySet.AddKey(publicKey))

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(keySet))
	})
	mux.HandleFunc("/api/v1/device/", func(w http.ResponseWriter, r *http.Request) {
		if f.accessHandler != nil {
			f.accessHandler(w, r)
			return
		}
		http.NotFound(w, r)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	client, err := identity.NewClient(ctx, identity.Config{BaseURL: server.URL}, zerolog.Nop())
	require.NoError(t, err)
	f.client = client

	return f
}

type tokenSpec struct {
	subject  string
	claims   map[string]any
	expires  time.Time
	signWith *rsa.PrivateKey
}

func (f *identityFixture) mintToken(t *testing.T, spec tokenSpec) string {
	t.Helper()

	signKey := spec.signWith
	if signKey == nil {
		signKey = f.privateKey
	}
	jwkKey, err := jwk.FromRaw(signKey)
	require.NoError(t, err)
	require.NoError(t, jwkKey.Set(jwk.KeyIDKey, "test-key-id"))

	expires := spec.expires
	if expires.IsZero() {
		expires = time.Now().Add(time.Hour)
	}
	builder := jwt.NewBuilder().
		Subject(spec.subject).
		IssuedAt(time.Now()).
		Expiration(expires)
	for name, value := range spec.claims {
		builder = builder.Claim(name, value)
	}
	token, err := builder.Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, jwkKey))
	require.NoError(t, err)
	return string(signed)
}

func TestVerifyUserToken(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - returns the token subject", func(t *testing.T) {
		f := newIdentityFixture(t)
		token := f.mintToken(t, tokenSpec{subject: "alice@example.com"})

		userID, err := f.client.VerifyUserToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", userID)
	})

	t.Run("Expired token is rejected", func(t *testing.T) {
		f := newIdentityFixture(t)
		token := f.mintToken(t, tokenSpec{subject: "alice", expires: time.Now().Add(-time.Minute)})

		_, err := f.client.VerifyUserToken(ctx, token)
		require.Error(t, err)
	})

	t.Run("Token signed with an unknown key is rejected", func(t *testing.T) {
		f := newIdentityFixture(t)
		rogueKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		token := f.mintToken(t, tokenSpec{subject: "alice", signWith: rogueKey})

		_, err = f.client.VerifyUserToken(ctx, token)
		require.Error(t, err)
	})

	t.Run("Garbage token is rejected", func(t *testing.T) {
		f := newIdentityFixture(t)
		_, err := f.client.VerifyUserToken(ctx, "not-a-jwt")
		require.Error(t, err)
	})

	t.Run("Device credential on the user path is rejected", func(t *testing.T) {
		f := newIdentityFixture(t)
		token := f.mintToken(t, tokenSpec{
			subject: "device-owner",
			claims:  map[string]any{"isDevice": true, "deviceId": 42},
		})

		_, err := f.client.VerifyUserToken(ctx, token)
		require.Error(t, err)
	})
}

func TestVerifyDeviceToken(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - returns the deviceId claim", func(t *testing.T) {
		f := newIdentityFixture(t)
		token := f.mintToken(t, tokenSpec{
			subject: "device-42",
			claims:  map[string]any{"isDevice": true, "deviceId": 42},
		})

		deviceID, err := f.client.VerifyDeviceToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, relay.DeviceID(42), deviceID)
	})

	t.Run("User token on the device path is rejected", func(t *testing.T) {
		f := newIdentityFixture(t)
		token := f.mintToken(t, tokenSpec{subject: "alice"})

		_, err := f.client.VerifyDeviceToken(ctx, token)
		require.Error(t, err)
	})

	t.Run("Device token without deviceId claim is rejected", func(t *testing.T) {
		f := newIdentityFixture(t)
		token := f.mintToken(t, tokenSpec{
			subject: "device-42",
			claims:  map[string]any{"isDevice": true},
		})

		_, err := f.client.VerifyDeviceToken(ctx, token)
		require.Error(t, err)
	})

	t.Run("Non-positive deviceId claim is rejected", func(t *testing.T) {
		f := newIdentityFixture(t)
		token := f.mintToken(t, tokenSpec{
			subject: "device-42",
			claims:  map[string]any{"isDevice": true, "deviceId": -5},
		})

		_, err := f.client.VerifyDeviceToken(ctx, token)
		require.Error(t, err)
	})

	t.Run("String deviceId claim is accepted", func(t *testing.T) {
		f := newIdentityFixture(t)
		token := f.mintToken(t, tokenSpec{
			subject: "device-42",
			claims:  map[string]any{"isDevice": true, "deviceId": "42"},
		})

		deviceID, err := f.client.VerifyDeviceToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, relay.DeviceID(42), deviceID)
	})
}

func TestOwnsDevice(t *testing.T) {
	ctx := context.Background()

	t.Run("Allowed when the service grants access", func(t *testing.T) {
		f := newIdentityFixture(t)
		f.accessHandler = func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/device/42/access", r.URL.Path)
			assert.Equal(t, "alice", r.URL.Query().Get("userId"))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]bool{"allowed": true})
		}

		owns, err := f.client.OwnsDevice(ctx, "alice", 42)
		require.NoError(t, err)
		assert.True(t, owns)
	})

	t.Run("Denied when the service refuses", func(t *testing.T) {
		f := newIdentityFixture(t)
		f.accessHandler = func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]bool{"allowed": false})
		}

		owns, err := f.client.OwnsDevice(ctx, "alice", 42)
		require.NoError(t, err)
		assert.False(t, owns)
	})

	t.Run("Forbidden status maps to a clean denial", func(t *testing.T) {
		f := newIdentityFixture(t)
		f.accessHandler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}

		owns, err := f.client.OwnsDevice(ctx, "alice", 42)
		require.NoError(t, err)
		assert.False(t, owns)
	})

	t.Run("Server error is an error, not a grant", func(t *testing.T) {
		f := newIdentityFixture(t)
		f.accessHandler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}

		_, err := f.client.OwnsDevice(ctx, "alice", 42)
		require.Error(t, err)
	})
}
