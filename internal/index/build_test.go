package index

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/driveindex/internal/config"
	"github.com/tonimelisma/driveindex/internal/resolver"
)

func testConfig(srvURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.CryptoBaseKey = "0123456789abcdef0123456789abcdef"
	cfg.HMACBaseKey = "mac-key"
	cfg.TokenURL = srvURL + "/token"
	cfg.APIEndpoint = srvURL + "/drive/v3/"
	cfg.Roots = []config.RootConfig{
		{ID: "root", Name: "My Drive", Credential: "main"},
		{ID: "0AShared", Name: "Team", Credential: "main"},
	}
	cfg.Credentials["main"] = config.CredentialConfig{ClientID: "cid", ClientSecret: "cs", RefreshToken: "rt"}

	return cfg
}

func TestBuild(t *testing.T) {
	var tokenCalls, rootCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/token":
			tokenCalls.Add(1)
			fmt.Fprint(w, `{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`)
		case "/drive/v3/files/root":
			rootCalls.Add(1)
			assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
			fmt.Fprint(w, `{"id":"real-root","name":"My Drive","mimeType":"application/vnd.google-apps.folder"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	x, err := Build(context.Background(), testConfig(srv.URL), srv.Client(), nil)
	require.NoError(t, err)

	roots := x.Roots()
	require.Len(t, roots, 2)
	assert.Equal(t, resolver.UserDrive, roots[0].Type)
	assert.Equal(t, resolver.SharedDrive, roots[1].Type)
	assert.Equal(t, 0, x.roots["real-root"])

	assert.Equal(t, int32(1), tokenCalls.Load(), "one credential, one exchange")
	assert.Equal(t, int32(2), rootCalls.Load())
}

func TestBuild_TokenRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
	}))
	t.Cleanup(srv.Close)

	_, err := Build(context.Background(), testConfig(srv.URL), srv.Client(), nil)
	require.ErrorIs(t, err, ErrDriveInit)
	assert.NotContains(t, err.Error(), "revoked")
}

func TestBuild_MissingKeys(t *testing.T) {
	cfg := config.DefaultConfig()

	_, err := Build(context.Background(), cfg, nil, nil)
	require.ErrorIs(t, err, config.ErrMissingCryptoKey)
}

func TestBuild_UnknownCredential(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0")
	cfg.Roots[1].Credential = "absent"

	_, err := Build(context.Background(), cfg, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root 1")
}

func TestCodecs_ShareCipher(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.EncryptIV = "000102030405060708090a0b0c0d0e0f"

	links, sessions, err := Codecs(cfg)
	require.NoError(t, err)

	token, err := sessions.Mint("alice", "pw", time.Hour)
	require.NoError(t, err)

	s, ok := sessions.Verify(token)
	require.True(t, ok)
	assert.Equal(t, "alice", s.Username)

	a, err := links.EncryptID("same")
	require.NoError(t, err)

	b, err := links.EncryptID("same")
	require.NoError(t, err)
	assert.Equal(t, a, b, "fixed IV is deterministic")
}

func TestNewHTTPClient(t *testing.T) {
	c := NewHTTPClient(2*time.Second, 7*time.Second)

	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, tr.ResponseHeaderTimeout)
	assert.Equal(t, 2*time.Second, tr.TLSHandshakeTimeout)
	assert.Zero(t, c.Timeout)
}
