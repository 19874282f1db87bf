package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/lmeve2/internal/esi"
	"github.com/iliyamo/lmeve2/internal/logging"
	"github.com/iliyamo/lmeve2/internal/service"
	"github.com/iliyamo/lmeve2/internal/status"
)

func newOAuthHandler(t *testing.T, vendorURL string, opener *mockOpener) *OAuthHandler {
	t.Helper()
	g := testGateway(t, opener)
	svc := &service.OAuthService{
		Resolver: g.Resolver,
		Opener:   g.Opener,
		ESI:      esi.Options{SSOBaseURL: vendorURL, ESIBaseURL: vendorURL + "/latest"},
		Clock:    clockwork.NewFakeClockAt(testNow),
		Logger:   logging.Discard(),
	}
	cfg := testConfig()
	cfg.SSOScopes = []string{"publicData", "esi-assets.read_corporation_assets.v1"}
	return NewOAuthHandler(cfg, svc, logging.Discard())
}

func TestAuthorizeBuildsSSOURL(t *testing.T) {
	h := newOAuthHandler(t, "https://sso.example", &mockOpener{})
	rec, out := call(h.Authorize, http.MethodGet, "/api/oauth/authorize?clientId=abc&callbackUrl=https://app.example/cb", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, out["ok"])
	u, err := url.Parse(out["url"].(string))
	require.NoError(t, err)
	assert.Equal(t, "/v2/oauth/authorize", u.Path)
	assert.Equal(t, "abc", u.Query().Get("client_id"))
	assert.Equal(t, "https://app.example/cb", u.Query().Get("redirect_uri"))
	assert.Equal(t, "publicData esi-assets.read_corporation_assets.v1", u.Query().Get("scope"))
	assert.Equal(t, out["state"], u.Query().Get("state"))
	assert.Len(t, out["state"], 36)
}

func TestAuthorizeWithoutClientID(t *testing.T) {
	h := newOAuthHandler(t, "https://sso.example", &mockOpener{})
	rec, out := call(h.Authorize, http.MethodGet, "/api/oauth/authorize", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["ok"])
}

func TestCallbackUpstreamFailureIsReportedInBody(t *testing.T) {
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
	}))
	defer vendor.Close()
	opener := &mockOpener{}
	h := newOAuthHandler(t, vendor.URL, opener)

	rec, out := call(h.Callback, http.MethodPost, "/api/oauth/callback",
		`{"code":"stale","clientId":"abc","clientSecret":"xyz"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["ok"])
	assert.Equal(t, esi.StepToken, out["step"])
	assert.EqualValues(t, http.StatusBadRequest, out["status"])
	assert.Zero(t, opener.calls)
}

func TestCallbackRequiresCode(t *testing.T) {
	h := newOAuthHandler(t, "https://sso.example", &mockOpener{})
	rec, out := call(h.Callback, http.MethodPost, "/api/oauth/callback", `{"code":"  "}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "code", out["field"])
}

func TestRefreshRequiresUser(t *testing.T) {
	h := newOAuthHandler(t, "https://sso.example", &mockOpener{})
	rec, out := call(h.Refresh, http.MethodPost, "/api/oauth/refresh", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "username", out["field"])
}

type staticProber struct{ calls int }

func (p *staticProber) ServerStatus(context.Context) (esi.ServerStatus, error) {
	p.calls++
	return esi.ServerStatus{Players: 23000, ServerVersion: "2345678"}, nil
}

func (p *staticProber) PingSSO(context.Context) error { return nil }

func (p *staticProber) Database(context.Context) (status.DatabaseReport, error) {
	return status.DatabaseReport{Version: "8.0.36"}, nil
}

func (p *staticProber) PublicIP(context.Context) (string, error) { return "203.0.113.7", nil }

func TestStatusServesCachedBlobVerbatim(t *testing.T) {
	prober := &staticProber{}
	agg := status.NewAggregator(status.NewFileCache(t.TempDir()), prober, status.Options{
		Clock:  clockwork.NewFakeClockAt(testNow),
		Logger: logging.Discard(),
	})
	h := NewStatusHandler(agg, &status.Host{}, logging.Discard())

	first, out := call(h.Status, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Equal(t, "2026-10-19T12:00:00Z", out["lastUpdated"])

	second, _ := call(h.Status, http.MethodGet, "/api/status", "")
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())

	forced, _ := call(h.Status, http.MethodGet, "/api/status?refresh=1", "")
	assert.Equal(t, "MISS", forced.Header().Get("X-Cache"))
	assert.Equal(t, 2, prober.calls)
}

func TestHostInfo(t *testing.T) {
	host := &status.Host{
		PublicIP:   func(context.Context) (string, error) { return "203.0.113.7", nil },
		Clock:      clockwork.NewFakeClockAt(testNow),
		Started:    testNow,
		StorageDir: "/var/lib/lmeve2",
	}
	h := NewStatusHandler(nil, host, logging.Discard())
	rec, out := call(h.HostInfo, http.MethodGet, "/api/host-info", "")

	require.Equal(t, http.StatusOK, rec.Code)
	info := out["host"].(map[string]any)
	assert.Equal(t, "203.0.113.7", info["publicIp"])
	assert.Equal(t, "/var/lib/lmeve2", info["storageDir"])
}
