package esi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/lmeve2/internal/settings"
)

var testApp = settings.ESIConfig{
	ClientID:     "client",
	ClientSecret: "secret",
	CallbackURL:  "http://localhost:5173/callback",
	UserAgent:    "lmeve2-test/1.0",
}

func newFake(t *testing.T, mux *http.ServeMux) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, New(testApp, Options{SSOBaseURL: srv.URL, ESIBaseURL: srv.URL + "/latest", Breaker: NewBreaker()})
}

func TestExchangeAndVerify(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "lmeve2-test/1.0", r.Header.Get("User-Agent"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":1199}`))
	})
	mux.HandleFunc("/oauth/verify", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"CharacterID":90000001,"CharacterName":"Pilot","Scopes":"esi-assets.read_assets.v1","TokenType":"Character"}`))
	})
	_, c := newFake(t, mux)

	tok, err := c.Exchange(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "rt", tok.RefreshToken)

	id, err := c.Verify(context.Background(), tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(90000001), id.CharacterID)
	assert.Equal(t, "Pilot", id.CharacterName)
}

func TestExchangeFailureIsUpstreamError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Authorization code is invalid."}`))
	})
	_, c := newFake(t, mux)

	_, err := c.Exchange(context.Background(), "stale")
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, StepToken, ue.Step)
	assert.Equal(t, http.StatusBadRequest, ue.Status)
	assert.Contains(t, ue.Body, "invalid_grant")
	assert.Equal(t, "token", ue.Fields()["step"])
}

func TestExchangeWithoutCredentials(t *testing.T) {
	c := New(settings.ESIConfig{}, Options{})
	_, err := c.Exchange(context.Background(), "code")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRefreshGrant(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-rt", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at2","refresh_token":"rt2","token_type":"Bearer","expires_in":1199}`))
	})
	_, c := newFake(t, mux)

	tok, err := c.Refresh(context.Background(), "old-rt")
	require.NoError(t, err)
	assert.Equal(t, "at2", tok.AccessToken)
	assert.Equal(t, "rt2", tok.RefreshToken)
}

func TestCharacterAndStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/latest/characters/90000001/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "lmeve2-test/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"name":"Pilot","corporation_id":98000001}`))
	})
	mux.HandleFunc("/latest/status/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"players":23456,"server_version":"2345678","start_time":"2026-10-19T11:00:00Z"}`))
	})
	_, c := newFake(t, mux)

	ch, err := c.Character(context.Background(), 90000001)
	require.NoError(t, err)
	assert.Equal(t, int64(98000001), ch.CorporationID)

	st, err := c.ServerStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 23456, st.Players)
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/latest/status/", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, c := newFake(t, mux)

	for i := 0; i < 5; i++ {
		_, err := c.ServerStatus(context.Background())
		require.Error(t, err)
	}
	_, err := c.ServerStatus(context.Background())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 5, hits.Load())
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/latest/characters/1/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Character not found"}`))
	})
	_, c := newFake(t, mux)

	for i := 0; i < 8; i++ {
		_, err := c.Character(context.Background(), 1)
		var ue *UpstreamError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, http.StatusNotFound, ue.Status)
	}
}

func TestAuthorizeURL(t *testing.T) {
	c := New(testApp, Options{})
	raw := c.AuthorizeURL("state-1", []string{"publicData", "esi-assets.read_assets.v1"})
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "login.eveonline.com", u.Host)
	assert.Equal(t, "/v2/oauth/authorize", u.Path)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, testApp.CallbackURL, q.Get("redirect_uri"))
	assert.Equal(t, "publicData esi-assets.read_assets.v1", q.Get("scope"))
	assert.Equal(t, "state-1", q.Get("state"))
}
