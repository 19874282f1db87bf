// Package esi talks to the game vendor: the SSO for OAuth2 grants and
// token verification, and ESI for character and server lookups.
package esi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"

	"github.com/iliyamo/lmeve2/internal/metrics"
	"github.com/iliyamo/lmeve2/internal/settings"
)

const (
	DefaultSSOBaseURL = "https://login.eveonline.com"
	DefaultESIBaseURL = "https://esi.evetech.net/latest"
	defaultTimeout    = 5 * time.Second
)

// Options are the process-wide parts of a client. The breaker is shared so
// that ESI failures trip it across requests.
type Options struct {
	SSOBaseURL string
	ESIBaseURL string
	Timeout    time.Duration
	Transport  http.RoundTripper
	Breaker    *gobreaker.CircuitBreaker
}

// Client is built per request from the resolved application credentials.
type Client struct {
	app     settings.ESIConfig
	oauth   *oauth2.Config
	sso     string
	esi     string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewBreaker returns the breaker guarding ESI lookups. Client errors (4xx)
// do not count as failures.
func NewBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "esi",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var ue *UpstreamError
			if errors.As(err, &ue) && ue.Status >= 400 && ue.Status < 500 {
				return true
			}
			return err == nil
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

// New returns a client for app.
func New(app settings.ESIConfig, opts Options) *Client {
	sso := strings.TrimRight(firstNonEmpty(opts.SSOBaseURL, DefaultSSOBaseURL), "/")
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &Client{
		app: app,
		oauth: &oauth2.Config{
			ClientID:     app.ClientID,
			ClientSecret: app.ClientSecret,
			RedirectURL:  app.CallbackURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   sso + "/v2/oauth/authorize",
				TokenURL:  sso + "/v2/oauth/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		sso:     sso,
		esi:     strings.TrimRight(firstNonEmpty(opts.ESIBaseURL, DefaultESIBaseURL), "/"),
		http:    &http.Client{Timeout: timeout, Transport: userAgent{ua: app.UserAgent, base: base}},
		breaker: opts.Breaker,
	}
}

// Configured reports whether a grant can be attempted.
func (c *Client) Configured() bool {
	return c.app.ClientID != "" && c.app.ClientSecret != ""
}

// AuthorizeURL is where the browser is sent to start an SSO login.
func (c *Client) AuthorizeURL(state string, scopes []string) string {
	conf := *c.oauth
	conf.Scopes = scopes
	return conf.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if !c.Configured() {
		return nil, &UpstreamError{Step: StepToken, Err: ErrNotConfigured}
	}
	tok, err := c.oauth.Exchange(c.withClient(ctx), code)
	return tok, c.observe(StepToken, tokenError(StepToken, err))
}

// Refresh runs the refresh-token grant.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if !c.Configured() {
		return nil, &UpstreamError{Step: StepRefresh, Err: ErrNotConfigured}
	}
	src := c.oauth.TokenSource(c.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	return tok, c.observe(StepRefresh, tokenError(StepRefresh, err))
}

// Identity is the /oauth/verify payload.
type Identity struct {
	CharacterID        int64  `json:"CharacterID"`
	CharacterName      string `json:"CharacterName"`
	ExpiresOn          string `json:"ExpiresOn"`
	Scopes             string `json:"Scopes"`
	TokenType          string `json:"TokenType"`
	CharacterOwnerHash string `json:"CharacterOwnerHash"`
}

// Verify resolves the character behind an access token.
func (c *Client) Verify(ctx context.Context, accessToken string) (Identity, error) {
	var id Identity
	err := c.getJSON(ctx, StepVerify, c.sso+"/oauth/verify", accessToken, &id)
	if err == nil && id.CharacterID == 0 {
		err = &UpstreamError{Step: StepVerify, Err: errors.New("verify response without CharacterID")}
	}
	return id, c.observe(StepVerify, err)
}

// Character is the public part of /characters/{id}/.
type Character struct {
	Name           string  `json:"name"`
	CorporationID  int64   `json:"corporation_id"`
	AllianceID     int64   `json:"alliance_id,omitempty"`
	Birthday       string  `json:"birthday,omitempty"`
	SecurityStatus float64 `json:"security_status,omitempty"`
}

// Character looks up public character data through the breaker.
func (c *Client) Character(ctx context.Context, id int64) (Character, error) {
	var ch Character
	err := c.guarded(func() error {
		return c.getJSON(ctx, StepCharacter, fmt.Sprintf("%s/characters/%d/", c.esi, id), "", &ch)
	})
	return ch, c.observe(StepCharacter, err)
}

// ServerStatus is the /status/ payload.
type ServerStatus struct {
	Players       int    `json:"players"`
	ServerVersion string `json:"server_version"`
	StartTime     string `json:"start_time"`
	VIP           bool   `json:"vip,omitempty"`
}

// ServerStatus reports the game server state through the breaker.
func (c *Client) ServerStatus(ctx context.Context) (ServerStatus, error) {
	var st ServerStatus
	err := c.guarded(func() error {
		return c.getJSON(ctx, StepStatus, c.esi+"/status/", "", &st)
	})
	return st, c.observe(StepStatus, err)
}

// PingSSO checks that the SSO answers its metadata document.
func (c *Client) PingSSO(ctx context.Context) error {
	var meta map[string]any
	err := c.getJSON(ctx, StepSSO, c.sso+"/.well-known/oauth-authorization-server", "", &meta)
	return c.observe(StepSSO, err)
}

func (c *Client) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

func (c *Client) guarded(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	_, err := c.breaker.Execute(func() (interface{}, error) { return nil, fn() })
	return err
}

func (c *Client) getJSON(ctx context.Context, step, url, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &UpstreamError{Step: step, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &UpstreamError{Step: step, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &UpstreamError{Step: step, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{Step: step, Status: resp.StatusCode, Body: truncate(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &UpstreamError{Step: step, Status: resp.StatusCode, Body: truncate(body), Err: err}
	}
	return nil
}

func (c *Client) observe(step string, err error) error {
	result := "ok"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		result = "open"
		err = &UpstreamError{Step: step, Err: err}
	case err != nil:
		result = "error"
	}
	metrics.UpstreamCalls.WithLabelValues(step, result).Inc()
	return err
}

func tokenError(step string, err error) error {
	if err == nil {
		return nil
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		ue := &UpstreamError{Step: step, Body: truncate(re.Body), Err: err}
		if re.Response != nil {
			ue.Status = re.Response.StatusCode
		}
		return ue
	}
	return &UpstreamError{Step: step, Err: err}
}

type userAgent struct {
	ua   string
	base http.RoundTripper
}

func (t userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.ua != "" {
		r = r.Clone(r.Context())
		r.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(r)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
