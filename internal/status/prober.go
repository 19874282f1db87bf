package status

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/iliyamo/lmeve2/internal/database"
	"github.com/iliyamo/lmeve2/internal/esi"
	"github.com/iliyamo/lmeve2/internal/repository"
	"github.com/iliyamo/lmeve2/internal/settings"
)

// LiveProber checks the real collaborators using the persisted settings.
type LiveProber struct {
	Resolver    *settings.Resolver
	Opener      database.Opener
	ESI         esi.Options
	IPLookupURL string
	HTTPClient  *http.Client
}

func (p *LiveProber) client(ctx context.Context) (*esi.Client, error) {
	app, err := p.Resolver.ResolveESI(ctx, settings.ESIOverrides{})
	if err != nil {
		return nil, err
	}
	return esi.New(app, p.ESI), nil
}

func (p *LiveProber) ServerStatus(ctx context.Context) (esi.ServerStatus, error) {
	c, err := p.client(ctx)
	if err != nil {
		return esi.ServerStatus{}, err
	}
	return c.ServerStatus(ctx)
}

func (p *LiveProber) PingSSO(ctx context.Context) error {
	c, err := p.client(ctx)
	if err != nil {
		return err
	}
	return c.PingSSO(ctx)
}

// Database connects with the persisted settings, reads the server version
// and, when the users table exists, the account and session counts.
func (p *LiveProber) Database(ctx context.Context) (DatabaseReport, error) {
	cfg, err := p.Resolver.ResolveDatabase(ctx, settings.DBOverrides{})
	if err != nil {
		return DatabaseReport{}, err
	}
	conn, err := p.Opener.Open(ctx, cfg)
	if err != nil {
		return DatabaseReport{}, err
	}
	defer conn.Close()

	var rep DatabaseReport
	if rep.Version, err = conn.ServerVersion(ctx); err != nil {
		return DatabaseReport{}, err
	}
	if users, sessions, err := repository.NewUserRepo(conn).Counts(ctx); err == nil {
		rep.Users, rep.Sessions, rep.Counted = users, sessions, true
	}
	return rep, nil
}

// PublicIP asks a plain-text echo service for the egress address.
func (p *LiveProber) PublicIP(ctx context.Context) (string, error) {
	return LookupPublicIP(ctx, p.httpClient(), p.IPLookupURL)
}

func (p *LiveProber) httpClient() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

// LookupPublicIP GETs url and expects a bare IP address in the body.
func LookupPublicIP(ctx context.Context, client *http.Client, url string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("no IP lookup URL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip lookup: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("ip lookup: unexpected body %q", ip)
	}
	return ip, nil
}
