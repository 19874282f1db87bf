// Package status builds the dashboard status aggregate: game server, SSO,
// database and public address, cached for a fixed TTL.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/iliyamo/lmeve2/internal/esi"
	"github.com/iliyamo/lmeve2/internal/metrics"
)

// Probe states.
const (
	Online  = "online"
	Offline = "offline"
	Unknown = "unknown"
)

// DatabaseReport is what the database probe learns.
type DatabaseReport struct {
	Version  string
	Users    int64
	Sessions int64
	Counted  bool
}

// Prober runs the individual checks. Every method is called with a context
// already bounded by the probe timeout.
type Prober interface {
	ServerStatus(ctx context.Context) (esi.ServerStatus, error)
	PingSSO(ctx context.Context) error
	Database(ctx context.Context) (DatabaseReport, error)
	PublicIP(ctx context.Context) (string, error)
}

// Report is the cached aggregate.
type Report struct {
	OK          bool           `json:"ok"`
	LastUpdated string         `json:"lastUpdated"`
	ESI         ESIReport      `json:"esi"`
	SSO         ProbeReport    `json:"sso"`
	Database    DatabaseStatus `json:"database"`
	Server      ServerReport   `json:"server"`
}

type ESIReport struct {
	Status        string `json:"status"`
	Players       int    `json:"players,omitempty"`
	ServerVersion string `json:"serverVersion,omitempty"`
	StartTime     string `json:"startTime,omitempty"`
	Error         string `json:"error,omitempty"`
}

type ProbeReport struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type DatabaseStatus struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Users    *int64 `json:"users,omitempty"`
	Sessions *int64 `json:"sessions,omitempty"`
	Error    string `json:"error,omitempty"`
}

type ServerReport struct {
	PublicIP string `json:"publicIp"`
}

// Options tune an Aggregator.
type Options struct {
	TTL             time.Duration // 600s when zero
	ProbeTimeout    time.Duration // 5s when zero
	IPLookupTimeout time.Duration // 1.5s when zero
	Clock           clockwork.Clock
	Logger          *log.Logger
}

// Aggregator serves the cached aggregate and recomputes it when stale.
type Aggregator struct {
	cache  Cache
	prober Prober
	opts   Options
	group  singleflight.Group
}

func NewAggregator(cache Cache, prober Prober, opts Options) *Aggregator {
	if opts.TTL <= 0 {
		opts.TTL = 600 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.IPLookupTimeout <= 0 {
		opts.IPLookupTimeout = 1500 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Aggregator{cache: cache, prober: prober, opts: opts}
}

// Get returns the cached blob byte for byte while it is younger than the
// TTL and refresh is false; otherwise it recomputes, stores and returns the
// new blob. cached reports which of the two happened.
func (a *Aggregator) Get(ctx context.Context, refresh bool) (blob []byte, cached bool, err error) {
	if !refresh {
		if b, err := a.cache.Get(ctx); err == nil && a.fresh(b) {
			return b, true, nil
		} else if err != nil && !errors.Is(err, ErrMiss) {
			a.log().Warn("status cache read failed", "err", err)
		}
	}
	// The shared result is cached for everyone, so one caller hanging up
	// must not turn it into a blob of offline probes.
	v, err, _ := a.group.Do("status", func() (any, error) {
		return a.recompute(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}

func (a *Aggregator) fresh(blob []byte) bool {
	var head struct {
		LastUpdated string `json:"lastUpdated"`
	}
	if json.Unmarshal(blob, &head) != nil {
		return false
	}
	at, err := time.Parse(time.RFC3339, head.LastUpdated)
	if err != nil {
		return false
	}
	age := a.opts.Clock.Since(at)
	return age >= 0 && age < a.opts.TTL
}

func (a *Aggregator) recompute(ctx context.Context) ([]byte, error) {
	metrics.StatusRecomputes.Inc()
	rep := Report{
		OK:          true,
		LastUpdated: a.opts.Clock.Now().UTC().Format(time.RFC3339),
		ESI:         ESIReport{Status: Unknown},
		SSO:         ProbeReport{Status: Unknown},
		Database:    DatabaseStatus{Status: Unknown},
		Server:      ServerReport{PublicIP: Unknown},
	}

	// probes never fail the group; each degrades its own field
	var g errgroup.Group
	g.Go(func() error {
		pctx, cancel := context.WithTimeout(ctx, a.opts.ProbeTimeout)
		defer cancel()
		st, err := a.prober.ServerStatus(pctx)
		if err != nil {
			rep.ESI = ESIReport{Status: Offline, Error: err.Error()}
			return nil
		}
		rep.ESI = ESIReport{Status: Online, Players: st.Players, ServerVersion: st.ServerVersion, StartTime: st.StartTime}
		return nil
	})
	g.Go(func() error {
		pctx, cancel := context.WithTimeout(ctx, a.opts.ProbeTimeout)
		defer cancel()
		if err := a.prober.PingSSO(pctx); err != nil {
			rep.SSO = ProbeReport{Status: Offline, Error: err.Error()}
			return nil
		}
		rep.SSO = ProbeReport{Status: Online}
		return nil
	})
	g.Go(func() error {
		pctx, cancel := context.WithTimeout(ctx, a.opts.ProbeTimeout)
		defer cancel()
		db, err := a.prober.Database(pctx)
		if err != nil {
			rep.Database = DatabaseStatus{Status: Offline, Error: err.Error()}
			return nil
		}
		rep.Database = DatabaseStatus{Status: Online, Version: db.Version}
		if db.Counted {
			rep.Database.Users, rep.Database.Sessions = &db.Users, &db.Sessions
		}
		return nil
	})
	g.Go(func() error {
		pctx, cancel := context.WithTimeout(ctx, a.opts.IPLookupTimeout)
		defer cancel()
		if ip, err := a.prober.PublicIP(pctx); err == nil && ip != "" {
			rep.Server.PublicIP = ip
		}
		return nil
	})
	_ = g.Wait()

	blob, err := json.Marshal(rep)
	if err != nil {
		return nil, err
	}
	if err := a.cache.Put(ctx, blob); err != nil {
		a.log().Warn("status cache write failed", "err", err)
	}
	return blob, nil
}

func (a *Aggregator) log() *log.Logger {
	if a.opts.Logger == nil {
		return log.Default()
	}
	return a.opts.Logger
}
