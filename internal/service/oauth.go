// Package service holds the multi-step flows that span the SSO, ESI and the
// database, so handlers only bind input and shape the envelope.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"

	"github.com/iliyamo/lmeve2/internal/database"
	"github.com/iliyamo/lmeve2/internal/esi"
	"github.com/iliyamo/lmeve2/internal/model"
	"github.com/iliyamo/lmeve2/internal/queue"
	"github.com/iliyamo/lmeve2/internal/repository"
	"github.com/iliyamo/lmeve2/internal/settings"
)

const (
	// defaultTokenLifetime applies when the SSO omits expires_in.
	defaultTokenLifetime = 20 * time.Minute
	defaultStepTimeout   = 5 * time.Second
)

// ErrNoRefreshToken is returned when the user row holds no refresh token.
var ErrNoRefreshToken = errors.New("no stored refresh token for this user")

// OAuthService relays the SSO grants and stores the resulting session row.
// No step is retried; a repeated submission runs the whole chain again.
// Upstream calls are bounded by ESI.Timeout and every database step by
// StepTimeout; the chain as a whole has no deadline.
type OAuthService struct {
	Resolver    *settings.Resolver
	Opener      database.Opener
	ESI         esi.Options
	StepTimeout time.Duration
	Publisher   queue.Publisher
	Clock       clockwork.Clock
	Logger      *log.Logger
}

// CallbackInput is an authorization code plus optional overrides.
type CallbackInput struct {
	Code string
	DB   settings.DBOverrides
	App  settings.ESIOverrides
}

// RefreshInput names the user whose stored refresh token is used.
type RefreshInput struct {
	Username    string
	CharacterID int64
	DB          settings.DBOverrides
	App         settings.ESIOverrides
}

// SessionResult is the stored session, without tokens.
type SessionResult struct {
	Username      string    `json:"username"`
	CharacterID   int64     `json:"characterId"`
	CharacterName string    `json:"characterName"`
	CorporationID int64     `json:"corporationId"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Scopes        string    `json:"scopes"`
	Created       bool      `json:"created"`
}

// Callback runs code → token exchange → verify → character lookup → upsert.
// The database is only opened once every upstream step has succeeded.
func (s *OAuthService) Callback(ctx context.Context, in CallbackInput) (SessionResult, error) {
	app, err := s.Resolver.ResolveESI(ctx, in.App)
	if err != nil {
		return SessionResult{}, err
	}
	dbCfg, err := s.Resolver.ResolveDatabase(ctx, in.DB)
	if err != nil {
		return SessionResult{}, err
	}
	client := esi.New(app, s.ESI)

	tok, err := client.Exchange(ctx, in.Code)
	if err != nil {
		return SessionResult{}, err
	}
	id, err := client.Verify(ctx, tok.AccessToken)
	if err != nil {
		return SessionResult{}, err
	}
	ch, err := client.Character(ctx, id.CharacterID)
	if err != nil {
		return SessionResult{}, err
	}

	conn, err := s.open(ctx, dbCfg)
	if err != nil {
		return SessionResult{}, err
	}
	defer conn.Close()
	repo := repository.NewUserRepo(conn)

	username := id.CharacterName
	lctx, cancel := s.step(ctx)
	u, err := repo.GetByCharacterID(lctx, id.CharacterID)
	cancel()
	if err == nil {
		username = u.Username
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return SessionResult{}, database.AsError(database.StageQuery, err)
	}
	return s.store(ctx, repo, username, tok, id, ch.CorporationID, "")
}

// Refresh runs stored refresh token → refresh grant → verify → upsert.
func (s *OAuthService) Refresh(ctx context.Context, in RefreshInput) (SessionResult, error) {
	app, err := s.Resolver.ResolveESI(ctx, in.App)
	if err != nil {
		return SessionResult{}, err
	}
	dbCfg, err := s.Resolver.ResolveDatabase(ctx, in.DB)
	if err != nil {
		return SessionResult{}, err
	}
	conn, err := s.open(ctx, dbCfg)
	if err != nil {
		return SessionResult{}, err
	}
	defer conn.Close()
	repo := repository.NewUserRepo(conn)

	lctx, cancel := s.step(ctx)
	var u model.User
	if in.Username != "" {
		u, err = repo.GetByUsername(lctx, in.Username)
	} else {
		u, err = repo.GetByCharacterID(lctx, in.CharacterID)
	}
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return SessionResult{}, err
		}
		return SessionResult{}, database.AsError(database.StageQuery, err)
	}
	if !u.HasSession() {
		return SessionResult{}, ErrNoRefreshToken
	}

	client := esi.New(app, s.ESI)
	tok, err := client.Refresh(ctx, u.RefreshToken)
	if err != nil {
		return SessionResult{}, err
	}
	id, err := client.Verify(ctx, tok.AccessToken)
	if err != nil {
		return SessionResult{}, err
	}
	var corp int64
	if u.CorporationID != nil {
		corp = *u.CorporationID
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = u.RefreshToken
	}
	return s.store(ctx, repo, u.Username, tok, id, corp, "refreshed")
}

func (s *OAuthService) store(ctx context.Context, repo *repository.UserRepo, username string, tok *oauth2.Token,
	id esi.Identity, corp int64, action string) (SessionResult, error) {
	expires := tok.Expiry
	if expires.IsZero() {
		expires = s.clock().Now().Add(defaultTokenLifetime)
	}
	sess := model.Session{
		Username:      strings.TrimSpace(username),
		CharacterID:   id.CharacterID,
		CharacterName: id.CharacterName,
		CorporationID: corp,
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		TokenExpires:  expires.UTC(),
		Scopes:        id.Scopes,
	}
	uctx, cancel := s.step(ctx)
	created, err := repo.UpsertSession(uctx, sess)
	cancel()
	if err != nil {
		return SessionResult{}, database.AsError(database.StageQuery, err)
	}
	if action == "" {
		action = "updated"
		if created {
			action = "created"
		}
	}
	queue.Emit(ctx, s.publisher(), s.logger(), queue.TypeSessionUpdated, queue.SessionUpdated{
		Username:    sess.Username,
		CharacterID: sess.CharacterID,
		Action:      action,
		At:          queue.Timestamp(s.clock().Now()),
	})
	return SessionResult{
		Username:      sess.Username,
		CharacterID:   sess.CharacterID,
		CharacterName: sess.CharacterName,
		CorporationID: corp,
		ExpiresAt:     sess.TokenExpires,
		Scopes:        sess.Scopes,
		Created:       created,
	}, nil
}

func (s *OAuthService) clock() clockwork.Clock {
	if s.Clock == nil {
		return clockwork.NewRealClock()
	}
	return s.Clock
}

func (s *OAuthService) publisher() queue.Publisher {
	if s.Publisher == nil {
		return queue.NopPublisher{}
	}
	return s.Publisher
}

func (s *OAuthService) logger() *log.Logger {
	if s.Logger == nil {
		return log.Default()
	}
	return s.Logger
}

func (s *OAuthService) step(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.StepTimeout
	if d <= 0 {
		d = defaultStepTimeout
	}
	return context.WithTimeout(ctx, d)
}

func (s *OAuthService) open(ctx context.Context, cfg settings.DBConfig) (*database.Conn, error) {
	ctx, cancel := s.step(ctx)
	defer cancel()
	return s.Opener.Open(ctx, cfg)
}
