package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/lmeve2/internal/database"
	"github.com/iliyamo/lmeve2/internal/esi"
	"github.com/iliyamo/lmeve2/internal/logging"
	"github.com/iliyamo/lmeve2/internal/queue"
	"github.com/iliyamo/lmeve2/internal/repository"
	"github.com/iliyamo/lmeve2/internal/settings"
)

type sqlmockOpener struct {
	db    *sql.DB
	calls int
	cfg   settings.DBConfig
}

func (o *sqlmockOpener) Open(ctx context.Context, cfg settings.DBConfig) (*database.Conn, error) {
	o.calls++
	o.cfg = cfg
	return database.Wrap(ctx, o.db)
}

type recordingPublisher struct{ events []queue.Envelope }

func (p *recordingPublisher) Publish(_ context.Context, ev queue.Envelope) error {
	p.events = append(p.events, ev)
	return nil
}

var appOverrides = settings.ESIOverrides{ClientID: "client", ClientSecret: "secret", UserAgent: "lmeve2-test"}

var userColumns = []string{"username", "password_hash", "role", "is_active", "character_id", "character_name",
	"corporation_id", "access_token", "refresh_token", "token_expires", "scopes", "last_login", "created_at", "updated_at"}

func fakeVendor(t *testing.T, tokenStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if tokenStatus != http.StatusOK {
			w.WriteHeader(tokenStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":1200}`))
	})
	mux.HandleFunc("/oauth/verify", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"CharacterID":90000001,"CharacterName":"Pilot One","Scopes":"publicData"}`))
	})
	mux.HandleFunc("/latest/characters/90000001/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"Pilot One","corporation_id":98000001}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newService(t *testing.T, vendor *httptest.Server, opener database.Opener, pub queue.Publisher) *OAuthService {
	t.Helper()
	return &OAuthService{
		Resolver:  settings.NewResolver(settings.NewFileStore(t.TempDir()), settings.BuiltinDefaults),
		Opener:    opener,
		ESI:       esi.Options{SSOBaseURL: vendor.URL, ESIBaseURL: vendor.URL + "/latest"},
		Publisher: pub,
		Clock:     clockwork.NewFakeClockAt(time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)),
		Logger:    logging.Discard(),
	}
}

func TestCallbackTokenFailureNeverTouchesDatabase(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	opener := &sqlmockOpener{db: db}
	svc := newService(t, fakeVendor(t, http.StatusBadRequest), opener, nil)

	_, err = svc.Callback(context.Background(), CallbackInput{Code: "stale", App: appOverrides})
	var ue *esi.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, esi.StepToken, ue.Step)
	assert.Equal(t, http.StatusBadRequest, ue.Status)
	assert.Zero(t, opener.calls)
}

func TestCallbackCreatesSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE character_id=?")).
		WithArgs(int64(90000001)).
		WillReturnRows(sqlmock.NewRows(userColumns))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (username,character_id")).
		WithArgs("Pilot One", int64(90000001), "Pilot One", int64(98000001), "at", "rt", sqlmock.AnyArg(), "publicData", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	opener := &sqlmockOpener{db: db}
	pub := &recordingPublisher{}
	svc := newService(t, fakeVendor(t, http.StatusOK), opener, pub)

	res, err := svc.Callback(context.Background(), CallbackInput{
		Code: "good",
		App:  appOverrides,
		DB:   settings.DBOverrides{Host: "db.internal", Name: "corp"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Pilot One", res.Username)
	assert.Equal(t, int64(98000001), res.CorporationID)
	assert.True(t, res.Created)
	assert.Equal(t, 1, opener.calls)
	assert.Equal(t, "db.internal", opener.cfg.Host)
	assert.Equal(t, "corp", opener.cfg.Database)
	assert.Equal(t, 3306, opener.cfg.Port)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, pub.events, 1)
	assert.Equal(t, queue.TypeSessionUpdated, pub.events[0].Type)
	var ev queue.SessionUpdated
	require.NoError(t, json.Unmarshal(pub.events[0].Payload, &ev))
	assert.Equal(t, "created", ev.Action)
	assert.Equal(t, "2026-10-19T12:00:00Z", ev.At)
}

func TestCallbackKeepsExistingUsernameForCharacter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE character_id=?")).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(
			"director", "", "admin", true, int64(90000001), "Pilot One", nil, "", "", nil, "", nil, now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (username,character_id")).
		WithArgs("director", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	svc := newService(t, fakeVendor(t, http.StatusOK), &sqlmockOpener{db: db}, nil)
	res, err := svc.Callback(context.Background(), CallbackInput{Code: "good", App: appOverrides})
	require.NoError(t, err)
	assert.Equal(t, "director", res.Username)
	assert.False(t, res.Created)
}

func TestRefreshWithoutStoredToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username=?")).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(
			"bob", "", "member", true, nil, "", nil, "", "", nil, "", nil, now, now))

	svc := newService(t, fakeVendor(t, http.StatusOK), &sqlmockOpener{db: db}, nil)
	_, err = svc.Refresh(context.Background(), RefreshInput{Username: "bob", App: appOverrides})
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestRefreshUnknownUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username=?")).WillReturnRows(sqlmock.NewRows(userColumns))

	svc := newService(t, fakeVendor(t, http.StatusOK), &sqlmockOpener{db: db}, nil)
	_, err = svc.Refresh(context.Background(), RefreshInput{Username: "ghost", App: appOverrides})
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestRefreshStoresRotatedTokens(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username=?")).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(
			"Pilot One", "", "member", true, int64(90000001), "Pilot One", int64(98000001), "old-at", "old-rt", now, "publicData", nil, now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (username,character_id")).
		WithArgs("Pilot One", int64(90000001), "Pilot One", int64(98000001), "at", "rt", sqlmock.AnyArg(), "publicData", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	pub := &recordingPublisher{}
	svc := newService(t, fakeVendor(t, http.StatusOK), &sqlmockOpener{db: db}, pub)
	res, err := svc.Refresh(context.Background(), RefreshInput{Username: "Pilot One", App: appOverrides})
	require.NoError(t, err)
	assert.Equal(t, int64(98000001), res.CorporationID)
	require.Len(t, pub.events, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshBoundsEachDatabaseStepOnItsOwn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username=?")).
		WillDelayFor(70 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(
			"Pilot One", "", "member", true, int64(90000001), "Pilot One", int64(98000001), "old-at", "old-rt", now, "publicData", nil, now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (username,character_id")).
		WillDelayFor(70 * time.Millisecond).
		WillReturnResult(sqlmock.NewResult(0, 2))

	svc := newService(t, fakeVendor(t, http.StatusOK), &sqlmockOpener{db: db}, nil)
	svc.StepTimeout = 100 * time.Millisecond
	res, err := svc.Refresh(context.Background(), RefreshInput{Username: "Pilot One", App: appOverrides})
	require.NoError(t, err)
	assert.Equal(t, "Pilot One", res.Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}
