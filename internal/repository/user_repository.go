package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/lmeve2/internal/model"
)

// DBTX is the statement surface shared by *database.Conn and *sql.DB.
type DBTX interface {
	Execer
	Querier
}

type UserRepo struct{ db DBTX }

func NewUserRepo(db DBTX) *UserRepo { return &UserRepo{db: db} }

const userColumns = "username,password_hash,role,is_active,character_id,COALESCE(character_name,'')," +
	"corporation_id,COALESCE(access_token,''),COALESCE(refresh_token,''),token_expires," +
	"COALESCE(scopes,''),last_login,created_at,updated_at"

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var u model.User
	err := row.Scan(&u.Username, &u.PasswordHash, &u.Role, &u.IsActive, &u.CharacterID, &u.CharacterName,
		&u.CorporationID, &u.AccessToken, &u.RefreshToken, &u.TokenExpires,
		&u.Scopes, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrUserNotFound
	}
	return u, err
}

// GetByUsername fetches a user by its trimmed username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username=? LIMIT 1", strings.TrimSpace(username)))
}

// GetByCharacterID fetches the user linked to an in-game character.
func (r *UserRepo) GetByCharacterID(ctx context.Context, characterID int64) (model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE character_id=? ORDER BY updated_at DESC LIMIT 1", characterID))
}

// List returns every user ordered by username.
func (r *UserRepo) List(ctx context.Context) ([]model.User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Counts returns the number of users and of users holding a refresh token.
func (r *UserRepo) Counts(ctx context.Context) (users, sessions int64, err error) {
	err = r.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(refresh_token IS NOT NULL AND refresh_token <> ''),0) FROM users").
		Scan(&users, &sessions)
	return users, sessions, err
}

// UpdatePasswordHash replaces the stored hash, e.g. after a legacy rehash.
func (r *UserRepo) UpdatePasswordHash(ctx context.Context, username, hash string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE users SET password_hash=? WHERE username=?", hash, username)
	return err
}

// TouchLogin records a successful login.
func (r *UserRepo) TouchLogin(ctx context.Context, username string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, "UPDATE users SET last_login=? WHERE username=?", at.UTC(), username)
	return err
}

// SetActive flips the soft deactivation flag. Rows are never deleted.
func (r *UserRepo) SetActive(ctx context.Context, username string, active bool) error {
	res, err := r.db.ExecContext(ctx, "UPDATE users SET is_active=? WHERE username=?", active, username)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// 0 rows also means "already in that state"; tell the two apart
		if _, err := r.GetByUsername(ctx, username); err != nil {
			return err
		}
	}
	return nil
}

// UpsertAccount creates or updates the admin-editable columns and reports
// whether a new row was inserted.
func (r *UserRepo) UpsertAccount(ctx context.Context, a model.Account) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if a.PasswordHash == "" {
		res, err = r.db.ExecContext(ctx,
			"INSERT INTO users (username,role,is_active) VALUES (?,?,?) "+
				"ON DUPLICATE KEY UPDATE role=VALUES(role),is_active=VALUES(is_active)",
			a.Username, a.Role, a.IsActive)
	} else {
		res, err = r.db.ExecContext(ctx,
			"INSERT INTO users (username,password_hash,role,is_active) VALUES (?,?,?,?) "+
				"ON DUPLICATE KEY UPDATE password_hash=VALUES(password_hash),role=VALUES(role),is_active=VALUES(is_active)",
			a.Username, a.PasswordHash, a.Role, a.IsActive)
	}
	return inserted(res, err)
}

// UpsertSession writes the OAuth token state of s.Username and reports
// whether a new row was inserted. Role, active flag and password are kept.
func (r *UserRepo) UpsertSession(ctx context.Context, s model.Session) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO users (username,character_id,character_name,corporation_id,access_token,refresh_token,token_expires,scopes,last_login) "+
			"VALUES (?,?,?,?,?,?,?,?,?) ON DUPLICATE KEY UPDATE "+
			"character_id=VALUES(character_id),character_name=VALUES(character_name),corporation_id=VALUES(corporation_id),"+
			"access_token=VALUES(access_token),refresh_token=VALUES(refresh_token),token_expires=VALUES(token_expires),"+
			"scopes=VALUES(scopes),last_login=VALUES(last_login)",
		s.Username, s.CharacterID, s.CharacterName, nullInt(s.CorporationID), s.AccessToken, s.RefreshToken,
		s.TokenExpires.UTC(), s.Scopes, time.Now().UTC())
	return inserted(res, err)
}

func inserted(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
