package model

import "time"

// Roles recognised by the user administration endpoints.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User mirrors a row of the `users` table. A row is both a login account
// and the OAuth session of the character linked to it. Tokens never leave
// the server, hence the "-" tags.
type User struct {
	Username      string     `json:"username"`      // users.username (primary key)
	PasswordHash  string     `json:"-"`             // users.password_hash, bcrypt or legacy hex
	Role          string     `json:"role"`          // users.role
	IsActive      bool       `json:"isActive"`      // users.is_active, soft deactivation flag
	CharacterID   *int64     `json:"characterId"`   // users.character_id
	CharacterName string     `json:"characterName"` // users.character_name
	CorporationID *int64     `json:"corporationId"` // users.corporation_id
	AccessToken   string     `json:"-"`             // users.access_token
	RefreshToken  string     `json:"-"`             // users.refresh_token
	TokenExpires  *time.Time `json:"tokenExpires"`  // users.token_expires
	Scopes        string     `json:"scopes"`        // users.scopes, space separated
	LastLogin     *time.Time `json:"lastLogin"`     // users.last_login
	CreatedAt     time.Time  `json:"createdAt"`     // users.created_at
	UpdatedAt     time.Time  `json:"updatedAt"`     // users.updated_at
}

// HasSession reports whether the row holds a refresh token.
func (u User) HasSession() bool { return u.RefreshToken != "" }

// Session is the token state written after an SSO exchange or refresh.
type Session struct {
	Username      string
	CharacterID   int64
	CharacterName string
	CorporationID int64
	AccessToken   string
	RefreshToken  string
	TokenExpires  time.Time
	Scopes        string
}

// Account is the admin-editable part of a user row. An empty PasswordHash
// leaves the stored hash untouched.
type Account struct {
	Username     string
	PasswordHash string
	Role         string
	IsActive     bool
}
