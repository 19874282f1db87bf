package repository

import "errors"

// ErrUserNotFound is returned when no users row matches. Login translates
// it into 401, the admin endpoints into ok:false.
var ErrUserNotFound = errors.New("user not found")

// ErrUnknownResource is returned for a record resource without a schema.
var ErrUnknownResource = errors.New("unknown resource")
