package database

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// Stage names the gateway step that failed.
type Stage string

const (
	StageConnect  Stage = "connect"
	StageSelectDB Stage = "select_db"
	StageQuery    Stage = "query"
)

// errDuplicateEntry is ER_DUP_ENTRY.
const errDuplicateEntry = 1062

// Error is the structured failure handed back to clients instead of a bare
// driver error. Code is the MySQL error number when the server supplied one.
type Error struct {
	Stage    Stage
	Code     uint16
	SQLState string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("database %s failed: Error %d: %s", e.Stage, e.Code, e.Message)
	}
	return fmt.Sprintf("database %s failed: %s", e.Stage, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Fields are the diagnostic keys merged into an ok:false envelope.
func (e *Error) Fields() map[string]any {
	f := map[string]any{"stage": string(e.Stage)}
	if e.Code != 0 {
		f["errno"] = e.Code
	}
	if e.SQLState != "" {
		f["sqlstate"] = e.SQLState
	}
	return f
}

// AsError classifies err under stage, keeping an existing *Error as is.
func AsError(stage Stage, err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	out := &Error{Stage: stage, Message: err.Error(), Err: err}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		out.Code = me.Number
		if me.SQLState != [5]byte{} {
			out.SQLState = string(me.SQLState[:])
		}
		out.Message = me.Message
	}
	return out
}

// IsDuplicate reports whether err is a unique-key violation.
func IsDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}
