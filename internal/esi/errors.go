package esi

import (
	"errors"
	"fmt"
)

// Steps of the SSO relay and the ESI lookups, used in diagnostics and metrics.
const (
	StepToken     = "token"
	StepRefresh   = "refresh"
	StepVerify    = "verify"
	StepCharacter = "character"
	StepStatus    = "status"
	StepSSO       = "sso"
)

// maxBody bounds how much of an upstream body is echoed back to clients.
const maxBody = 2048

// ErrNotConfigured is returned when no client id or secret is resolved.
var ErrNotConfigured = errors.New("esi: client id and secret are required")

// UpstreamError is a failed SSO or ESI call. Status is 0 when no response
// was received.
type UpstreamError struct {
	Step   string
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("esi %s failed: HTTP %d", e.Step, e.Status)
	}
	return fmt.Sprintf("esi %s failed: %v", e.Step, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Fields are the diagnostic keys merged into an ok:false envelope.
func (e *UpstreamError) Fields() map[string]any {
	f := map[string]any{"step": e.Step}
	if e.Status != 0 {
		f["status"] = e.Status
	}
	if e.Body != "" {
		f["upstream"] = e.Body
	}
	return f
}

func truncate(b []byte) string {
	if len(b) > maxBody {
		b = b[:maxBody]
	}
	return string(b)
}
