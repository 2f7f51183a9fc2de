package ai

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrMissingCredential is returned before any network call when the selected
// provider requires an API key and none is configured.
var ErrMissingCredential = eris.New("ai: provider requires an api key")

// ErrNoModeAvailable is returned when every declared response mode was
// rejected by the provider as unsupported.
var ErrNoModeAvailable = eris.New("ai: no supported response mode")

// CapabilityError signals that the provider rejected the requested response
// format itself, as opposed to failing the request. The gateway advances to
// the next declared mode without consuming a retry.
type CapabilityError struct {
	Mode       Mode
	StatusCode int
	Body       string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("ai: mode %s unsupported by provider (status %d)", e.Mode, e.StatusCode)
}

// IsCapability reports whether err is a capability error.
func IsCapability(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}

// HTTPError is a non-success provider response that is not a capability
// rejection.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("ai: provider returned status %d: %s", e.StatusCode, truncate(e.Body, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
