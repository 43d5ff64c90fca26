package jobs

import (
	"strings"

	"github.com/ternarybob/campussync/internal/models"
)

const (
	sessionExpiredMessage = "Your portal session has expired. Please sign in again."
	badCredentialsMessage = "The university ID or password may be incorrect."
	timeoutMessage        = "The portal is slow or unreachable. Please try again later."
	genericFailurePrefix  = "An error occurred: "
)

// FailureMessage turns a sync error into the text stored on a failed job
func FailureMessage(err error) string {
	if err == nil {
		return genericFailurePrefix + "unknown error"
	}

	text := err.Error()
	lower := strings.ToLower(text)

	switch {
	case models.IsKind(err, models.ErrSessionExpired), strings.Contains(lower, "session expired"):
		return sessionExpiredMessage
	case models.IsKind(err, models.ErrLoginRejected), strings.Contains(lower, "login failed"):
		return badCredentialsMessage
	case models.IsKind(err, models.ErrTimeout):
		return timeoutMessage
	}
	return genericFailurePrefix + text
}
