package ports

import (
	"context"
	"net/http"

	"github.com/soteria-auth/soteria/core"
)

// PrimaryAuth validates primary credentials. It is the host's concern; the
// step-up flow runs strictly after it succeeds.
type PrimaryAuth interface {
	Authenticate(ctx context.Context, username, password string) (core.User, error)
}

// Sessions establishes and inspects the host's full user session. The
// step-up flow calls Establish exactly once, as its terminal action.
type Sessions interface {
	Establish(w http.ResponseWriter, user core.User, rememberDays int) error
	CurrentUser(r *http.Request) (core.User, error)
}
