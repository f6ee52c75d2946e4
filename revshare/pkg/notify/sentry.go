package notify

import (
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
)

// ErrOperatorAttention marks reports that need an operator rather than a code fix.
var ErrOperatorAttention = errors.New("operator attention required")

// Reporter forwards operator events to Sentry. A zero Reporter with no hub is
// a no-op, so wiring it without a DSN is harmless.
type Reporter struct {
	hub *sentry.Hub
}

// NewReporter initializes the Sentry client. An empty DSN yields a no-op reporter.
func NewReporter(dsn, environment string) (*Reporter, error) {
	if dsn == "" {
		return &Reporter{}, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
	if err != nil {
		return nil, err
	}
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Report captures err with tags. It returns the event id, empty when disabled.
func (r *Reporter) Report(err error, tags map[string]string) string {
	if r == nil || r.hub == nil || err == nil {
		return ""
	}
	var id *sentry.EventID
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		scope.SetLevel(sentry.LevelWarning)
		id = r.hub.CaptureException(err)
	})
	if id == nil {
		return ""
	}
	return string(*id)
}

// Flush waits for buffered reports.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if r == nil || r.hub == nil {
		return true
	}
	return r.hub.Flush(timeout)
}
