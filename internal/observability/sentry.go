package observability

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

var scrubbedHeaders = []string{"Authorization", "Cookie", "X-Refresh-Token"}

// InitSentry is a no-op when dsn is empty.
func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
		SendDefaultPII:   false,
		BeforeSend:       scrubEvent,
	})
}

// scrubEvent drops bearer tokens and request bodies, which carry passwords
// and refresh tokens on the auth routes.
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event.Request == nil {
		return event
	}
	event.Request.Data = ""
	event.Request.Cookies = ""
	for name := range event.Request.Headers {
		for _, scrubbed := range scrubbedHeaders {
			if http.CanonicalHeaderKey(name) == scrubbed {
				event.Request.Headers[name] = "[redacted]"
			}
		}
	}
	return event
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
