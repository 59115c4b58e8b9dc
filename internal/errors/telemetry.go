package errors

import (
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// sentryFlushTimeout bounds how long Shutdown waits for queued events.
const sentryFlushTimeout = 2 * time.Second

// reporter receives every built error. nil disables reporting.
var reporter atomic.Pointer[func(*EnhancedError)]

// SetReporter installs a hook called for each built error. Passing nil
// disables reporting.
func SetReporter(fn func(*EnhancedError)) {
	if fn == nil {
		reporter.Store(nil)
		return
	}
	reporter.Store(&fn)
}

func report(e *EnhancedError) {
	if fn := reporter.Load(); fn != nil {
		(*fn)(e)
	}
}

// reportedCategories are sent to Sentry; validation and not-found errors are
// expected during normal operation.
var reportedCategories = map[ErrorCategory]bool{
	CategoryStorage:       true,
	CategoryQueue:         true,
	CategoryConfiguration: true,
	CategoryLifecycle:     true,
	CategoryGeneric:       true,
}

// InitSentry configures the Sentry client and installs it as the reporter.
// An empty DSN leaves telemetry disabled.
func InitSentry(dsn, release, environment string) error {
	if dsn == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Release:     release,
		Environment: environment,
	}); err != nil {
		return err
	}
	SetReporter(func(e *EnhancedError) {
		if !reportedCategories[e.category] {
			return
		}
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("component", e.component)
			scope.SetTag("category", string(e.category))
			if len(e.context) > 0 {
				scope.SetContext("error", sentry.Context(e.GetContext()))
			}
			sentry.CaptureException(e)
		})
	})
	return nil
}

// ShutdownTelemetry flushes pending Sentry events.
func ShutdownTelemetry() {
	SetReporter(nil)
	sentry.Flush(sentryFlushTimeout)
}
