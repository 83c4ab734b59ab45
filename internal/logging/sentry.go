package logging

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/getsentry/sentry-go"
)

var sentryEnabled bool

// uidPattern matches a 16 digit hex UID as printed by the tool.
var uidPattern = regexp.MustCompile(`\b[0-9A-Fa-f]{16}\b`)

// ScrubUIDs replaces tag UIDs in s so reports never identify a spool.
func ScrubUIDs(s string) string {
	return uidPattern.ReplaceAllString(s, "<uid>")
}

func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.Message = ScrubUIDs(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = ScrubUIDs(event.Exception[i].Value)
	}
	for i := range event.Breadcrumbs {
		event.Breadcrumbs[i].Message = ScrubUIDs(event.Breadcrumbs[i].Message)
	}
	return event
}

func sentryWanted(optedIn bool) bool {
	switch os.Getenv("SRIX_AGENT_SENTRY") {
	case "1":
		return true
	case "0":
		return false
	}
	return optedIn
}

// InitSentry enables crash reporting when the user opted in (settings or
// SRIX_AGENT_SENTRY=1) and a DSN is configured via SRIX_AGENT_SENTRY_DSN.
// SRIX_AGENT_SENTRY=0 always wins.
func InitSentry(version string, crashReportingEnabled bool) bool {
	if !sentryWanted(crashReportingEnabled) {
		return false
	}

	dsn := os.Getenv("SRIX_AGENT_SENTRY_DSN")
	if dsn == "" {
		Warn(CatSystem, "Crash reporting enabled but SRIX_AGENT_SENTRY_DSN is not set", nil)
		return false
	}

	environment := os.Getenv("SRIX_AGENT_ENVIRONMENT")
	if environment == "" {
		environment = "production"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          "srix-agent@" + version,
		Environment:      environment,
		AttachStacktrace: true,
		BeforeSend:       scrubEvent,
	})
	if err != nil {
		Warn(CatSystem, "Failed to initialize Sentry", map[string]interface{}{"error": err.Error()})
		return false
	}

	sentryEnabled = true
	return true
}

// SetReporterTags attaches the reader setup to every later report.
func SetReporterTags(transport, tagType string) {
	if !sentryEnabled {
		return
	}
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("transport", transport)
		scope.SetTag("tag_type", tagType)
	})
}

// SentryEnabled returns whether Sentry is currently enabled.
func SentryEnabled() bool {
	return sentryEnabled
}

// FlushSentry flushes buffered events. Call before exit.
func FlushSentry(timeout time.Duration) {
	if sentryEnabled {
		sentry.Flush(timeout)
	}
}

// CapturePanic sends a recovered panic and its stack to Sentry.
func CapturePanic(panicValue interface{}, stack []byte, where string) {
	if !sentryEnabled {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("panic_context", where)
		scope.SetExtra("stack_trace", string(stack))
		scope.SetLevel(sentry.LevelFatal)

		if err, ok := panicValue.(error); ok {
			sentry.CaptureException(err)
			return
		}
		sentry.CaptureMessage(fmt.Sprint(panicValue))
	})

	// the process is likely about to die
	sentry.Flush(2 * time.Second)
}

// CaptureError reports a failed command. Breadcrumbs recorded with
// AddBreadcrumb since startup travel with it.
func CaptureError(err error, where string, data map[string]interface{}) {
	if !sentryEnabled || err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_context", where)
		for k, v := range data {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// AddBreadcrumb records a step, e.g. a block write, for the next report.
func AddBreadcrumb(category, message string) {
	if !sentryEnabled {
		return
	}
	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Category:  category,
		Message:   message,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	})
}
