// Package logger provides a context-scoped structured logger shared by the
// scheduler, the replay server, and project lifecycle code.
//
// A logger is attached to a context.Context once, at the root of a unit of
// work (an incoming HTTP request, a scheduler task), and is retrieved from
// deeper call sites with FromContext. This avoids threading a *logrus.Entry
// through every function signature while still letting every log line carry
// the originating request or task id.
package logger

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type contextLoggerValues struct {
	RequestID string `json:"requestID"`
	TaskID    string `json:"taskID"`
}

type contextKeyRequestLoggerType struct{}

var contextKeyRequestLogger = &contextKeyRequestLoggerType{}

const (
	requestIDLoggerKey string = "requestID"
	taskIDLoggerKey    string = "taskID"
)

// InitLogger configures the process-wide logrus logger used by Default and
// FromContext.
func InitLogger(logLevel logrus.Level) {
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05"
	customFormatter.FullTimestamp = true
	logrus.SetFormatter(customFormatter)
	logrus.SetLevel(logLevel)
}

// AddRequestID installs middleware that attaches a fresh logger with a new
// request id to every incoming request that doesn't already carry one.
func AddRequestID(router *mux.Router) {
	reqID := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, _ := ContextWithLogger(r.Context())
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	router.Use(reqID)
}

// Default returns a logger with no request or task id attached.
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// ContextWithLogger returns a context carrying a logger. If ctx already has
// one, it is returned unchanged; otherwise a new logger with a fresh request
// id is attached.
func ContextWithLogger(ctx context.Context) (context.Context, *logrus.Entry) {
	if ctx == nil {
		ctx = context.Background()
	} else if rlog := loggerFromContext(ctx); rlog != nil {
		return ctx, rlog
	}
	id, _ := uuid.NewUUID()
	rlog := logrus.WithField(requestIDLoggerKey, id.String())
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

// ContextWithTaskID returns a context carrying a logger scoped to the given
// scheduler task id, in addition to whatever request id it may already have.
func ContextWithTaskID(ctx context.Context, taskID string) (context.Context, *logrus.Entry) {
	ctx, rlog := ContextWithLogger(ctx)
	rlog = rlog.WithField(taskIDLoggerKey, taskID)
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return nil
	}
	rlog, ok := ctx.Value(contextKeyRequestLogger).(*logrus.Entry)
	if !ok {
		return nil
	}
	return rlog
}

// FromContext returns the logger carried by ctx, or the default logger if
// ctx is nil or carries none.
func FromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return Default()
	}
	if rlog := loggerFromContext(ctx); rlog != nil {
		return rlog
	}
	return Default()
}

// SerializeLoggerContext extracts the logger identity from ctx as JSON, so it
// can be carried across a goroutine boundary (e.g. into a scheduler task
// that outlives the request that spawned it).
func SerializeLoggerContext(ctx context.Context) []byte {
	values := loggerValues(ctx)
	if values.RequestID == "" {
		return []byte("{}")
	}
	data, err := json.Marshal(values)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// ContextWithLoggerFromData rebuilds a logger context from data produced by
// SerializeLoggerContext, falling back to a fresh logger if data is empty or
// invalid.
func ContextWithLoggerFromData(ctx context.Context, data []byte) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if loggerFromContext(ctx) != nil {
		return ctx
	}
	var values contextLoggerValues
	if err := json.Unmarshal(data, &values); err != nil || values.RequestID == "" {
		ctx, _ = ContextWithLogger(ctx)
		return ctx
	}
	rlog := logrus.WithField(requestIDLoggerKey, values.RequestID)
	if values.TaskID != "" {
		rlog = rlog.WithField(taskIDLoggerKey, values.TaskID)
	}
	return context.WithValue(ctx, contextKeyRequestLogger, rlog)
}

func loggerValues(ctx context.Context) contextLoggerValues {
	var values contextLoggerValues
	rlog := loggerFromContext(ctx)
	if rlog == nil {
		return values
	}
	if s, ok := rlog.Data[requestIDLoggerKey].(string); ok {
		values.RequestID = s
	}
	if s, ok := rlog.Data[taskIDLoggerKey].(string); ok {
		values.TaskID = s
	}
	return values
}
