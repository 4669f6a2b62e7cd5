package authz

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"benefits-portal/internal/metrics"
)

// LogObserver writes denials to a logrus logger. Decisions forced by missing
// role data are logged at error level, ordinary denials at warn, grants at debug.
type LogObserver struct {
	log logrus.FieldLogger
}

// NewLogObserver returns an observer logging through log.
func NewLogObserver(log logrus.FieldLogger) *LogObserver {
	return &LogObserver{log: log}
}

// Observe implements Observer.
func (o *LogObserver) Observe(ctx context.Context, ev Event) {
	entry := o.log.WithFields(logrus.Fields{
		"user_id":    ev.UserID,
		"roles":      strings.Join(ev.Roles, ","),
		"permission": ev.Expression,
		"reason":     ev.Reason,
	})
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		entry = entry.WithField("request_id", id)
	}

	switch {
	case ev.Err != nil:
		entry.WithError(ev.Err).Error("authorization unavailable, request denied")
	case !ev.Allowed:
		entry.WithField("permissions", strings.Join(ev.Permissions, ",")).Warn("authorization denied")
	default:
		entry.Debug("authorization granted")
	}
}

// requestIDKey lets callers hand the request id to LogObserver without
// authz importing the middleware package.
type requestIDKey struct{}

// WithRequestID attaches a request id that LogObserver will include.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// MetricsObserver counts decisions by outcome.
type MetricsObserver struct {
	m *metrics.Metrics
}

// NewMetricsObserver returns an observer recording into m.
func NewMetricsObserver(m *metrics.Metrics) *MetricsObserver {
	return &MetricsObserver{m: m}
}

// Observe implements Observer.
func (o *MetricsObserver) Observe(_ context.Context, ev Event) {
	outcome := "allowed"
	switch {
	case ev.Err != nil:
		outcome = "unavailable"
	case !ev.Allowed:
		outcome = "denied"
	}
	o.m.AuthzDecisions.WithLabelValues(outcome).Inc()
}
