package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"benefits-portal/internal/metrics"
)

// CatalogSource is reloaded by CatalogRefresher.
type CatalogSource interface {
	Refresh(ctx context.Context) error
}

// CatalogRefresher reloads role definitions and records the result.
type CatalogRefresher struct {
	catalog CatalogSource
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

// NewCatalogRefresher creates a refresher; m may be nil.
func NewCatalogRefresher(catalog CatalogSource, m *metrics.Metrics, log logrus.FieldLogger) *CatalogRefresher {
	return &CatalogRefresher{catalog: catalog, metrics: m, log: log}
}

// Reload refreshes the catalog once. On failure the previous definitions
// remain in use.
func (r *CatalogRefresher) Reload(ctx context.Context) error {
	err := r.catalog.Refresh(ctx)
	result := "ok"
	if err != nil {
		result = "error"
	}
	if r.metrics != nil {
		r.metrics.CatalogRefreshes.WithLabelValues(result).Inc()
	}
	if err != nil {
		return fmt.Errorf("refresh role catalog: %w", err)
	}
	r.log.Debug("role catalog refreshed")
	return nil
}

// Execer runs a statement; *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ActivityPurger deletes audit-log entries older than the retention window.
type ActivityPurger struct {
	db        Execer
	retention time.Duration
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewActivityPurger creates a purger.
func NewActivityPurger(db Execer, retention time.Duration, log logrus.FieldLogger) *ActivityPurger {
	return &ActivityPurger{db: db, retention: retention, log: log, now: time.Now}
}

// Purge removes expired entries.
func (p *ActivityPurger) Purge(ctx context.Context) error {
	cutoff := p.now().Add(-p.retention)
	tag, err := p.db.Exec(ctx, `DELETE FROM activity_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("purge activity log: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		p.log.WithFields(logrus.Fields{"deleted": n, "cutoff": cutoff.Format(time.RFC3339)}).Info("activity log purged")
	}
	return nil
}
