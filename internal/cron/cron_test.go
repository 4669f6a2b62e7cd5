package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"benefits-portal/internal/metrics"
)

type stubCatalog struct{ err error }

func (s stubCatalog) Refresh(context.Context) error { return s.err }

func TestCatalogRefresher(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	m := metrics.New()

	require.NoError(t, NewCatalogRefresher(stubCatalog{}, m, log).Reload(context.Background()))
	err := NewCatalogRefresher(stubCatalog{err: errors.New("db down")}, m, log).Reload(context.Background())
	assert.ErrorContains(t, err, "refresh role catalog: db down")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CatalogRefreshes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CatalogRefreshes.WithLabelValues("error")))
}

type stubExec struct {
	sql  string
	args []any
	tag  pgconn.CommandTag
	err  error
}

func (s *stubExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.sql, s.args = sql, args
	return s.tag, s.err
}

func TestActivityPurger(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	db := &stubExec{tag: pgconn.NewCommandTag("DELETE 3")}
	p := NewActivityPurger(db, 24*time.Hour, log)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	require.NoError(t, p.Purge(context.Background()))
	assert.Contains(t, db.sql, "DELETE FROM activity_log")
	assert.Equal(t, []any{now.Add(-24 * time.Hour)}, db.args)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, int64(3), hook.LastEntry().Data["deleted"])

	db.err = errors.New("timeout")
	assert.ErrorContains(t, p.Purge(context.Background()), "purge activity log")
}

func TestScheduler(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	s := NewScheduler(log, time.Second)

	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return errors.New("tick failed")
	}))
	require.NoError(t, s.Add("disabled", "off", func(context.Context) error {
		t.Error("disabled job ran")
		return nil
	}))
	assert.Error(t, s.Add("broken", "not a spec", func(context.Context) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	<-s.Stop().Done()

	var failed bool
	for _, e := range hook.AllEntries() {
		if e.Message == "job failed" && e.Data["job"] == "tick" {
			failed = true
		}
	}
	assert.True(t, failed)
}
