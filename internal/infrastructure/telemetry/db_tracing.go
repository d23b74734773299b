package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSlowQueryThreshold = 200 * time.Millisecond

// DBTracingConfig configures GORM query tracing.
type DBTracingConfig struct {
	Enabled            bool
	LogFullSQL         bool // include bound variables in db.statement
	SlowQueryThreshold time.Duration
	DBName             string
}

// DefaultDBTracingConfig returns tracing off, variables hidden and a
// 200ms slow query threshold.
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		SlowQueryThreshold: defaultSlowQueryThreshold,
		DBName:             "billops",
	}
}

// DBTracing registers otelgorm on a GORM handle and decorates each query
// span with row counts, table names and slow-query markers.
type DBTracing struct {
	config DBTracingConfig
	logger *zap.Logger
}

// NewDBTracing creates a DBTracing
func NewDBTracing(cfg DBTracingConfig, logger *zap.Logger) *DBTracing {
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = defaultSlowQueryThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBTracing{config: cfg, logger: logger}
}

type queryStartKey struct{}

// Register installs the plugin and its timing callbacks on db. It is a
// no-op when tracing is disabled.
func (t *DBTracing) Register(db *gorm.DB) error {
	if !t.config.Enabled {
		t.logger.Debug("Database tracing disabled")
		return nil
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(t.config.DBName)}
	if !t.config.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}
	if err := t.registerCallbacks(db); err != nil {
		return err
	}

	t.logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", t.config.LogFullSQL),
		zap.Duration("slow_query_threshold", t.config.SlowQueryThreshold))
	return nil
}

// registerCallbacks hooks every GORM processor before and after its main step.
func (t *DBTracing) registerCallbacks(db *gorm.DB) error {
	cb := db.Callback()
	steps := []struct {
		op     string
		before func(string) registrar
		after  func(string) registrar
	}{
		{"create", func(n string) registrar { return cb.Create().Before(n) }, func(n string) registrar { return cb.Create().After(n) }},
		{"query", func(n string) registrar { return cb.Query().Before(n) }, func(n string) registrar { return cb.Query().After(n) }},
		{"update", func(n string) registrar { return cb.Update().Before(n) }, func(n string) registrar { return cb.Update().After(n) }},
		{"delete", func(n string) registrar { return cb.Delete().Before(n) }, func(n string) registrar { return cb.Delete().After(n) }},
		{"row", func(n string) registrar { return cb.Row().Before(n) }, func(n string) registrar { return cb.Row().After(n) }},
		{"raw", func(n string) registrar { return cb.Raw().Before(n) }, func(n string) registrar { return cb.Raw().After(n) }},
	}
	for _, s := range steps {
		if err := s.before("gorm:"+s.op).Register("billops_timing:before_"+s.op, markQueryStart); err != nil {
			return err
		}
		if err := s.after("gorm:"+s.op).Register("billops_timing:after_"+s.op, t.afterQuery); err != nil {
			return err
		}
	}
	return nil
}

type registrar interface {
	Register(name string, fn func(*gorm.DB)) error
}

func markQueryStart(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartKey{}, time.Now())
	}
}

func (t *DBTracing) afterQuery(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.RecordError(db.Error)
		span.SetStatus(codes.Error, db.Error.Error())
	}

	start, ok := ctx.Value(queryStartKey{}).(time.Time)
	if !ok {
		return
	}
	if elapsed := time.Since(start); elapsed > t.config.SlowQueryThreshold {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
		span.AddEvent("slow_query", trace.WithAttributes(
			attribute.Int64("duration_ms", elapsed.Milliseconds()),
			attribute.Int64("threshold_ms", t.config.SlowQueryThreshold.Milliseconds()),
		))
	}
}
