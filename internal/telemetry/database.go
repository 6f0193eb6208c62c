package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	dbSystemKey    = "db.system"
	dbTableKey     = "db.table"
	dbOperationKey = "db.operation"
	dbStatementKey = "db.statement"

	spanKey      = "otel:span"
	startTimeKey = "otel:startTime"

	maxStatementLength = 500
)

// GORMTracingPlugin returns a GORM plugin that traces database operations
func GORMTracingPlugin() gorm.Plugin {
	return newTracingPlugin(otel.Tracer("gorm"))
}

func newTracingPlugin(tracer trace.Tracer) *tracingPlugin {
	return &tracingPlugin{tracer: tracer}
}

type tracingPlugin struct {
	tracer trace.Tracer
}

func (p *tracingPlugin) Name() string {
	return "telemetry:tracing"
}

func (p *tracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	register := []struct {
		name string
		err  error
	}{
		{"before_query", cb.Query().Before("gorm:query").Register("telemetry:before_query", p.before("SELECT"))},
		{"before_create", cb.Create().Before("gorm:create").Register("telemetry:before_create", p.before("INSERT"))},
		{"before_update", cb.Update().Before("gorm:update").Register("telemetry:before_update", p.before("UPDATE"))},
		{"before_delete", cb.Delete().Before("gorm:delete").Register("telemetry:before_delete", p.before("DELETE"))},
		{"before_raw", cb.Raw().Before("gorm:raw").Register("telemetry:before_raw", p.before("RAW"))},
		{"after_query", cb.Query().After("gorm:query").Register("telemetry:after_query", p.after)},
		{"after_create", cb.Create().After("gorm:create").Register("telemetry:after_create", p.after)},
		{"after_update", cb.Update().After("gorm:update").Register("telemetry:after_update", p.after)},
		{"after_delete", cb.Delete().After("gorm:delete").Register("telemetry:after_delete", p.after)},
		{"after_raw", cb.Raw().After("gorm:raw").Register("telemetry:after_raw", p.after)},
	}
	for _, r := range register {
		if r.err != nil {
			return fmt.Errorf("failed to register %s callback: %w", r.name, r.err)
		}
	}
	return nil
}

func (p *tracingPlugin) before(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			return
		}

		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}

		_, span := p.tracer.Start(ctx, "db."+strings.ToLower(operation),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String(dbSystemKey, db.Dialector.Name()),
				attribute.String(dbTableKey, table),
				attribute.String(dbOperationKey, operation),
			),
		)

		db.InstanceSet(spanKey, span)
		db.InstanceSet(startTimeKey, time.Now())
	}
}

func (p *tracingPlugin) after(db *gorm.DB) {
	raw, ok := db.InstanceGet(spanKey)
	if !ok {
		return
	}
	span, ok := raw.(trace.Span)
	if !ok {
		return
	}
	defer span.End()

	if v, ok := db.InstanceGet(startTimeKey); ok {
		if start, ok := v.(time.Time); ok {
			span.SetAttributes(attribute.Int64("db.duration_ms", time.Since(start).Milliseconds()))
		}
	}

	if sql := db.Statement.SQL.String(); sql != "" {
		span.SetAttributes(attribute.String(dbStatementKey, truncateStatement(sql)))
	}

	if db.RowsAffected > 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", db.RowsAffected))
	}

	// Not-found is an expected outcome for lookups, not a span error.
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}
}

func truncateStatement(sql string) string {
	if len(sql) <= maxStatementLength {
		return sql
	}
	return sql[:maxStatementLength] + "... (truncated)"
}
