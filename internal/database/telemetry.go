package database

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/irfndi/leadgen-insights/internal/observability"
	"github.com/irfndi/leadgen-insights/internal/telemetry"
)

// TracedPool wraps a DatabasePool so every statement runs inside an
// OpenTelemetry span and a Sentry span.
type TracedPool struct {
	pool DatabasePool
}

// NewTracedPool wraps pool.
func NewTracedPool(pool DatabasePool) *TracedPool {
	return &TracedPool{pool: pool}
}

// Query implements DatabasePool.
func (p *TracedPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, finish := startQuerySpan(ctx, "query", sql)
	rows, err := p.pool.Query(ctx, sql, args...)
	finish(err)
	return rows, err
}

// QueryRow implements DatabasePool. Scan errors are not visible here.
func (p *TracedPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, finish := startQuerySpan(ctx, "query_row", sql)
	row := p.pool.QueryRow(ctx, sql, args...)
	finish(nil)
	return row
}

// Exec implements DatabasePool.
func (p *TracedPool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, finish := startQuerySpan(ctx, "exec", sql)
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err == nil {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	}
	finish(err)
	return tag, err
}

func startQuerySpan(ctx context.Context, operation, sql string) (context.Context, func(error)) {
	statement := compactSQL(sql)

	ctx, otelSpan := telemetry.GetDatabaseTracer().Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.statement", statement),
		),
	)
	ctx, sentrySpan := observability.StartSpan(ctx, observability.SpanOpDBQuery, statement)

	return ctx, func(err error) {
		if err != nil {
			otelSpan.RecordError(err)
			otelSpan.SetStatus(codes.Error, err.Error())
		}
		otelSpan.End()
		observability.FinishSpan(sentrySpan, err)
	}
}

// compactSQL collapses whitespace so statements read well in span names.
func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
