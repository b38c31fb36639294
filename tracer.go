package pg

import (
	"context"
	"strings"

	// Packages
	pgx "github.com/jackc/pgx/v5"
	attribute "go.opentelemetry.io/otel/attribute"
	codes "go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	trace "go.opentelemetry.io/otel/trace"
)

//////////////////////////////////////////////////////////////////////////////
// TYPES

// tracer follows queries and batches, calling an optional function when
// each completes and emitting an OpenTelemetry span for each when an
// otel tracer is set.
type tracer struct {
	TraceFn
	otel trace.Tracer
}

type traceData struct {
	span trace.Span
	sql  string
	args []any
}

type traceKey struct{}

// TraceFn is called when a query completes, with the query context, the SQL
// and arguments, and the error if any was generated. It is also called once
// with the "CONNECT" query when a pool is created.
type TraceFn func(context.Context, string, any, error)

// Ensure interfaces are satisfied
var _ pgx.QueryTracer = (*tracer)(nil)
var _ pgx.BatchTracer = (*tracer)(nil)

//////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// TraceSpanNameArg is the bind var which names the span for a query
	TraceSpanNameArg = "otelspan"

	defaultSpanName = "pg.query"
	batchSpanName   = "pg.batch"
)

//////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewTracer returns a query tracer which calls fn when each query completes.
func NewTracer(fn TraceFn) *tracer {
	return &tracer{TraceFn: fn}
}

// NewOTELTracer returns a query tracer which emits a client span per query.
func NewOTELTracer(t trace.Tracer) *tracer {
	return &tracer{otel: t}
}

//////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - QUERY

func (t *tracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return t.start(ctx, spanName(data.Args), data.SQL, data.Args)
}

func (t *tracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	t.end(ctx, data.Err)
}

//////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - BATCH

func (t *tracer) TraceBatchStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchStartData) context.Context {
	var sql string
	if data.Batch != nil {
		queries := make([]string, 0, data.Batch.Len())
		for _, q := range data.Batch.QueuedQueries {
			queries = append(queries, strings.TrimSpace(q.SQL))
		}
		sql = strings.Join(queries, ";\n")
	}
	return t.start(ctx, batchSpanName, sql, nil)
}

// Each query within a batch is reported to the trace function
func (t *tracer) TraceBatchQuery(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchQueryData) {
	if t.TraceFn != nil {
		t.TraceFn(ctx, strings.TrimSpace(data.SQL), args(data.Args), data.Err)
	}
}

func (t *tracer) TraceBatchEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchEndData) {
	td, ok := ctx.Value(traceKey{}).(*traceData)
	if !ok {
		return
	}
	endSpan(td.span, data.Err)
}

//////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (t *tracer) start(ctx context.Context, name, sql string, a []any) context.Context {
	td := &traceData{sql: sql, args: a}
	if t.otel != nil {
		ctx, td.span = t.otel.Start(ctx, name,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemPostgreSQL,
				attribute.String("db.statement", sql),
			),
		)
	}
	return context.WithValue(ctx, traceKey{}, td)
}

func (t *tracer) end(ctx context.Context, err error) {
	td, ok := ctx.Value(traceKey{}).(*traceData)
	if !ok {
		return
	}
	endSpan(td.span, err)
	if t.TraceFn != nil {
		t.TraceFn(ctx, strings.TrimSpace(td.sql), args(td.args), err)
	}
}

func endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// spanName returns the span name from the named arguments, or the default
func spanName(a []any) string {
	if named, ok := args(a).(pgx.NamedArgs); ok {
		if v, ok := named[TraceSpanNameArg].(string); ok && v != "" {
			return v
		}
	}
	return defaultSpanName
}

func args(args []any) any {
	switch len(args) {
	case 0:
		return nil
	case 1:
		return args[0]
	default:
		return args
	}
}
