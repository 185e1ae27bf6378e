package otel

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// 记录到 span 上的 SQL 最大长度
const maxStatementLen = 512

// StartQuerySpan pgx 查询的 client span，由 pgx QueryTracer 调用
func StartQuerySpan(ctx context.Context, sql string) (context.Context, trace.Span) {
	op := queryOperation(sql)
	if len(sql) > maxStatementLen {
		sql = sql[:maxStatementLen]
	}
	return StartSpan(ctx, "db."+strings.ToLower(op),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemPostgreSQL,
			semconv.DBOperationKey.String(op),
			attribute.String("db.statement", sql),
		),
	)
}

// EndQuerySpan pgx.ErrNoRows 不算失败
func EndQuerySpan(span trace.Span, err error) {
	switch {
	case err == nil, errors.Is(err, pgx.ErrNoRows):
		span.SetStatus(codes.Ok, "")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// queryOperation SQL 的第一个关键字，例如 SELECT / INSERT / CREATE
func queryOperation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "QUERY"
	}
	return strings.ToUpper(fields[0])
}
