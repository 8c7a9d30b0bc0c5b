package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
)

// QueryObserver receives one observation per executed statement.
type QueryObserver interface {
	ObserveQuery(operation string, duration time.Duration, err error)
}

// MetricsTracer is a pgx.QueryTracer that reports statement latency and
// failures, labelled by SQL verb to keep label cardinality low.
type MetricsTracer struct {
	observer QueryObserver
	clock    clockwork.Clock
}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

func NewMetricsTracer(observer QueryObserver, clock clockwork.Clock) *MetricsTracer {
	return &MetricsTracer{observer: observer, clock: clock}
}

type queryStartKey struct{}

type queryStart struct {
	at        time.Time
	operation string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: t.clock.Now(), operation: operationName(data.SQL)})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	t.observer.ObserveQuery(start.operation, t.clock.Since(start.at), data.Err)
}

func operationName(sql string) string {
	for _, line := range strings.Split(sql, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		return strings.ToLower(strings.Fields(line)[0])
	}
	return "unknown"
}
