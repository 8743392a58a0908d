package tracing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/donorbook/internal/observability/context"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes describing the ledger side of a request.
const (
	AttrTransactionID  = "donorbook.transaction_id"
	AttrLedgerWarning  = "donorbook.ledger_warning"
	AttrLedgerDegraded = "donorbook.ledger_degraded"

	// EventLedgerDegraded marks a committed write whose rebuild did not complete.
	EventLedgerDegraded = "ledger.degraded"
)

// gin keys set by the transaction handlers.
const (
	ginKeyTransactionID = "transaction_id"
	ginKeyLedgerWarning = "ledger_warning"
)

// GinMiddleware opens a server span per request and tags it with the transaction the
// handler wrote.
func GinMiddleware() gin.HandlerFunc {
	return newGinMiddleware(Tracer("http"))
}

func newGinMiddleware(tracer trace.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		method := strings.ToUpper(c.Request.Method)
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(withRequestBaggage(ctx, span))
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + method + " " + route)
		span.SetAttributes(SafeAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		)...)
		annotateLedgerOutcome(c, span)

		if status >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				if safeErr := SafeError(lastErr.Err); safeErr != nil {
					span.RecordError(safeErr)
				}
			}
			span.SetStatus(codes.Error, "request error")
		}
	}
}

func withRequestBaggage(ctx context.Context, span trace.Span) context.Context {
	requestID := obscontext.RequestIDFromContext(ctx)
	if requestID == "" {
		return ctx
	}
	span.SetAttributes(attribute.String("request_id", requestID))

	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.New(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

// annotateLedgerOutcome copies the handler's transaction id onto the span. A write that
// committed but left the ledger provisional keeps an OK status and gets the degraded flag
// and event instead.
func annotateLedgerOutcome(c *gin.Context, span trace.Span) {
	if id := strings.TrimSpace(c.GetString(ginKeyTransactionID)); id != "" {
		span.SetAttributes(attribute.String(AttrTransactionID, id))
	}

	warning := strings.TrimSpace(c.GetString(ginKeyLedgerWarning))
	if warning == "" {
		return
	}
	span.SetAttributes(SafeAttributes(
		attribute.String(AttrLedgerWarning, warning),
		attribute.Bool(AttrLedgerDegraded, true),
	)...)
	span.AddEvent(EventLedgerDegraded, trace.WithAttributes(SafeAttributes(
		attribute.String("warning", warning),
	)...))
}
