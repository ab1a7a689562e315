package logger

import "context"

type ctxKey int

const (
	traceIDKey ctxKey = iota
	userIDKey
	roleKey
)

// WithTraceID stores the request trace ID. Entries logged with WithContext
// carry it as trace_id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// TraceID returns the trace ID stored in ctx, or "".
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// WithIdentity stores the authenticated user ID and role.
func WithIdentity(ctx context.Context, userID int64, role string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, roleKey, role)
}

// Identity returns the authenticated user ID and role. ok is false when the
// request was not authenticated.
func Identity(ctx context.Context) (userID int64, role string, ok bool) {
	userID, ok = ctx.Value(userIDKey).(int64)
	role, _ = ctx.Value(roleKey).(string)
	return userID, role, ok
}
