package logging

import (
	"context"

	"go.uber.org/zap"
)

type sessionCtxKey struct{}
type draftCtxKey struct{}
type requestCtxKey struct{}

func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionCtxKey{}, id)
}

func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionCtxKey{}).(string)
	return id
}

func WithDraftID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, draftCtxKey{}, id)
}

func DraftIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(draftCtxKey{}).(string)
	return id
}

func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// ContextFields extracts correlation ids from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}

	fields := make([]zap.Field, 0, 3)
	if id := SessionIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("session_id", id))
	}
	if id := DraftIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("draft_id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	return fields
}
