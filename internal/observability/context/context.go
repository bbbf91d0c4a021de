package context

import (
	stdcontext "context"
	"strings"
)

type requestIDKey struct{}
type sessionIDKey struct{}

func WithRequestID(ctx stdcontext.Context, id string) stdcontext.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return stdcontext.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx stdcontext.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// WithSessionID tags the context with the chat session being served.
func WithSessionID(ctx stdcontext.Context, id string) stdcontext.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return stdcontext.WithValue(ctx, sessionIDKey{}, id)
}

func SessionIDFromContext(ctx stdcontext.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(sessionIDKey{}).(string)
	return v
}
