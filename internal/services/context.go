package services

import "context"

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	variantKey   contextKey = "variant"
	stageKey     contextKey = "stage"
)

// WithSessionID annotates context with the acquisition session identifier.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the session identifier if present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	str, ok := ctx.Value(sessionIDKey).(string)
	return str, ok && str != ""
}

// WithVariant annotates context with the variant label being processed.
func WithVariant(ctx context.Context, label string) context.Context {
	if label == "" {
		return ctx
	}
	return context.WithValue(ctx, variantKey, label)
}

// VariantFromContext returns the variant label if present.
func VariantFromContext(ctx context.Context) (string, bool) {
	str, ok := ctx.Value(variantKey).(string)
	return str, ok && str != ""
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	str, ok := ctx.Value(stageKey).(string)
	return str, ok && str != ""
}
