package services

import "context"

type contextKey int

const (
	tokenKey contextKey = iota
	stageKey
	jobIDKey
	requestIDKey
)

func withTag(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func tag(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}

// WithToken tags ctx with the media token being served or derived.
func WithToken(ctx context.Context, token string) context.Context {
	return withTag(ctx, tokenKey, token)
}

// TokenFromContext returns the media token tag.
func TokenFromContext(ctx context.Context) (string, bool) { return tag(ctx, tokenKey) }

// WithStage tags ctx with a derivation stage.
func WithStage(ctx context.Context, stage string) context.Context {
	return withTag(ctx, stageKey, stage)
}

// StageFromContext returns the stage tag.
func StageFromContext(ctx context.Context) (string, bool) { return tag(ctx, stageKey) }

// WithJobID tags ctx with a pipeline job.
func WithJobID(ctx context.Context, id string) context.Context {
	return withTag(ctx, jobIDKey, id)
}

// JobIDFromContext returns the pipeline job tag.
func JobIDFromContext(ctx context.Context) (string, bool) { return tag(ctx, jobIDKey) }

// WithRequestID tags ctx with the API request's correlation ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withTag(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the correlation ID tag.
func RequestIDFromContext(ctx context.Context) (string, bool) { return tag(ctx, requestIDKey) }
