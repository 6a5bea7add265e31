package logging

import "context"

type contextKey int

const (
	modelIDKey contextKey = iota
	attemptIDKey
)

// WithModelID annotates the context with the model serving the request.
func WithModelID(ctx context.Context, modelID string) context.Context {
	return context.WithValue(ctx, modelIDKey, modelID)
}

// GetModelID extracts the model identifier from the context.
func GetModelID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(modelIDKey).(string)
	return id, ok
}

// WithAttemptID annotates the context with the current task attempt.
func WithAttemptID(ctx context.Context, attemptID string) context.Context {
	return context.WithValue(ctx, attemptIDKey, attemptID)
}

// GetAttemptID extracts the attempt identifier from the context.
func GetAttemptID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(attemptIDKey).(string)
	return id, ok
}
