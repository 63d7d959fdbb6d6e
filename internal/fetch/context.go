package fetch

import "context"

type batchIDKey struct{}

// WithBatchID tags ctx with the batch an outcome belongs to.
func WithBatchID(ctx context.Context, batchID string) context.Context {
	if batchID == "" {
		return ctx
	}
	return context.WithValue(ctx, batchIDKey{}, batchID)
}

// BatchIDFrom returns the batch id carried by ctx, if any.
func BatchIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(batchIDKey{}).(string)
	return id
}
