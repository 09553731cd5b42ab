package logger

import "context"

type ctxKey int

const (
	tagsKey ctxKey = 0
)

// SetTags returns a context carrying the tags (merged with any already set). Every entry logged with the context
// includes them.
func SetTags(ctx context.Context, tags map[string]any) context.Context {
	merged := map[string]any{}
	for k, v := range GetTags(ctx) {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}
	return context.WithValue(ctx, tagsKey, merged)
}

// GetTags returns the tags set on the context
func GetTags(ctx context.Context) map[string]any {
	if ctx == nil {
		return nil
	}
	tags, _ := ctx.Value(tagsKey).(map[string]any)
	return tags
}
