package clients

import "context"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// UserIDKey is the context key for user ID (for X-User-ID header)
	UserIDKey contextKey = "user-id"

	// StoryIDKey is the context key for story ID (for X-Story-ID header)
	StoryIDKey contextKey = "story-id"
)

// WithUserID adds a user ID to the context
// It is automatically extracted and sent as the X-User-ID header in HTTP requests
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves the user ID from context
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}

// WithStoryID adds a story ID to the context
// It is automatically extracted and sent as the X-Story-ID header in HTTP requests
func WithStoryID(ctx context.Context, storyID string) context.Context {
	return context.WithValue(ctx, StoryIDKey, storyID)
}

// GetStoryID retrieves the story ID from context
func GetStoryID(ctx context.Context) (string, bool) {
	storyID, ok := ctx.Value(StoryIDKey).(string)
	return storyID, ok && storyID != ""
}
