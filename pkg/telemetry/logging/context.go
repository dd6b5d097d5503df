package logging

import "context"

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// ActorKeyKey is the context key for actor keys.
	ActorKeyKey contextKey = "actor_key"

	// ChatbotIDKey is the context key for chatbot identifiers.
	ChatbotIDKey contextKey = "chatbot_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithActorKey adds an actor key to the context.
func WithActorKey(ctx context.Context, actorKey string) context.Context {
	return context.WithValue(ctx, ActorKeyKey, actorKey)
}

// GetActorKey retrieves the actor key from the context.
func GetActorKey(ctx context.Context) string {
	if actorKey, ok := ctx.Value(ActorKeyKey).(string); ok {
		return actorKey
	}
	return ""
}

// WithChatbotID adds a chatbot ID to the context.
func WithChatbotID(ctx context.Context, chatbotID string) context.Context {
	return context.WithValue(ctx, ChatbotIDKey, chatbotID)
}

// GetChatbotID retrieves the chatbot ID from the context.
func GetChatbotID(ctx context.Context) string {
	if chatbotID, ok := ctx.Value(ChatbotIDKey).(string); ok {
		return chatbotID
	}
	return ""
}

// extractContextFields pulls known fields out of a context as slog args.
func extractContextFields(ctx context.Context) []any {
	var args []any

	if requestID := GetRequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	if actorKey := GetActorKey(ctx); actorKey != "" {
		args = append(args, "actor_key", actorKey)
	}
	if chatbotID := GetChatbotID(ctx); chatbotID != "" {
		args = append(args, "chatbot_id", chatbotID)
	}

	return args
}
