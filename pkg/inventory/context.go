package inventory

import "context"

type contextKey string

const userIDKey contextKey = "user_id"

// SystemUser is recorded as performedBy when no authenticated user is known
const SystemUser = "system"

// WithUser returns a context carrying the acting user's ID
// 実行ユーザーIDをコンテキストに設定
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserFromContext extracts the acting user's ID, falling back to SystemUser
// コンテキストからユーザーIDを取得
func UserFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(userIDKey).(string); ok && userID != "" {
		return userID
	}
	return SystemUser
}
