package utils

import (
	"context"

	"github.com/vastramandir/storefront_backend/appctx"
)

var (
	ContextKeyToken         = appctx.ContextKeyToken
	ContextKeySessionId     = appctx.ContextKeySessionId
	ContextKeyUsername      = appctx.ContextKeyUsername
	ContextKeyAdminName     = appctx.ContextKeyAdminName
	ContextKeyCartId        = appctx.ContextKeyCartId
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyToken)
}

func GetSessionIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeySessionId)
}

func GetUsernameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUsername)
}

func GetAdminNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyAdminName)
}

func GetCartIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCartId)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetSessionIdInContext(ctx context.Context, sessionId string) context.Context {
	return appctx.Set(ctx, ContextKeySessionId, sessionId)
}

func SetUsernameInContext(ctx context.Context, username string) context.Context {
	return appctx.Set(ctx, ContextKeyUsername, username)
}

func SetAdminNameInContext(ctx context.Context, name string) context.Context {
	return appctx.Set(ctx, ContextKeyAdminName, name)
}

func SetCartIdInContext(ctx context.Context, cartId string) context.Context {
	return appctx.Set(ctx, ContextKeyCartId, cartId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

// ActorFromContext is the admin name recorded on audit entries.
func ActorFromContext(ctx context.Context) string {
	if name, ok := GetAdminNameFromContext(ctx); ok && name != "" {
		return name
	}
	if username, ok := GetUsernameFromContext(ctx); ok && username != "" {
		return username
	}
	return "system"
}
