package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/vulnmaster/internal/core"
	mw "github.com/JonMunkholm/vulnmaster/internal/web/middleware"
)

// WithRequestMetadata adds client IP and User-Agent to context so service
// logs can attribute reviewer actions.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, mw.ClientIP(r))
	ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
	return ctx
}
