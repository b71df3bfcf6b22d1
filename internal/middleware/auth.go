package middleware

import (
	"context"
	"strings"

	"github.com/questx-lab/rewards-engine/pkg/errorx"
	"github.com/questx-lab/rewards-engine/pkg/router"
	"github.com/questx-lab/rewards-engine/pkg/xcontext"
)

// Authenticate verifies the bearer token (or the access token cookie) and
// stores the user identity in the context.
func Authenticate() router.MiddlewareFunc {
	return func(ctx context.Context) (context.Context, error) {
		token := extractToken(ctx)
		if token == "" {
			return nil, errorx.New(errorx.Unauthenticated, "You need to authenticate before")
		}

		info, err := xcontext.TokenEngine(ctx).Verify(token)
		if err != nil {
			xcontext.Logger(ctx).Debugf("Cannot verify access token: %v", err)
			return nil, errorx.New(errorx.Unauthenticated, "Invalid access token")
		}

		ctx = xcontext.WithRequestUserID(ctx, info.ID)
		ctx = xcontext.WithRequestUserHandle(ctx, info.Handle)
		return ctx, nil
	}
}

func extractToken(ctx context.Context) string {
	req := xcontext.HTTPRequest(ctx)

	authorization := req.Header.Get("Authorization")
	if after, found := strings.CutPrefix(authorization, "Bearer "); found {
		return after
	}

	cookie, err := req.Cookie(xcontext.Configs(ctx).Auth.AccessToken.Name)
	if err != nil {
		return ""
	}

	return cookie.Value
}
