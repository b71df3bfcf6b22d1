package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/questx-lab/rewards-engine/pkg/errorx"
	"github.com/questx-lab/rewards-engine/pkg/xcontext"
)

func wrapHandler[Request, Response any](
	router *Router,
	method string,
	handler HandlerFunc[Request, Response],
) gin.HandlerFunc {
	return func(ginCtx *gin.Context) {
		ctx := xcontext.WithHTTPRequest(router.ctx, ginCtx.Request)
		ctx = xcontext.WithStartTime(ctx, time.Now())

		err := func() error {
			var req Request
			var bindErr error
			switch method {
			case http.MethodGet:
				bindErr = ginCtx.BindQuery(&req)
			case http.MethodPost:
				bindErr = ginCtx.BindJSON(&req)
			}
			if bindErr != nil {
				xcontext.Logger(ctx).Debugf("Cannot bind the request: %v", bindErr)
				return errorx.New(errorx.BadRequest, "Invalid request")
			}

			for _, middleware := range router.befores {
				middlewareCtx, mErr := middleware(ctx)
				if mErr != nil {
					return mErr
				}
				ctx = middlewareCtx
			}

			resp, hErr := handler(ctx, &req)
			if hErr != nil {
				return hErr
			}

			ginCtx.JSON(http.StatusOK, newResponse(resp))
			return nil
		}()

		if err != nil {
			ctx = xcontext.WithError(ctx, err)
			ginCtx.JSON(http.StatusOK, newErrorResponse(err))
		}

		for _, closer := range router.closers {
			closer(ctx)
		}
	}
}
