package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lmeve2/internal/handler"
	"github.com/iliyamo/lmeve2/internal/repository"
)

// RegisterRecords registers list and bulk upsert for every synced
// resource, e.g. GET/POST /api/assets.
func RegisterRecords(e *echo.Echo, r *handler.RecordHandler) {
	g := e.Group("/api")
	for _, name := range repository.Resources() {
		s := repository.Records[name]
		g.GET("/"+name, r.List(s))
		g.POST("/"+name, r.Upsert(s))
	}
}

// RegisterOAuth registers the SSO relay.
func RegisterOAuth(e *echo.Echo, o *handler.OAuthHandler) {
	g := e.Group("/api/oauth")
	g.GET("/authorize", o.Authorize)
	g.POST("/callback", o.Callback)
	g.POST("/refresh", o.Refresh)
}
