package router // package router defines how HTTP routes are registered for the API

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/lmeve2/internal/config"
	"github.com/iliyamo/lmeve2/internal/handler"
)

// Use installs the process-wide middleware: request ids, access logging,
// panic recovery, CORS and Prometheus instrumentation. Errors from every
// layer are rendered in the {ok:false,error} envelope.
func Use(e *echo.Echo, cfg config.Config, logger *log.Logger) {
	e.HTTPErrorHandler = handler.ErrorHandler(logger)

	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:    true,
		LogMethod:    true,
		LogURI:       true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method, "uri", v.URI, "status", v.Status,
				"latency", v.Latency.Round(time.Microsecond), "ip", v.RemoteIP, "request_id", v.RequestID,
			}
			if v.Error != nil {
				logger.Warn("request", append(fields, "err", v.Error)...)
				return nil
			}
			logger.Info("request", fields...)
			return nil
		},
	}))
	// panics surface as 500 through the error handler
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(echoprometheus.NewMiddleware("lmeve"))
}

// RegisterRoutes registers the probes, metrics and status endpoints. None
// of them require authentication.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler, s *handler.StatusHandler) {
	// liveness for load balancers; touches nothing
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echoprometheus.NewHandler())

	api := e.Group("/api")
	api.GET("/health", h.Check)
	api.GET("/status", s.Status)
	api.GET("/host-info", s.HostInfo)
}

// RegisterSettings registers the settings document endpoints.
func RegisterSettings(e *echo.Echo, s *handler.SettingsHandler) {
	g := e.Group("/api/settings")
	g.GET("", s.Get)
	g.POST("", s.Save)
	g.POST("/test-db", s.TestDB)
}
