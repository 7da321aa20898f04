package router

import (
	"net/http"

	"github.com/gridswap/go-station-ops/internal/api"
	"github.com/gridswap/go-station-ops/internal/api/handlers/station/sessions"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Init attaches the echo instance, route groups and all routes to the
// server.
func Init(s *api.Server) {
	s.Echo = echo.New()
	s.Echo.Debug = false
	s.Echo.HideBanner = s.Config.Echo.HideBanner

	s.Echo.Use(middleware.Recover())
	s.Echo.Use(middleware.RequestID())

	s.Router = &api.Router{
		Routes:       nil,
		Root:         s.Echo.Group(""),
		Management:   s.Echo.Group("/-"),
		APIV1Station: s.Echo.Group("/api/v1/station"),
	}

	s.Router.Management.GET("/ready", func(c echo.Context) error {
		if !s.Ready() {
			return c.String(http.StatusServiceUnavailable, "Not ready.")
		}
		return c.String(http.StatusOK, "Ready.")
	})
	s.Router.Management.GET("/healthy", func(c echo.Context) error {
		return c.String(http.StatusOK, "Healthy.")
	})
	s.Router.Root.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.Router.Routes = []*echo.Route{
		sessions.GetListSessionsRoute(s),
		sessions.GetSessionRoute(s),
		sessions.DeleteDiscardSessionRoute(s),
	}
}
