package sessions

import (
	"net/http"

	"github.com/gridswap/go-station-ops/internal/api"
	"github.com/gridswap/go-station-ops/internal/station/storage"
	"github.com/gridswap/go-station-ops/internal/util"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func DeleteDiscardSessionRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Station.DELETE("/sessions/:referenceId", deleteDiscardSessionHandler(s))
}

func deleteDiscardSessionHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		referenceID := c.Param("referenceId")

		if err := s.Station.Discard(ctx, referenceID); err != nil {
			if errors.Is(err, storage.ErrSessionNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "session not found")
			}
			return err
		}

		util.LogFromEchoContext(c).Info().Str("referenceId", referenceID).Msg("Session discarded via API")
		return c.NoContent(http.StatusNoContent)
	}
}
