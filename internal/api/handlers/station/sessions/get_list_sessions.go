package sessions

import (
	"net/http"
	"strconv"

	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/swag"
	"github.com/gridswap/go-station-ops/internal/api"
	"github.com/gridswap/go-station-ops/internal/station/storage"
	"github.com/gridswap/go-station-ops/internal/types"
	"github.com/gridswap/go-station-ops/internal/util"
	"github.com/labstack/echo/v4"
)

func GetListSessionsRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Station.GET("/sessions", getListSessionsHandler(s))
}

func getListSessionsHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		filter := storage.Filter{
			Type:   c.QueryParam("type"),
			Status: c.QueryParam("status"),
			Search: c.QueryParam("search"),
			Page:   1,
			Limit:  20,
		}
		if pageStr := c.QueryParam("page"); pageStr != "" {
			if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
				filter.Page = p
			}
		}
		if limitStr := c.QueryParam("limit"); limitStr != "" {
			if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
				filter.Limit = l
			}
		}

		page, err := s.Station.OpenSessions(ctx, filter)
		if err != nil {
			return err
		}

		now := s.Clock.Now()
		items := make([]*types.SessionSummary, len(page.Sessions))
		for i, sum := range page.Sessions {
			items[i] = &types.SessionSummary{
				ReferenceID:      swag.String(sum.ReferenceID),
				SessionID:        swag.String(sum.SessionID),
				WorkflowType:     swag.String(string(sum.WorkflowType)),
				Status:           swag.String(sum.Status),
				CurrentStep:      swag.Int64(int64(sum.CurrentStep)),
				CurrentStepName:  swag.String(sum.CurrentStepName),
				CanResume:        swag.Bool(sum.CanResume),
				CounterpartyName: sum.CounterpartyName,
				ReferenceCode:    sum.ReferenceCode,
				TotalAmount:      sum.TotalAmount,
				LastActivity:     util.TimeElapsed(now, sum.UpdatedAt),
				UpdatedAt:        strfmt.DateTime(sum.UpdatedAt),
			}
		}

		response := &types.ListSessionsResponse{
			Sessions: items,
			Pagination: &types.PaginationInfo{
				Page:        swag.Int64(int64(page.Pagination.Page)),
				Limit:       swag.Int64(int64(page.Pagination.Limit)),
				Total:       swag.Int64(int64(page.Pagination.Total)),
				TotalPages:  swag.Int64(int64(page.Pagination.TotalPages)),
				HasNextPage: swag.Bool(page.Pagination.HasNextPage),
			},
		}

		return util.ValidateAndReturn(c, http.StatusOK, response)
	}
}
