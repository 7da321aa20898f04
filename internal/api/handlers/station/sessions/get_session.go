package sessions

import (
	"net/http"
	"sort"

	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/swag"
	"github.com/gridswap/go-station-ops/internal/api"
	"github.com/gridswap/go-station-ops/internal/station/storage"
	"github.com/gridswap/go-station-ops/internal/types"
	"github.com/gridswap/go-station-ops/internal/util"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func GetSessionRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Station.GET("/sessions/:referenceId", getSessionHandler(s))
}

func getSessionHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		referenceID := c.Param("referenceId")

		sess, err := s.Station.Review(ctx, referenceID)
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrSessionNotFound):
				return echo.NewHTTPError(http.StatusNotFound, "session not found")
			case errors.Is(err, storage.ErrMalformedDocument):
				return echo.NewHTTPError(http.StatusBadGateway, "stored session document is malformed")
			default:
				return err
			}
		}

		now := s.Clock.Now()

		steps := make([]int, 0, len(sess.Timeline))
		for step := range sess.Timeline {
			steps = append(steps, step)
		}
		sort.Ints(steps)

		timeline := make([]*types.TimelineStep, 0, len(steps))
		for _, step := range steps {
			entry := sess.Timeline[step]
			item := &types.TimelineStep{
				Step:   swag.Int64(int64(step)),
				Name:   swag.String(entry.Name),
				Status: swag.String(string(entry.Status)),
			}
			if entry.StartedAt != nil {
				startedAt := strfmt.DateTime(*entry.StartedAt)
				item.StartedAt = &startedAt
			}
			if entry.CompletedAt != nil {
				completedAt := strfmt.DateTime(*entry.CompletedAt)
				item.CompletedAt = &completedAt
			}
			timeline = append(timeline, item)
		}

		summary := &types.RecoverySummaryInfo{
			CounterpartyName: sess.RecoverySummary.CounterpartyName,
			CurrentStep:      int64(sess.RecoverySummary.CurrentStep),
			CurrentStepName:  sess.RecoverySummary.CurrentStepName,
			LastAction:       sess.RecoverySummary.LastAction,
			TotalAmount:      sess.RecoverySummary.TotalAmount,
			ReferenceCode:    sess.RecoverySummary.ReferenceCode,
			CanResume:        sess.CanResume(now),
		}
		if sess.RecoverySummary.LastActionAt != nil {
			lastActionAt := strfmt.DateTime(*sess.RecoverySummary.LastActionAt)
			summary.LastActionAt = &lastActionAt
			summary.LastActivity = util.TimeElapsed(now, *sess.RecoverySummary.LastActionAt)
		}

		response := &types.GetSessionResponse{
			SessionID:      swag.String(sess.SessionID),
			ReferenceID:    swag.String(referenceID),
			WorkflowType:   swag.String(string(sess.WorkflowType)),
			Status:         swag.String(sess.Status(now)),
			Version:        swag.Int64(sess.Version),
			CurrentStep:    swag.Int64(int64(sess.FlowState.CurrentStep)),
			MaxStepReached: swag.Int64(int64(sess.FlowState.MaxStepReached)),
			TotalSteps:     swag.Int64(int64(sess.FlowState.TotalSteps)),
			CreatedAt:      strfmt.DateTime(sess.CreatedAt),
			UpdatedAt:      strfmt.DateTime(sess.UpdatedAt),
			ExpiresAt:      strfmt.DateTime(sess.ExpiresAt),
			Actor: &types.ActorInfo{
				Role:        sess.Actor.Role,
				ID:          sess.Actor.ID,
				DisplayName: sess.Actor.DisplayName,
				Station:     sess.Actor.Station,
				CompanyID:   sess.Actor.CompanyID,
			},
			Timeline:        timeline,
			RecoverySummary: summary,
			Metadata: &types.SessionMetadata{
				LastAction:             sess.Metadata.LastAction,
				ErrorCount:             int64(sess.Metadata.ErrorCount),
				RetryCount:             int64(sess.Metadata.RetryCount),
				SessionDurationSeconds: int64(sess.Metadata.SessionDurationSeconds),
			},
		}

		return util.ValidateAndReturn(c, http.StatusOK, response)
	}
}
