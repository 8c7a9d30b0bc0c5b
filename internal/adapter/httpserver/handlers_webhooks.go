package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ericadamski/stream-rewards/internal/domain"
	apperrors "github.com/ericadamski/stream-rewards/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

type webhookRequest struct {
	SubType string `json:"sub_type" form:"sub_type"`
}

func (s *Server) handleSubscribe(c echo.Context) error {
	return s.handleWebhookChange(c, "subscribe", s.app.Subscribe)
}

func (s *Server) handleUnsubscribe(c echo.Context) error {
	return s.handleWebhookChange(c, "unsubscribe", s.app.Unsubscribe)
}

// handleWebhookChange checks, in order: POST only (405), a signed-in user
// holding a Twitch token (401), a known sub_type (400). A failed change is
// a 500; success is an empty 200. Only metric types can be changed here;
// the stream lifecycle subscriptions belong to login.
func (s *Server) handleWebhookChange(c echo.Context, action string, change func(context.Context, *domain.User, domain.WebhookType) error) error {
	if c.Request().Method != http.MethodPost {
		c.Response().Header().Set(echo.HeaderAllow, http.MethodPost)
		return echo.ErrMethodNotAllowed
	}

	ctx := c.Request().Context()
	user, err := s.sessionUser(c)
	if err != nil {
		return apperrors.UnauthorizedError("not signed in")
	}
	if !user.HasToken() {
		return apperrors.UnauthorizedError("no Twitch token on record").WithContext("user_id", user.ID.String())
	}

	var req webhookRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	subType, err := domain.ParseWebhookType(req.SubType)
	if err != nil || !subType.IsMetric() {
		return apperrors.ValidationError("missing or unknown sub_type").WithContext("sub_type", req.SubType)
	}

	if err := change(ctx, user, subType); err != nil {
		return apperrors.InternalError(fmt.Sprintf("failed to %s", action), err).
			WithContext("user_id", user.ID.String()).
			WithContext("sub_type", string(subType))
	}

	slog.InfoContext(ctx, "EventSub subscription changed", "action", action, "user_id", user.ID, "sub_type", subType)
	if err := c.NoContent(http.StatusOK); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}
	return nil
}
