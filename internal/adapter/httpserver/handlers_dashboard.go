package httpserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ericadamski/stream-rewards/internal/domain"
	apperrors "github.com/ericadamski/stream-rewards/internal/platform/errors"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func (s *Server) registerDashboardRoutes(csrfMiddleware echo.MiddlewareFunc) {
	s.echo.GET("/dashboard", s.handleDashboard, s.requireAuth, csrfMiddleware)
	s.echo.POST("/dashboard/rewards", s.handleAddReward, s.requireAuth, csrfMiddleware)
	s.echo.POST("/dashboard/rewards/:id/delete", s.handleDeleteReward, s.requireAuth, csrfMiddleware)
	s.echo.POST("/dashboard/settings", s.handleSaveSettings, s.requireAuth, csrfMiddleware)
}

// metricOption is one row of the metric table on the dashboard.
type metricOption struct {
	Type       string
	Name       string
	Tracking   bool
	Subscribed bool
}

func (s *Server) handleDashboard(c echo.Context) error {
	ctx := c.Request().Context()
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	rewards, err := s.app.ListRewards(ctx, user.ID)
	if err != nil {
		return apperrors.InternalError("failed to load rewards", err).WithContext("user_id", user.ID.String())
	}

	status, err := s.app.SubscriptionStatus(ctx, user.ID)
	if err != nil {
		return apperrors.InternalError("failed to load subscriptions", err).WithContext("user_id", user.ID.String())
	}

	options := make([]metricOption, 0, len(domain.MetricTypes))
	for _, t := range domain.MetricTypes {
		options = append(options, metricOption{
			Type:       string(t),
			Name:       t.FriendlyName(),
			Tracking:   t == user.TrackingMetric,
			Subscribed: status[t],
		})
	}

	data := map[string]any{
		"DisplayName":  user.DisplayName,
		"Login":        user.TwitchLogin,
		"ProgressURL":  fmt.Sprintf("%s/u/%s", s.getBaseURL(c), user.TwitchLogin),
		"Rewards":      rewards,
		"Metrics":      options,
		"MetricOffset": user.MetricOffset,
		"LiveTracking": status[domain.WebhookStreamOnline] && status[domain.WebhookStreamOffline],
		"CSRFToken":    c.Get("csrf"),
	}
	return s.renderTemplate(c, "dashboard.html", data)
}

func (s *Server) handleAddReward(c echo.Context) error {
	ctx := c.Request().Context()
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	raw := strings.TrimSpace(c.FormValue("sub_count"))
	subCount, err := strconv.Atoi(raw)
	if err != nil {
		return apperrors.ValidationError("invalid sub count").WithContext("sub_count", raw)
	}

	reward, err := s.app.AddReward(ctx, user, subCount, c.FormValue("reward"))
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Reward added", "user_id", user.ID, "reward_id", reward.ID, "sub_count", reward.SubCount)
	if isAJAX(c) {
		if err := c.JSON(http.StatusCreated, reward); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	}
	return redirect(c, "/dashboard")
}

func (s *Server) handleDeleteReward(c echo.Context) error {
	ctx := c.Request().Context()
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	rewardID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperrors.ValidationError("invalid reward id").WithContext("id", c.Param("id"))
	}

	if err := s.app.DeleteReward(ctx, user, rewardID); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Reward deleted", "user_id", user.ID, "reward_id", rewardID)
	if isAJAX(c) {
		if err := c.NoContent(http.StatusNoContent); err != nil {
			return fmt.Errorf("failed to send no-content response: %w", err)
		}
		return nil
	}
	return redirect(c, "/dashboard")
}

func (s *Server) handleSaveSettings(c echo.Context) error {
	ctx := c.Request().Context()
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	offset := 0
	if raw := strings.TrimSpace(c.FormValue("metric_offset")); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil {
			return apperrors.ValidationError("invalid offset").WithContext("metric_offset", raw)
		}
	}

	if err := s.app.UpdateSettings(ctx, user, c.FormValue("tracking_metric"), offset); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Tracking settings updated", "user_id", user.ID, "metric", c.FormValue("tracking_metric"), "offset", offset)
	if isAJAX(c) {
		if err := c.NoContent(http.StatusNoContent); err != nil {
			return fmt.Errorf("failed to send no-content response: %w", err)
		}
		return nil
	}
	return redirect(c, "/dashboard")
}

func isAJAX(c echo.Context) bool {
	return c.Request().Header.Get("X-Requested-With") == "XMLHttpRequest"
}
