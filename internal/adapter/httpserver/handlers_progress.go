package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ericadamski/stream-rewards/internal/domain"
	apperrors "github.com/ericadamski/stream-rewards/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

// progressPollInterval is how often the page refreshes its data.
const progressPollInterval = 10_000 // milliseconds

func (s *Server) registerProgressRoutes(rateLimiter echo.MiddlewareFunc) {
	s.echo.GET("/u/", s.handleProgressPage)
	s.echo.GET("/u/:twitchLogin", s.handleProgressPage)
	s.echo.GET("/api/u/:twitchLogin/progress", s.handleProgressAPI, rateLimiter)
	s.echo.GET("/api/u/:twitchLogin/rewards", s.handleRewardsAPI, rateLimiter)
}

func (s *Server) handleProgressPage(c echo.Context) error {
	login := strings.TrimSpace(c.Param("twitchLogin"))
	if login == "" {
		return redirect(c, "/")
	}

	direction := c.QueryParam("d")
	view, err := s.app.Progress(c.Request().Context(), login, direction)
	if errors.Is(err, domain.ErrUserNotFound) {
		return redirect(c, "/")
	}
	if err != nil {
		return apperrors.InternalError("failed to load progress", err).WithContext("login", login)
	}

	data := map[string]any{
		"Login":        login,
		"Direction":    direction,
		"View":         view,
		"PollInterval": progressPollInterval,
	}
	return s.renderTemplate(c, "progress.html", data)
}

func (s *Server) handleProgressAPI(c echo.Context) error {
	login := c.Param("twitchLogin")
	view, err := s.app.Progress(c.Request().Context(), login, c.QueryParam("d"))
	if errors.Is(err, domain.ErrUserNotFound) {
		return apperrors.NotFoundError("user not found").WithContext("login", login)
	}
	if err != nil {
		return apperrors.InternalError("failed to load progress", err).WithContext("login", login)
	}

	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	if err := c.JSON(http.StatusOK, view); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleRewardsAPI(c echo.Context) error {
	login := c.Param("twitchLogin")
	rewards, err := s.app.RewardsForLogin(c.Request().Context(), login)
	if errors.Is(err, domain.ErrUserNotFound) {
		return apperrors.NotFoundError("user not found").WithContext("login", login)
	}
	if err != nil {
		return apperrors.InternalError("failed to load rewards", err).WithContext("login", login)
	}

	if err := c.JSON(http.StatusOK, map[string]any{"rewards": rewards}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
