package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ericadamski/stream-rewards/internal/domain"
	apperrors "github.com/ericadamski/stream-rewards/internal/platform/errors"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	twitchAuthURL = "https://id.twitch.tv/oauth2/authorize"
	twitchScopes  = "channel:read:subscriptions bits:read moderator:read:followers channel:read:redemptions"
	oauthTimeout  = 10 * time.Second
)

// contextKeyUser holds the *domain.User resolved by requireAuth.
const contextKeyUser = "user"

var errNoSession = errors.New("no user in session")

func (s *Server) registerAuthRoutes(csrfMiddleware, rateLimiter echo.MiddlewareFunc) {
	s.echo.GET("/auth/login", s.handleLoginPage, rateLimiter)
	s.echo.GET("/auth/callback", s.handleOAuthCallback, rateLimiter)
	s.echo.POST("/auth/logout", s.handleLogout, rateLimiter, s.requireAuth, csrfMiddleware)
}

func (s *Server) handleLanding(c echo.Context) error {
	if _, err := s.sessionUser(c); err == nil {
		return redirect(c, "/dashboard")
	}
	return s.renderTemplate(c, "landing.html", nil)
}

// sessionUser resolves the signed-in user from the session cookie.
func (s *Server) sessionUser(c echo.Context) (*domain.User, error) {
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		return nil, fmt.Errorf("invalid session: %w", err)
	}
	raw, ok := session.Values[sessionKeyUserID].(string)
	if !ok {
		return nil, errNoSession
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid user id in session: %w", err)
	}
	return s.app.GetUserByID(c.Request().Context(), userID)
}

func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := s.sessionUser(c)
		if err != nil {
			if errors.Is(err, domain.ErrUserNotFound) {
				slog.WarnContext(c.Request().Context(), "Session references unknown user, invalidating")
				s.expireSession(c)
			}
			return redirect(c, "/auth/login")
		}

		c.Set(contextKeyUser, user)
		return next(c)
	}
}

func (s *Server) expireSession(c echo.Context) {
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		return
	}
	session.Options.MaxAge = -1
	_ = session.Save(c.Request(), c.Response().Writer)
}

func currentUser(c echo.Context) (*domain.User, error) {
	user, ok := c.Get(contextKeyUser).(*domain.User)
	if !ok || user == nil {
		return nil, apperrors.InternalError("no user in request context", nil)
	}
	return user, nil
}

func generateOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate OAuth state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *Server) handleLoginPage(c echo.Context) error {
	if _, err := s.sessionUser(c); err == nil {
		return redirect(c, "/dashboard")
	}

	state, err := generateOAuthState()
	if err != nil {
		return apperrors.InternalError("failed to generate OAuth state", err)
	}

	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		slog.WarnContext(c.Request().Context(), "Discarding unreadable session", "error", err)
	}
	session.Values[sessionKeyOAuthState] = state
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save OAuth state session", err)
	}

	authURL := fmt.Sprintf(
		"%s?client_id=%s&redirect_uri=%s&response_type=code&scope=%s&state=%s",
		twitchAuthURL,
		url.QueryEscape(s.config.TwitchClientID),
		url.QueryEscape(s.config.TwitchRedirectURI),
		url.QueryEscape(twitchScopes),
		url.QueryEscape(state),
	)
	return s.renderTemplate(c, "login.html", map[string]any{"TwitchAuthURL": authURL})
}

func (s *Server) handleOAuthCallback(c echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		return apperrors.ValidationError("missing code parameter").WithContext("oauth_error", c.QueryParam("error"))
	}

	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		return apperrors.ValidationError("invalid session")
	}
	expectedState, ok := session.Values[sessionKeyOAuthState].(string)
	if !ok || expectedState == "" {
		return apperrors.ValidationError("missing OAuth state")
	}
	if c.QueryParam("state") != expectedState {
		return apperrors.ValidationError("invalid OAuth state")
	}
	delete(session.Values, sessionKeyOAuthState)

	ctx, cancel := context.WithTimeout(c.Request().Context(), oauthTimeout)
	defer cancel()

	result, err := s.oauthClient.ExchangeCodeForToken(ctx, code)
	if err != nil {
		return apperrors.ExternalError("failed to authenticate with Twitch", err)
	}

	user, err := s.app.Login(ctx, domain.UpsertUserParams{
		TwitchUserID: result.UserID,
		TwitchLogin:  result.Login,
		DisplayName:  result.DisplayName,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenExpiry:  s.clock.Now().Add(time.Duration(result.ExpiresIn) * time.Second),
	})
	if err != nil {
		return apperrors.InternalError("failed to save user", err).WithContext("twitch_user_id", result.UserID)
	}

	// A fresh session id after login prevents session fixation.
	session.Options.MaxAge = -1
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to invalidate old session", err)
	}
	session, err = s.sessionStore.New(c.Request(), sessionName)
	if err != nil {
		return apperrors.InternalError("failed to create new session", err)
	}
	session.Values[sessionKeyUserID] = user.ID.String()
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save session", err)
	}

	slog.InfoContext(ctx, "User logged in", "user_id", user.ID, "twitch_user_id", result.UserID, "login", user.TwitchLogin)
	return redirect(c, "/dashboard")
}

func (s *Server) handleLogout(c echo.Context) error {
	ctx := c.Request().Context()

	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		session, err = s.sessionStore.New(c.Request(), sessionName)
		if err != nil {
			return apperrors.InternalError("failed to create new session during logout", err)
		}
	}
	session.Options.MaxAge = -1
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save logout session", err)
	}

	if user, err := currentUser(c); err == nil {
		slog.InfoContext(ctx, "User logged out", "user_id", user.ID)
	}
	return redirect(c, "/")
}

func redirect(c echo.Context, to string) error {
	if err := c.Redirect(http.StatusFound, to); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}
