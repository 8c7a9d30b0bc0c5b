// Package httpserver serves the dashboard, the public progress pages and
// their polling API, the EventSub endpoints and the operational routes.
package httpserver

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericadamski/stream-rewards/internal/adapter/metrics"
	"github.com/ericadamski/stream-rewards/internal/app"
	"github.com/ericadamski/stream-rewards/internal/domain"
	"github.com/ericadamski/stream-rewards/internal/platform/config"
	"github.com/ericadamski/stream-rewards/web"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

type appService interface {
	GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	Login(ctx context.Context, params domain.UpsertUserParams) (*domain.User, error)
	ListRewards(ctx context.Context, userID uuid.UUID) ([]domain.Reward, error)
	AddReward(ctx context.Context, user *domain.User, subCount int, text string) (*domain.Reward, error)
	DeleteReward(ctx context.Context, user *domain.User, rewardID uuid.UUID) error
	UpdateSettings(ctx context.Context, user *domain.User, metric string, offset int) error
	SubscriptionStatus(ctx context.Context, userID uuid.UUID) (map[domain.WebhookType]bool, error)
	Subscribe(ctx context.Context, user *domain.User, subType domain.WebhookType) error
	Unsubscribe(ctx context.Context, user *domain.User, subType domain.WebhookType) error
	RewardsForLogin(ctx context.Context, login string) ([]domain.Reward, error)
	Progress(ctx context.Context, login, direction string) (app.ProgressView, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	app            appService
	webhookHandler http.Handler

	templates *template.Template

	oauthClient  twitchOAuthClient
	sessionStore *sessions.CookieStore
	healthChecks []HealthCheck

	registry    *prometheus.Registry
	httpMetrics *metrics.HTTPMetrics
	startTime   time.Time
}

// NewServer builds the server. webhookHandler may be nil when EventSub is
// not configured; /webhooks/eventsub then answers 404.
func NewServer(cfg *config.Config, app appService, webhookHandler http.Handler, registry *prometheus.Registry, healthChecks []HealthCheck, clock clockwork.Clock) (*Server, error) {
	templates, err := template.ParseFS(web.TemplateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:           e,
		config:         cfg,
		clock:          clock,
		app:            app,
		webhookHandler: webhookHandler,
		templates:      templates,
		oauthClient:    newTwitchOAuthClient(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI),
		sessionStore:   newSessionStore(cfg),
		healthChecks:   healthChecks,
		registry:       registry,
		startTime:      clock.Now(),
	}
	if registry != nil {
		srv.httpMetrics = metrics.NewHTTPMetrics(registry)
	}

	srv.registerRoutes()
	return srv, nil
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

const (
	sessionName          = "stream-rewards-session"
	sessionKeyUserID     = "user_id"
	sessionKeyOAuthState = "oauth_state"
)

func (s *Server) renderTemplate(c echo.Context, name string, data any) error {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.ErrorContext(c.Request().Context(), "Template execution failed", "path", c.Request().URL.Path, "error", err)
		if err := c.String(http.StatusInternalServerError, "Failed to render page"); err != nil {
			return fmt.Errorf("failed to send error response: %w", err)
		}
		return nil
	}
	if err := c.HTMLBlob(http.StatusOK, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send HTML response: %w", err)
	}
	return nil
}

func (s *Server) getBaseURL(c echo.Context) string {
	scheme := "http"
	if c.Request().TLS != nil {
		scheme = "https"
	}
	if fwdProto := c.Request().Header.Get("X-Forwarded-Proto"); fwdProto == "http" || fwdProto == "https" {
		scheme = fwdProto
	}
	return fmt.Sprintf("%s://%s", scheme, c.Request().Host)
}

func newSessionStore(cfg *config.Config) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}
	return store
}
