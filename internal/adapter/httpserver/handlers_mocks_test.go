package httpserver

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ericadamski/stream-rewards/internal/app"
	"github.com/ericadamski/stream-rewards/internal/domain"
	"github.com/ericadamski/stream-rewards/internal/platform/config"
	apperrors "github.com/ericadamski/stream-rewards/internal/platform/errors"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockAppService struct {
	getUserByIDFn        func(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	loginFn              func(ctx context.Context, params domain.UpsertUserParams) (*domain.User, error)
	listRewardsFn        func(ctx context.Context, userID uuid.UUID) ([]domain.Reward, error)
	addRewardFn          func(ctx context.Context, user *domain.User, subCount int, text string) (*domain.Reward, error)
	deleteRewardFn       func(ctx context.Context, user *domain.User, rewardID uuid.UUID) error
	updateSettingsFn     func(ctx context.Context, user *domain.User, metric string, offset int) error
	subscriptionStatusFn func(ctx context.Context, userID uuid.UUID) (map[domain.WebhookType]bool, error)
	subscribeFn          func(ctx context.Context, user *domain.User, subType domain.WebhookType) error
	unsubscribeFn        func(ctx context.Context, user *domain.User, subType domain.WebhookType) error
	rewardsForLoginFn    func(ctx context.Context, login string) ([]domain.Reward, error)
	progressFn           func(ctx context.Context, login, direction string) (app.ProgressView, error)
}

func (m *mockAppService) GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	if m.getUserByIDFn != nil {
		return m.getUserByIDFn(ctx, userID)
	}
	return nil, domain.ErrUserNotFound
}

func (m *mockAppService) Login(ctx context.Context, params domain.UpsertUserParams) (*domain.User, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) ListRewards(ctx context.Context, userID uuid.UUID) ([]domain.Reward, error) {
	if m.listRewardsFn != nil {
		return m.listRewardsFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockAppService) AddReward(ctx context.Context, user *domain.User, subCount int, text string) (*domain.Reward, error) {
	if m.addRewardFn != nil {
		return m.addRewardFn(ctx, user, subCount, text)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) DeleteReward(ctx context.Context, user *domain.User, rewardID uuid.UUID) error {
	if m.deleteRewardFn != nil {
		return m.deleteRewardFn(ctx, user, rewardID)
	}
	return nil
}

func (m *mockAppService) UpdateSettings(ctx context.Context, user *domain.User, metric string, offset int) error {
	if m.updateSettingsFn != nil {
		return m.updateSettingsFn(ctx, user, metric, offset)
	}
	return nil
}

func (m *mockAppService) SubscriptionStatus(ctx context.Context, userID uuid.UUID) (map[domain.WebhookType]bool, error) {
	if m.subscriptionStatusFn != nil {
		return m.subscriptionStatusFn(ctx, userID)
	}
	return map[domain.WebhookType]bool{}, nil
}

func (m *mockAppService) Subscribe(ctx context.Context, user *domain.User, subType domain.WebhookType) error {
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, user, subType)
	}
	return nil
}

func (m *mockAppService) Unsubscribe(ctx context.Context, user *domain.User, subType domain.WebhookType) error {
	if m.unsubscribeFn != nil {
		return m.unsubscribeFn(ctx, user, subType)
	}
	return nil
}

func (m *mockAppService) RewardsForLogin(ctx context.Context, login string) ([]domain.Reward, error) {
	if m.rewardsForLoginFn != nil {
		return m.rewardsForLoginFn(ctx, login)
	}
	return nil, domain.ErrUserNotFound
}

func (m *mockAppService) Progress(ctx context.Context, login, direction string) (app.ProgressView, error) {
	if m.progressFn != nil {
		return m.progressFn(ctx, login, direction)
	}
	return app.ProgressView{}, domain.ErrUserNotFound
}

type mockOAuthClient struct {
	result *twitchTokenResult
	err    error
}

func (m *mockOAuthClient) ExchangeCodeForToken(_ context.Context, _ string) (*twitchTokenResult, error) {
	return m.result, m.err
}

// --- Test helpers ---

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, app appService, opts ...func(*Server)) *Server {
	t.Helper()

	tmpl := template.Must(template.New("landing.html").Parse(`Landing`))
	template.Must(tmpl.New("login.html").Parse(`Login {{.TwitchAuthURL}}`))
	template.Must(tmpl.New("dashboard.html").Parse(`Dashboard {{.DisplayName}} {{range .Rewards}}[{{.SubCount}} {{.Reward}}]{{end}} {{range .Metrics}}{{if .Subscribed}}<{{.Type}}>{{end}}{{end}}`))
	template.Must(tmpl.New("progress.html").Parse(`Progress {{.Login}} {{.View.Count}} {{.View.MetricName}} {{.Direction}}`))

	store := sessions.NewCookieStore([]byte("test-secret-key-32-bytes-long!!!"))
	store.Options = &sessions.Options{
		Path:   "/",
		MaxAge: 3600,
	}

	srv := &Server{
		echo:         echo.New(),
		config:       &config.Config{TwitchClientID: "test-client-id", TwitchRedirectURI: "http://localhost/auth/callback"},
		clock:        clockwork.NewFakeClockAt(testNow),
		app:          app,
		sessionStore: store,
		templates:    tmpl,
		startTime:    testNow,
	}

	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func withOAuthClient(oauth twitchOAuthClient) func(*Server) {
	return func(s *Server) {
		s.oauthClient = oauth
	}
}

func withWebhookHandler(h http.Handler) func(*Server) {
	return func(s *Server) {
		s.webhookHandler = h
	}
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

func withClock(clock clockwork.Clock) func(*Server) {
	return func(s *Server) {
		s.clock = clock
	}
}

// callHandler wraps a handler with the error middleware, matching production behavior.
func callHandler(handler echo.HandlerFunc, c echo.Context) error {
	return apperrors.Middleware(nil)(handler)(c)
}

func setSessionUserID(t *testing.T, srv *Server, req *http.Request, rec *httptest.ResponseRecorder, userID uuid.UUID) {
	t.Helper()
	session, err := srv.sessionStore.Get(req, sessionName)
	require.NoError(t, err)
	session.Values[sessionKeyUserID] = userID.String()
	require.NoError(t, session.Save(req, rec))
}

// appWithUser serves user from GetUserByID and leaves everything else default.
func appWithUser(user *domain.User) *mockAppService {
	return &mockAppService{
		getUserByIDFn: func(_ context.Context, id uuid.UUID) (*domain.User, error) {
			if id != user.ID {
				return nil, domain.ErrUserNotFound
			}
			return user, nil
		},
	}
}

func testUser() *domain.User {
	return &domain.User{
		ID:             uuid.New(),
		TwitchUserID:   "12345",
		TwitchLogin:    "streamer",
		DisplayName:    "Streamer",
		AccessToken:    "access-token",
		RefreshToken:   "refresh-token",
		TokenExpiry:    testNow.Add(time.Hour),
		TrackingMetric: domain.WebhookChannelSubscribe,
	}
}
