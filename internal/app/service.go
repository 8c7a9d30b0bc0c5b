package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ericadamski/stream-rewards/internal/domain"
	apperrors "github.com/ericadamski/stream-rewards/internal/platform/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	maxRewardLength = 200
	maxMetricOffset = 1_000_000

	// snapshotTimeout bounds a shared progress lookup, which outlives the
	// request that started it.
	snapshotTimeout = 5 * time.Second
)

// lifecycleTypes are subscribed for every user at login so the tracker knows
// which stream is live.
var lifecycleTypes = []domain.WebhookType{domain.WebhookStreamOnline, domain.WebhookStreamOffline}

// MetricReader returns the live tally of a metric for a broadcaster.
type MetricReader interface {
	Current(ctx context.Context, broadcasterID string, metric domain.WebhookType) (domain.MetricTally, error)
}

type Service struct {
	users         domain.UserRepository
	rewards       domain.RewardRepository
	rewardSource  domain.RewardSource
	rewardCache   domain.RewardCacheInvalidator
	subscriptions domain.EventSubRepository
	eventsub      domain.EventSubService
	tally         MetricReader

	progressGroup singleflight.Group
}

// NewService wires the use cases. eventsub may be nil when webhooks are not
// configured; subscribe operations then fail.
func NewService(
	users domain.UserRepository,
	rewards domain.RewardRepository,
	rewardSource domain.RewardSource,
	rewardCache domain.RewardCacheInvalidator,
	subscriptions domain.EventSubRepository,
	eventsub domain.EventSubService,
	tally MetricReader,
) *Service {
	return &Service{
		users:         users,
		rewards:       rewards,
		rewardSource:  rewardSource,
		rewardCache:   rewardCache,
		subscriptions: subscriptions,
		eventsub:      eventsub,
		tally:         tally,
	}
}

func (s *Service) GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *Service) GetUserByTwitchLogin(ctx context.Context, login string) (*domain.User, error) {
	login = normalizeLogin(login)
	if login == "" {
		return nil, domain.ErrUserNotFound
	}
	return s.users.GetByTwitchLogin(ctx, login)
}

// Login stores the user's Twitch identity and tokens and makes sure the
// stream lifecycle subscriptions exist. Subscription failures are logged and
// do not fail the login.
func (s *Service) Login(ctx context.Context, params domain.UpsertUserParams) (*domain.User, error) {
	params.TwitchLogin = normalizeLogin(params.TwitchLogin)
	user, err := s.users.Upsert(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	if s.eventsub == nil {
		return user, nil
	}
	for _, t := range lifecycleTypes {
		if err := s.eventsub.Subscribe(ctx, user, t); err != nil {
			slog.WarnContext(ctx, "Lifecycle subscription failed", "user_id", user.ID, "type", t, "error", err)
		}
	}
	return user, nil
}

func (s *Service) ListRewards(ctx context.Context, userID uuid.UUID) ([]domain.Reward, error) {
	return s.rewards.ListByUserID(ctx, userID)
}

func (s *Service) AddReward(ctx context.Context, user *domain.User, subCount int, text string) (*domain.Reward, error) {
	text = strings.TrimSpace(text)
	if subCount <= 0 {
		return nil, apperrors.ValidationError("sub count must be greater than zero").WithContext("sub_count", subCount)
	}
	if text == "" || utf8.RuneCountInString(text) > maxRewardLength {
		return nil, apperrors.ValidationError(fmt.Sprintf("reward must be between 1 and %d characters", maxRewardLength))
	}

	reward, err := s.rewards.Create(ctx, user.ID, subCount, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create reward: %w", err)
	}
	s.invalidateRewards(ctx, user.TwitchLogin)
	return reward, nil
}

func (s *Service) DeleteReward(ctx context.Context, user *domain.User, rewardID uuid.UUID) error {
	if err := s.rewards.Delete(ctx, user.ID, rewardID); err != nil {
		if errors.Is(err, domain.ErrRewardNotFound) {
			return apperrors.NotFoundError("reward not found").WithContext("reward_id", rewardID.String())
		}
		return fmt.Errorf("failed to delete reward: %w", err)
	}
	s.invalidateRewards(ctx, user.TwitchLogin)
	return nil
}

// UpdateSettings changes which metric drives the ladder and the head start
// added to the live count.
func (s *Service) UpdateSettings(ctx context.Context, user *domain.User, metric string, offset int) error {
	t, err := domain.ParseWebhookType(metric)
	if err != nil || !t.IsMetric() {
		return apperrors.ValidationError("unknown tracking metric").WithContext("metric", metric)
	}
	if offset < 0 || offset > maxMetricOffset {
		return apperrors.ValidationError("offset out of range").WithContext("offset", offset)
	}
	if err := s.users.UpdateTracking(ctx, user.ID, t, offset); err != nil {
		return fmt.Errorf("failed to update tracking settings: %w", err)
	}
	return nil
}

// SubscriptionStatus reports, per known type, whether the user has an
// EventSub subscription on record.
func (s *Service) SubscriptionStatus(ctx context.Context, userID uuid.UUID) (map[domain.WebhookType]bool, error) {
	subs, err := s.subscriptions.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	status := make(map[domain.WebhookType]bool, len(subs))
	for _, sub := range subs {
		status[sub.Type] = true
	}
	return status, nil
}

func (s *Service) Subscribe(ctx context.Context, user *domain.User, subType domain.WebhookType) error {
	if s.eventsub == nil {
		return apperrors.InternalError("eventsub is not configured", nil)
	}
	return s.eventsub.Subscribe(ctx, user, subType)
}

func (s *Service) Unsubscribe(ctx context.Context, user *domain.User, subType domain.WebhookType) error {
	if s.eventsub == nil {
		return apperrors.InternalError("eventsub is not configured", nil)
	}
	return s.eventsub.Unsubscribe(ctx, user, subType)
}

// ResubscribeAll restores the EventSub subscriptions of every user holding a
// token: the lifecycle types, the tracking metric and any type still on
// record. It is meant to run once the conduit is set up, since a new conduit
// starts without subscriptions. Types already on the current conduit are
// skipped by the EventSub service. Failures are logged and counted; the
// returned error summarizes them.
func (s *Service) ResubscribeAll(ctx context.Context) error {
	if s.eventsub == nil {
		return nil
	}
	users, err := s.users.ListWithTokens(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	var total, failed int
	for i := range users {
		user := &users[i]
		for _, t := range s.wantedTypes(ctx, user) {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("resubscribe interrupted after %d subscriptions: %w", total, err)
			}
			total++
			if err := s.eventsub.Subscribe(ctx, user, t); err != nil {
				failed++
				slog.WarnContext(ctx, "Resubscribe failed", "user_id", user.ID, "type", t, "error", err)
			}
		}
	}

	slog.InfoContext(ctx, "Resubscribed users", "users", len(users), "subscriptions", total, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d subscriptions failed", failed, total)
	}
	return nil
}

func (s *Service) wantedTypes(ctx context.Context, user *domain.User) []domain.WebhookType {
	types := slices.Clone(lifecycleTypes)
	if !slices.Contains(types, user.TrackingMetric) {
		types = append(types, user.TrackingMetric)
	}

	recorded, err := s.subscriptions.ListByUserID(ctx, user.ID)
	if err != nil {
		slog.WarnContext(ctx, "Failed to list recorded subscriptions", "user_id", user.ID, "error", err)
		return types
	}
	for _, sub := range recorded {
		if !slices.Contains(types, sub.Type) {
			types = append(types, sub.Type)
		}
	}
	return types
}

// RewardsForLogin returns the public ladder of a streamer.
func (s *Service) RewardsForLogin(ctx context.Context, login string) ([]domain.Reward, error) {
	snap, err := s.loadSnapshot(ctx, login)
	if err != nil {
		return nil, err
	}
	return snap.rewards, nil
}

// Progress builds the progress page model for a streamer. Concurrent calls
// for the same login share one lookup.
func (s *Service) Progress(ctx context.Context, login, direction string) (ProgressView, error) {
	snap, err := s.loadSnapshot(ctx, login)
	if err != nil {
		return ProgressView{}, err
	}
	return ComputeProgress(ProgressInput{
		Count:         snap.tally.Count + snap.user.MetricOffset,
		Rewards:       snap.rewards,
		Metric:        snap.user.TrackingMetric,
		LastEventUser: snap.tally.LastEventUser,
		Direction:     direction,
	}), nil
}

type progressSnapshot struct {
	user    *domain.User
	rewards []domain.Reward
	tally   domain.MetricTally
}

func (s *Service) loadSnapshot(ctx context.Context, login string) (*progressSnapshot, error) {
	login = normalizeLogin(login)
	if login == "" {
		return nil, domain.ErrUserNotFound
	}

	v, err, _ := s.progressGroup.Do(login, func() (any, error) {
		// Callers that collapsed onto this lookup must not fail because the
		// first one went away.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotTimeout)
		defer cancel()

		user, err := s.users.GetByTwitchLogin(ctx, login)
		if err != nil {
			return nil, err
		}
		rewards, err := s.rewardSource.ListByTwitchLogin(ctx, login)
		if err != nil {
			return nil, fmt.Errorf("failed to list rewards: %w", err)
		}

		tally, err := s.tally.Current(ctx, user.TwitchUserID, user.TrackingMetric)
		if err != nil {
			slog.WarnContext(ctx, "Metric tally unavailable, showing zero", "login", login, "error", err)
			tally = domain.MetricTally{}
		}
		return &progressSnapshot{user: user, rewards: rewards, tally: tally}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*progressSnapshot), nil
}

func (s *Service) invalidateRewards(ctx context.Context, login string) {
	if err := s.rewardCache.InvalidateLogin(ctx, login); err != nil {
		slog.WarnContext(ctx, "Failed to invalidate reward cache", "login", login, "error", err)
	}
}

func normalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}
