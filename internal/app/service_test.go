package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ericadamski/stream-rewards/internal/domain"
	apperrors "github.com/ericadamski/stream-rewards/internal/platform/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDeps struct {
	users       *mockUserRepo
	rewards     *mockRewardRepo
	source      *mockRewardSource
	invalidator *mockInvalidator
	subs        *mockSubscriptionRepo
	eventsub    *mockEventSub
	tally       *mockMetricReader
}

func newTestService() (*Service, *testDeps) {
	d := &testDeps{
		users:       &mockUserRepo{},
		rewards:     &mockRewardRepo{},
		source:      &mockRewardSource{},
		invalidator: &mockInvalidator{},
		subs:        &mockSubscriptionRepo{},
		eventsub:    &mockEventSub{},
		tally:       &mockMetricReader{},
	}
	svc := NewService(d.users, d.rewards, d.source, d.invalidator, d.subs, d.eventsub, d.tally)
	return svc, d
}

func testUser() *domain.User {
	return &domain.User{
		ID:             uuid.New(),
		TwitchUserID:   "190420931",
		TwitchLogin:    "streamer",
		AccessToken:    "token",
		TrackingMetric: domain.WebhookChannelSubscribe,
	}
}

func TestLogin_SubscribesLifecycleTypes(t *testing.T) {
	svc, d := newTestService()

	var got domain.UpsertUserParams
	d.users.upsertFn = func(_ context.Context, p domain.UpsertUserParams) (*domain.User, error) {
		got = p
		return &domain.User{ID: uuid.New(), TwitchLogin: p.TwitchLogin}, nil
	}

	user, err := svc.Login(context.Background(), domain.UpsertUserParams{TwitchUserID: "1", TwitchLogin: " Streamer "})
	require.NoError(t, err)
	assert.Equal(t, "streamer", got.TwitchLogin)
	assert.Equal(t, "streamer", user.TwitchLogin)
	assert.Equal(t, []domain.WebhookType{domain.WebhookStreamOnline, domain.WebhookStreamOffline}, d.eventsub.subscribed)
}

func TestLogin_SubscribeFailureDoesNotFailLogin(t *testing.T) {
	svc, d := newTestService()
	d.eventsub.subscribeFn = func(context.Context, *domain.User, domain.WebhookType) error {
		return errors.New("twitch down")
	}

	_, err := svc.Login(context.Background(), domain.UpsertUserParams{TwitchUserID: "1", TwitchLogin: "s"})
	assert.NoError(t, err)
}

func TestLogin_UpsertError(t *testing.T) {
	svc, d := newTestService()
	d.users.upsertFn = func(context.Context, domain.UpsertUserParams) (*domain.User, error) {
		return nil, errors.New("db down")
	}

	_, err := svc.Login(context.Background(), domain.UpsertUserParams{})
	assert.Error(t, err)
	assert.Empty(t, d.eventsub.subscribed)
}

func TestAddReward_Validation(t *testing.T) {
	svc, _ := newTestService()
	user := testUser()

	tests := []struct {
		name     string
		subCount int
		text     string
	}{
		{"zero count", 0, "shave head"},
		{"negative count", -3, "shave head"},
		{"blank reward", 5, "   "},
		{"too long", 5, strings.Repeat("a", maxRewardLength+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddReward(context.Background(), user, tt.subCount, tt.text)
			var appErr *apperrors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperrors.TypeValidation, appErr.Type)
		})
	}
}

func TestAddReward_CreatesAndInvalidates(t *testing.T) {
	svc, d := newTestService()
	user := testUser()

	reward, err := svc.AddReward(context.Background(), user, 10, "  dye hair  ")
	require.NoError(t, err)
	assert.Equal(t, "dye hair", reward.Reward)
	assert.Equal(t, 10, reward.SubCount)
	assert.Equal(t, []string{"streamer"}, d.invalidator.invalidated)
}

func TestAddReward_InvalidationErrorIgnored(t *testing.T) {
	svc, d := newTestService()
	d.invalidator.err = errors.New("redis down")

	_, err := svc.AddReward(context.Background(), testUser(), 1, "x")
	assert.NoError(t, err)
}

func TestDeleteReward(t *testing.T) {
	svc, d := newTestService()
	user := testUser()

	d.rewards.deleteFn = func(context.Context, uuid.UUID, uuid.UUID) error { return domain.ErrRewardNotFound }
	err := svc.DeleteReward(context.Background(), user, uuid.New())
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.TypeNotFound, appErr.Type)
	assert.Empty(t, d.invalidator.invalidated)

	d.rewards.deleteFn = nil
	require.NoError(t, svc.DeleteReward(context.Background(), user, uuid.New()))
	assert.Equal(t, []string{"streamer"}, d.invalidator.invalidated)
}

func TestUpdateSettings(t *testing.T) {
	svc, d := newTestService()
	user := testUser()

	var gotMetric domain.WebhookType
	var gotOffset int
	d.users.updateTrackingFn = func(_ context.Context, _ uuid.UUID, m domain.WebhookType, o int) error {
		gotMetric, gotOffset = m, o
		return nil
	}

	require.NoError(t, svc.UpdateSettings(context.Background(), user, "channel.follow", 74))
	assert.Equal(t, domain.WebhookChannelFollow, gotMetric)
	assert.Equal(t, 74, gotOffset)

	for _, bad := range []struct {
		metric string
		offset int
	}{
		{"stream.online", 0},
		{"nonsense", 0},
		{"channel.cheer", -1},
		{"channel.cheer", maxMetricOffset + 1},
	} {
		err := svc.UpdateSettings(context.Background(), user, bad.metric, bad.offset)
		var appErr *apperrors.Error
		require.ErrorAs(t, err, &appErr, bad.metric)
		assert.Equal(t, apperrors.TypeValidation, appErr.Type)
	}
}

func TestSubscriptionStatus(t *testing.T) {
	svc, d := newTestService()
	d.subs.listByUserFn = func(context.Context, uuid.UUID) ([]domain.EventSubSubscription, error) {
		return []domain.EventSubSubscription{
			{Type: domain.WebhookChannelSubscribe},
			{Type: domain.WebhookStreamOnline},
		}, nil
	}

	status, err := svc.SubscriptionStatus(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, status[domain.WebhookChannelSubscribe])
	assert.True(t, status[domain.WebhookStreamOnline])
	assert.False(t, status[domain.WebhookChannelCheer])
}

func TestSubscribe_WithoutEventSub(t *testing.T) {
	svc := NewService(&mockUserRepo{}, &mockRewardRepo{}, &mockRewardSource{}, &mockInvalidator{}, &mockSubscriptionRepo{}, nil, &mockMetricReader{})

	assert.Error(t, svc.Subscribe(context.Background(), testUser(), domain.WebhookChannelCheer))
	assert.Error(t, svc.Unsubscribe(context.Background(), testUser(), domain.WebhookChannelCheer))

	_, err := svc.Login(context.Background(), domain.UpsertUserParams{TwitchLogin: "x"})
	assert.NoError(t, err)
}

func TestProgress_AppliesOffsetAndTally(t *testing.T) {
	svc, d := newTestService()
	user := testUser()
	user.MetricOffset = 74

	d.users.getByLoginFn = func(_ context.Context, login string) (*domain.User, error) {
		assert.Equal(t, "streamer", login)
		return user, nil
	}
	d.source.listFn = func(context.Context, string) ([]domain.Reward, error) {
		return rewards(100, 80), nil
	}
	d.tally.currentFn = func(_ context.Context, b string, m domain.WebhookType) (domain.MetricTally, error) {
		assert.Equal(t, "190420931", b)
		assert.Equal(t, domain.WebhookChannelSubscribe, m)
		return domain.MetricTally{Count: 6, LastEventUser: "kappa"}, nil
	}

	view, err := svc.Progress(context.Background(), "Streamer", "r")
	require.NoError(t, err)
	assert.Equal(t, 80, view.Count)
	assert.InDelta(t, 80.0, view.Percent, 1e-9)
	require.NotNil(t, view.NextReward)
	assert.Equal(t, 100, view.NextReward.SubCount)
	assert.Equal(t, "kappa", view.LastEventUser)
	assert.True(t, view.AnchorRight)
}

func TestProgress_TallyErrorShowsZero(t *testing.T) {
	svc, d := newTestService()
	d.users.getByLoginFn = func(context.Context, string) (*domain.User, error) { return testUser(), nil }
	d.tally.currentFn = func(context.Context, string, domain.WebhookType) (domain.MetricTally, error) {
		return domain.MetricTally{}, errors.New("circuit open")
	}

	view, err := svc.Progress(context.Background(), "streamer", "")
	require.NoError(t, err)
	assert.Zero(t, view.Count)
}

func TestProgress_UnknownUser(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Progress(context.Background(), "nobody", "")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = svc.Progress(context.Background(), "  ", "")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = svc.RewardsForLogin(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestProgress_CollapsesConcurrentLookups(t *testing.T) {
	svc, d := newTestService()

	var lookups atomic.Int32
	release := make(chan struct{})
	d.users.getByLoginFn = func(context.Context, string) (*domain.User, error) {
		lookups.Add(1)
		<-release
		return testUser(), nil
	}

	const callers = 5
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Progress(context.Background(), "streamer", "")
			assert.NoError(t, err)
		}()
	}

	// Give the callers time to pile up on the in-flight lookup.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Less(t, lookups.Load(), int32(callers))
}

func TestProgress_SharedLookupSurvivesFirstCallerCancel(t *testing.T) {
	svc, d := newTestService()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	d.users.getByLoginFn = func(ctx context.Context, _ string) (*domain.User, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
			return testUser(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Progress(firstCtx, "streamer", "")
		firstErr <- err
	}()
	<-started

	secondErr := make(chan error, 1)
	go func() {
		_, err := svc.Progress(context.Background(), "streamer", "")
		secondErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancelFirst()
	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.NoError(t, <-secondErr)
	assert.NoError(t, <-firstErr)
}

func TestResubscribeAll(t *testing.T) {
	svc, d := newTestService()

	follower := *testUser()
	follower.TrackingMetric = domain.WebhookChannelFollow
	subscriber := *testUser()
	d.users.listWithTokensFn = func(context.Context) ([]domain.User, error) {
		return []domain.User{follower, subscriber}, nil
	}
	d.subs.listByUserFn = func(_ context.Context, userID uuid.UUID) ([]domain.EventSubSubscription, error) {
		if userID == subscriber.ID {
			return []domain.EventSubSubscription{
				{UserID: userID, Type: domain.WebhookChannelCheer},
				{UserID: userID, Type: domain.WebhookStreamOnline},
			}, nil
		}
		return nil, nil
	}

	var mu sync.Mutex
	got := map[uuid.UUID][]domain.WebhookType{}
	d.eventsub.subscribeFn = func(_ context.Context, user *domain.User, typ domain.WebhookType) error {
		mu.Lock()
		defer mu.Unlock()
		got[user.ID] = append(got[user.ID], typ)
		return nil
	}

	require.NoError(t, svc.ResubscribeAll(context.Background()))
	assert.Equal(t, []domain.WebhookType{domain.WebhookStreamOnline, domain.WebhookStreamOffline, domain.WebhookChannelFollow}, got[follower.ID])
	assert.Equal(t, []domain.WebhookType{domain.WebhookStreamOnline, domain.WebhookStreamOffline, domain.WebhookChannelSubscribe, domain.WebhookChannelCheer}, got[subscriber.ID])
}

func TestResubscribeAll_ContinuesPastFailures(t *testing.T) {
	svc, d := newTestService()
	d.users.listWithTokensFn = func(context.Context) ([]domain.User, error) {
		return []domain.User{*testUser(), *testUser()}, nil
	}
	d.eventsub.subscribeFn = func(_ context.Context, _ *domain.User, typ domain.WebhookType) error {
		if typ == domain.WebhookStreamOffline {
			return errors.New("twitch down")
		}
		return nil
	}

	err := svc.ResubscribeAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 6")
	assert.Len(t, d.eventsub.subscribed, 6)
}

func TestResubscribeAll_ListError(t *testing.T) {
	svc, d := newTestService()
	d.users.listWithTokensFn = func(context.Context) ([]domain.User, error) {
		return nil, errors.New("db down")
	}

	assert.Error(t, svc.ResubscribeAll(context.Background()))
	assert.Empty(t, d.eventsub.subscribed)
}

func TestResubscribeAll_WithoutEventSub(t *testing.T) {
	svc := NewService(&mockUserRepo{}, &mockRewardRepo{}, &mockRewardSource{}, &mockInvalidator{}, &mockSubscriptionRepo{}, nil, &mockMetricReader{})
	assert.NoError(t, svc.ResubscribeAll(context.Background()))
}

func TestRewardsForLogin(t *testing.T) {
	svc, d := newTestService()
	d.users.getByLoginFn = func(context.Context, string) (*domain.User, error) { return testUser(), nil }
	d.source.listFn = func(context.Context, string) ([]domain.Reward, error) { return rewards(5, 10), nil }

	got, err := svc.RewardsForLogin(context.Background(), "streamer")
	require.NoError(t, err)
	assert.Equal(t, []int{5, 10}, subCounts(got))
}
