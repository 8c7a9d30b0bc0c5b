package app

import (
	"context"
	"sync"

	"github.com/ericadamski/stream-rewards/internal/domain"
	"github.com/google/uuid"
)

type mockUserRepo struct {
	getByIDFn        func(ctx context.Context, id uuid.UUID) (*domain.User, error)
	getByLoginFn     func(ctx context.Context, login string) (*domain.User, error)
	upsertFn         func(ctx context.Context, p domain.UpsertUserParams) (*domain.User, error)
	updateTrackingFn func(ctx context.Context, id uuid.UUID, metric domain.WebhookType, offset int) error
	listWithTokensFn func(ctx context.Context) ([]domain.User, error)
}

func (m *mockUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrUserNotFound
}

func (m *mockUserRepo) GetByTwitchLogin(ctx context.Context, login string) (*domain.User, error) {
	if m.getByLoginFn != nil {
		return m.getByLoginFn(ctx, login)
	}
	return nil, domain.ErrUserNotFound
}

func (m *mockUserRepo) GetByTwitchUserID(context.Context, string) (*domain.User, error) {
	return nil, domain.ErrUserNotFound
}

func (m *mockUserRepo) Upsert(ctx context.Context, p domain.UpsertUserParams) (*domain.User, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, p)
	}
	return &domain.User{ID: uuid.New(), TwitchUserID: p.TwitchUserID, TwitchLogin: p.TwitchLogin}, nil
}

func (m *mockUserRepo) UpdateTracking(ctx context.Context, id uuid.UUID, metric domain.WebhookType, offset int) error {
	if m.updateTrackingFn != nil {
		return m.updateTrackingFn(ctx, id, metric, offset)
	}
	return nil
}

func (m *mockUserRepo) ClearTokens(context.Context, uuid.UUID) error { return nil }

func (m *mockUserRepo) ListWithTokens(ctx context.Context) ([]domain.User, error) {
	if m.listWithTokensFn != nil {
		return m.listWithTokensFn(ctx)
	}
	return nil, nil
}

type mockRewardRepo struct {
	listFn   func(ctx context.Context, userID uuid.UUID) ([]domain.Reward, error)
	createFn func(ctx context.Context, userID uuid.UUID, subCount int, reward string) (*domain.Reward, error)
	deleteFn func(ctx context.Context, userID, rewardID uuid.UUID) error
}

func (m *mockRewardRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Reward, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockRewardRepo) ListByTwitchLogin(context.Context, string) ([]domain.Reward, error) {
	return nil, nil
}

func (m *mockRewardRepo) Create(ctx context.Context, userID uuid.UUID, subCount int, reward string) (*domain.Reward, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, subCount, reward)
	}
	return &domain.Reward{ID: uuid.New(), UserID: userID, SubCount: subCount, Reward: reward}, nil
}

func (m *mockRewardRepo) Delete(ctx context.Context, userID, rewardID uuid.UUID) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, rewardID)
	}
	return nil
}

type mockRewardSource struct {
	listFn func(ctx context.Context, login string) ([]domain.Reward, error)
}

func (m *mockRewardSource) ListByTwitchLogin(ctx context.Context, login string) ([]domain.Reward, error) {
	if m.listFn != nil {
		return m.listFn(ctx, login)
	}
	return nil, nil
}

type mockInvalidator struct {
	mu          sync.Mutex
	invalidated []string
	err         error
}

func (m *mockInvalidator) InvalidateLogin(_ context.Context, login string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, login)
	return m.err
}

type mockSubscriptionRepo struct {
	listByUserFn func(ctx context.Context, userID uuid.UUID) ([]domain.EventSubSubscription, error)
}

func (m *mockSubscriptionRepo) Create(context.Context, uuid.UUID, domain.WebhookType, string, string) error {
	return nil
}

func (m *mockSubscriptionRepo) Get(context.Context, uuid.UUID, domain.WebhookType) (*domain.EventSubSubscription, error) {
	return nil, domain.ErrSubscriptionNotFound
}

func (m *mockSubscriptionRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]domain.EventSubSubscription, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockSubscriptionRepo) Delete(context.Context, uuid.UUID, domain.WebhookType) error {
	return nil
}
func (m *mockSubscriptionRepo) DeleteByConduitID(context.Context, string) error { return nil }
func (m *mockSubscriptionRepo) List(context.Context) ([]domain.EventSubSubscription, error) {
	return nil, nil
}

type mockEventSub struct {
	mu            sync.Mutex
	subscribed    []domain.WebhookType
	subscribeFn   func(ctx context.Context, user *domain.User, t domain.WebhookType) error
	unsubscribeFn func(ctx context.Context, user *domain.User, t domain.WebhookType) error
}

func (m *mockEventSub) Subscribe(ctx context.Context, user *domain.User, t domain.WebhookType) error {
	m.mu.Lock()
	m.subscribed = append(m.subscribed, t)
	m.mu.Unlock()
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, user, t)
	}
	return nil
}

func (m *mockEventSub) Unsubscribe(ctx context.Context, user *domain.User, t domain.WebhookType) error {
	if m.unsubscribeFn != nil {
		return m.unsubscribeFn(ctx, user, t)
	}
	return nil
}

type mockMetricReader struct {
	currentFn func(ctx context.Context, broadcasterID string, metric domain.WebhookType) (domain.MetricTally, error)
}

func (m *mockMetricReader) Current(ctx context.Context, broadcasterID string, metric domain.WebhookType) (domain.MetricTally, error) {
	if m.currentFn != nil {
		return m.currentFn(ctx, broadcasterID, metric)
	}
	return domain.MetricTally{}, nil
}

type mockEventRepo struct {
	mu       sync.Mutex
	recorded []domain.StreamEvent
	recordFn func(ctx context.Context, e domain.StreamEvent) error
	tallyFn  func(ctx context.Context, broadcasterID, streamID string, metric domain.WebhookType) (domain.MetricTally, error)
}

func (m *mockEventRepo) Record(ctx context.Context, e domain.StreamEvent) error {
	if m.recordFn != nil {
		if err := m.recordFn(ctx, e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, e)
	return nil
}

func (m *mockEventRepo) Tally(ctx context.Context, broadcasterID, streamID string, metric domain.WebhookType) (domain.MetricTally, error) {
	if m.tallyFn != nil {
		return m.tallyFn(ctx, broadcasterID, streamID, metric)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var t domain.MetricTally
	for _, e := range m.recorded {
		if e.BroadcasterID == broadcasterID && e.StreamID == streamID && e.Type == metric {
			t.Count++
			t.LastEventUser = e.EventUserName
		}
	}
	return t, nil
}

// memoryState is an in-memory StreamStateStore.
type memoryState struct {
	mu      sync.Mutex
	live    map[string]string
	tallies map[string]domain.MetricTally
	readErr error
}

func newMemoryState() *memoryState {
	return &memoryState{live: map[string]string{}, tallies: map[string]domain.MetricTally{}}
}

func tallyKey(b, s string, m domain.WebhookType) string { return b + "|" + s + "|" + string(m) }

func (m *memoryState) SetLiveStream(_ context.Context, b, s string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[b] = s
	return nil
}

func (m *memoryState) ClearLiveStream(_ context.Context, b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, b)
	return nil
}

func (m *memoryState) LiveStream(_ context.Context, b string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.live[b]
	if !ok {
		return "", domain.ErrStreamOffline
	}
	return s, nil
}

func (m *memoryState) IncrementTally(_ context.Context, b, s string, metric domain.WebhookType, user string) (domain.MetricTally, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tallies[tallyKey(b, s, metric)]
	t.Count++
	t.LastEventUser = user
	m.tallies[tallyKey(b, s, metric)] = t
	return t, nil
}

func (m *memoryState) CachedTally(_ context.Context, b, s string, metric domain.WebhookType) (domain.MetricTally, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return domain.MetricTally{}, false, m.readErr
	}
	t, ok := m.tallies[tallyKey(b, s, metric)]
	return t, ok, nil
}

func (m *memoryState) StoreTally(_ context.Context, b, s string, metric domain.WebhookType, t domain.MetricTally) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tallies[tallyKey(b, s, metric)] = t
	return nil
}
