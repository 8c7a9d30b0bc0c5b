package twitch

import (
	"context"
	"errors"
	"sync"

	"github.com/Its-donkey/kappopher/helix"
	"github.com/ericadamski/stream-rewards/internal/domain"
	"github.com/google/uuid"
)

type fakeAPI struct {
	getConduitsFn         func(ctx context.Context) ([]helix.Conduit, error)
	createConduitFn       func(ctx context.Context, shardCount int) (*helix.Conduit, error)
	updateConduitShardsFn func(ctx context.Context, params *helix.UpdateConduitShardsParams) error
	deleteConduitFn       func(ctx context.Context, conduitID string) error
	createSubFn           func(ctx context.Context, params *helix.CreateEventSubSubscriptionParams) (*helix.EventSubSubscription, error)
	listSubsFn            func(ctx context.Context, subType string) ([]helix.EventSubSubscription, error)
	deleteSubFn           func(ctx context.Context, subscriptionID string) error

	mu           sync.Mutex
	createParams []*helix.CreateEventSubSubscriptionParams
	deletedSubs  []string
}

func (f *fakeAPI) GetConduits(ctx context.Context) ([]helix.Conduit, error) {
	if f.getConduitsFn != nil {
		return f.getConduitsFn(ctx)
	}
	return nil, nil
}

func (f *fakeAPI) CreateConduit(ctx context.Context, shardCount int) (*helix.Conduit, error) {
	if f.createConduitFn != nil {
		return f.createConduitFn(ctx, shardCount)
	}
	return &helix.Conduit{ID: "conduit-new", ShardCount: shardCount}, nil
}

func (f *fakeAPI) UpdateConduitShards(ctx context.Context, params *helix.UpdateConduitShardsParams) error {
	if f.updateConduitShardsFn != nil {
		return f.updateConduitShardsFn(ctx, params)
	}
	return nil
}

func (f *fakeAPI) DeleteConduit(ctx context.Context, conduitID string) error {
	if f.deleteConduitFn != nil {
		return f.deleteConduitFn(ctx, conduitID)
	}
	return nil
}

func (f *fakeAPI) CreateEventSubSubscription(ctx context.Context, params *helix.CreateEventSubSubscriptionParams) (*helix.EventSubSubscription, error) {
	f.mu.Lock()
	f.createParams = append(f.createParams, params)
	f.mu.Unlock()
	if f.createSubFn != nil {
		return f.createSubFn(ctx, params)
	}
	return &helix.EventSubSubscription{ID: "sub-" + params.Type}, nil
}

func (f *fakeAPI) ListEventSubSubscriptions(ctx context.Context, subType string) ([]helix.EventSubSubscription, error) {
	if f.listSubsFn != nil {
		return f.listSubsFn(ctx, subType)
	}
	return nil, nil
}

func (f *fakeAPI) DeleteEventSubSubscription(ctx context.Context, subscriptionID string) error {
	f.mu.Lock()
	f.deletedSubs = append(f.deletedSubs, subscriptionID)
	f.mu.Unlock()
	if f.deleteSubFn != nil {
		return f.deleteSubFn(ctx, subscriptionID)
	}
	return nil
}

type subKey struct {
	userID  uuid.UUID
	subType domain.WebhookType
}

// memoryRepo is an in-memory domain.EventSubRepository.
type memoryRepo struct {
	mu        sync.Mutex
	records   map[subKey]domain.EventSubSubscription
	createErr error
	deleteErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: make(map[subKey]domain.EventSubSubscription)}
}

func (r *memoryRepo) Create(_ context.Context, userID uuid.UUID, subType domain.WebhookType, subscriptionID, conduitID string) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[subKey{userID, subType}] = domain.EventSubSubscription{UserID: userID, Type: subType, SubscriptionID: subscriptionID, ConduitID: conduitID}
	return nil
}

func (r *memoryRepo) Get(_ context.Context, userID uuid.UUID, subType domain.WebhookType) (*domain.EventSubSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[subKey{userID, subType}]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	return &rec, nil
}

func (r *memoryRepo) ListByUserID(_ context.Context, userID uuid.UUID) ([]domain.EventSubSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.EventSubSubscription
	for k, v := range r.records {
		if k.userID == userID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *memoryRepo) Delete(_ context.Context, userID uuid.UUID, subType domain.WebhookType) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[subKey{userID, subType}]; !ok {
		return domain.ErrSubscriptionNotFound
	}
	delete(r.records, subKey{userID, subType})
	return nil
}

func (r *memoryRepo) DeleteByConduitID(_ context.Context, conduitID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range r.records {
		if v.ConduitID == conduitID {
			delete(r.records, k)
		}
	}
	return nil
}

func (r *memoryRepo) List(_ context.Context) ([]domain.EventSubSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventSubSubscription, 0, len(r.records))
	for _, v := range r.records {
		out = append(out, v)
	}
	return out, nil
}

func (r *memoryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type trackerCall struct {
	method        string
	broadcasterID string
	streamID      string
	metric        domain.WebhookType
	eventUser     string
	ctx           context.Context
}

// recordingTracker records every call and reports events as counted unless
// offline is set.
type recordingTracker struct {
	mu      sync.Mutex
	calls   []trackerCall
	offline bool
	err     error
}

func (t *recordingTracker) StreamOnline(ctx context.Context, broadcasterID, streamID string) error {
	t.record(trackerCall{method: "online", broadcasterID: broadcasterID, streamID: streamID, ctx: ctx})
	return t.err
}

func (t *recordingTracker) StreamOffline(ctx context.Context, broadcasterID string) error {
	t.record(trackerCall{method: "offline", broadcasterID: broadcasterID, ctx: ctx})
	return t.err
}

func (t *recordingTracker) RecordEvent(ctx context.Context, broadcasterID string, metric domain.WebhookType, eventUser string) (bool, error) {
	t.record(trackerCall{method: "event", broadcasterID: broadcasterID, metric: metric, eventUser: eventUser, ctx: ctx})
	if t.err != nil {
		return false, t.err
	}
	return !t.offline, nil
}

func (t *recordingTracker) record(c trackerCall) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, c)
}

func (t *recordingTracker) snapshot() []trackerCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]trackerCall(nil), t.calls...)
}

var errBoom = errors.New("boom")
