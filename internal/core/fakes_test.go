package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedboard/backend/internal/provider"
	"github.com/feedboard/backend/internal/repo"
	"github.com/feedboard/backend/internal/vault"
	"github.com/feedboard/backend/pkg/events"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeIntegrationRepo struct {
	mu           sync.Mutex
	integrations map[uuid.UUID]repo.Integration
	createCalls  int
	deleted      []uuid.UUID
	lastSyncSets map[uuid.UUID]time.Time
	findDueErr   error
}

func newFakeIntegrationRepo() *fakeIntegrationRepo {
	return &fakeIntegrationRepo{
		integrations: make(map[uuid.UUID]repo.Integration),
		lastSyncSets: make(map[uuid.UUID]time.Time),
	}
}

func (r *fakeIntegrationRepo) put(i repo.Integration) repo.Integration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	r.integrations[i.ID] = i
	return i
}

func (r *fakeIntegrationRepo) get(id uuid.UUID) repo.Integration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.integrations[id]
}

func (r *fakeIntegrationRepo) FindByID(ctx context.Context, id uuid.UUID) (repo.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.integrations[id]
	if !ok {
		return repo.Integration{}, repo.ErrNotFound
	}
	return i, nil
}

func (r *fakeIntegrationRepo) FindAllForTenant(ctx context.Context, tenantID int64) ([]repo.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repo.Integration
	for _, i := range r.integrations {
		if i.TenantID == tenantID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (r *fakeIntegrationRepo) FindDue(ctx context.Context, now time.Time) ([]repo.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findDueErr != nil {
		return nil, r.findDueErr
	}
	var out []repo.Integration
	for _, i := range r.integrations {
		if !i.Enabled || !i.SyncIntervalMinutes.Valid {
			continue
		}
		interval := time.Duration(i.SyncIntervalMinutes.Int32) * time.Minute
		if !i.LastSyncAt.Valid || !i.LastSyncAt.Time.Add(interval).After(now) {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID.String() < out[b].ID.String() })
	return out, nil
}

func (r *fakeIntegrationRepo) Create(ctx context.Context, params repo.CreateIntegrationParams) (repo.Integration, error) {
	r.mu.Lock()
	r.createCalls++
	r.mu.Unlock()
	return r.put(repo.Integration{
		TenantID:            params.TenantID,
		Type:                params.Type,
		Name:                params.Name,
		Enabled:             params.Enabled,
		Config:              params.Config,
		SyncIntervalMinutes: params.SyncIntervalMinutes,
	}), nil
}

func (r *fakeIntegrationRepo) Update(ctx context.Context, params repo.UpdateIntegrationParams) (repo.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.integrations[params.ID]
	if !ok {
		return repo.Integration{}, repo.ErrNotFound
	}
	i.Name = params.Name
	i.Enabled = params.Enabled
	i.Config = params.Config
	i.SyncIntervalMinutes = params.SyncIntervalMinutes
	r.integrations[params.ID] = i
	return i, nil
}

func (r *fakeIntegrationRepo) UpdateLastSyncAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.integrations[id]
	if !ok {
		return repo.ErrNotFound
	}
	i.LastSyncAt.Time, i.LastSyncAt.Valid = at, true
	r.integrations[id] = i
	r.lastSyncSets[id] = at
	return nil
}

func (r *fakeIntegrationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.integrations, id)
	r.deleted = append(r.deleted, id)
	return nil
}

type fakeMappingRepo struct {
	mu          sync.Mutex
	mappings    map[uuid.UUID]repo.IntegrationMapping
	createCalls int
	updateCalls int
	// beforeCreate runs before the unique checks; tests use it to simulate a concurrent writer
	beforeCreate func(params repo.CreateMappingParams)
	clock        *fakeClock
}

func newFakeMappingRepo(clock *fakeClock) *fakeMappingRepo {
	return &fakeMappingRepo{mappings: make(map[uuid.UUID]repo.IntegrationMapping), clock: clock}
}

func (r *fakeMappingRepo) put(m repo.IntegrationMapping) repo.IntegrationMapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.LocalType == "" {
		m.LocalType = events.LocalTypePost
	}
	r.mappings[m.ID] = m
	return m
}

func (r *fakeMappingRepo) get(id uuid.UUID) repo.IntegrationMapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mappings[id]
}

func (r *fakeMappingRepo) all() []repo.IntegrationMapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]repo.IntegrationMapping, 0, len(r.mappings))
	for _, m := range r.mappings {
		out = append(out, m)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].LocalID < out[b].LocalID })
	return out
}

func (r *fakeMappingRepo) FindByID(ctx context.Context, id uuid.UUID) (repo.IntegrationMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mappings[id]
	if !ok {
		return repo.IntegrationMapping{}, repo.ErrNotFound
	}
	return m, nil
}

func (r *fakeMappingRepo) FindByLocalEntity(ctx context.Context, integrationID uuid.UUID, localType string, localID int64) (repo.IntegrationMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.mappings {
		if m.IntegrationID == integrationID && m.LocalType == localType && m.LocalID == localID {
			return m, nil
		}
	}
	return repo.IntegrationMapping{}, repo.ErrNotFound
}

func (r *fakeMappingRepo) FindByRemoteID(ctx context.Context, integrationID uuid.UUID, remoteID string) (repo.IntegrationMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.mappings {
		if m.IntegrationID == integrationID && m.RemoteID == remoteID {
			return m, nil
		}
	}
	return repo.IntegrationMapping{}, repo.ErrNotFound
}

func (r *fakeMappingRepo) FindInboundPostIDsForIntegration(ctx context.Context, integrationID uuid.UUID) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for _, m := range r.mappings {
		if m.IntegrationID == integrationID && m.OriginDirection == events.OriginInbound {
			ids = append(ids, m.LocalID)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids, nil
}

func (r *fakeMappingRepo) FindByStatus(ctx context.Context, integrationID uuid.UUID, status string) ([]repo.IntegrationMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repo.IntegrationMapping
	for _, m := range r.mappings {
		if m.IntegrationID == integrationID && m.SyncStatus == status {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeMappingRepo) Create(ctx context.Context, params repo.CreateMappingParams) (repo.IntegrationMapping, error) {
	if r.beforeCreate != nil {
		r.beforeCreate(params)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	for _, m := range r.mappings {
		if m.IntegrationID != params.IntegrationID {
			continue
		}
		if (m.LocalType == params.LocalType && m.LocalID == params.LocalID) || m.RemoteID == params.RemoteID {
			return repo.IntegrationMapping{}, fmt.Errorf("failed to create mapping: %w", repo.ErrUniqueViolation)
		}
	}
	m := repo.IntegrationMapping{
		ID:              uuid.New(),
		IntegrationID:   params.IntegrationID,
		LocalType:       params.LocalType,
		LocalID:         params.LocalID,
		RemoteID:        params.RemoteID,
		RemoteURL:       params.RemoteURL,
		SyncStatus:      params.SyncStatus,
		OriginDirection: params.OriginDirection,
		LastSyncAt:      params.LastSyncAt,
		LastError:       params.LastError,
		CreatedAt:       r.clock.Now(),
		UpdatedAt:       r.clock.Now(),
	}
	r.mappings[m.ID] = m
	return m, nil
}

func (r *fakeMappingRepo) Update(ctx context.Context, params repo.UpdateMappingParams) (repo.IntegrationMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++
	m, ok := r.mappings[params.ID]
	if !ok {
		return repo.IntegrationMapping{}, repo.ErrNotFound
	}
	m.RemoteID = params.RemoteID
	m.RemoteURL = params.RemoteURL
	m.SyncStatus = params.SyncStatus
	m.LastSyncAt = params.LastSyncAt
	m.LastError = params.LastError
	m.UpdatedAt = r.clock.Now()
	r.mappings[m.ID] = m
	return m, nil
}

type fakeSyncLogRepo struct {
	mu      sync.Mutex
	entries []repo.SyncLogEntry
}

func (r *fakeSyncLogRepo) Create(ctx context.Context, params repo.CreateSyncLogParams) (repo.SyncLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := repo.SyncLogEntry{
		ID:            uuid.New(),
		IntegrationID: params.IntegrationID,
		RunID:         params.RunID,
		Kind:          params.Kind,
		Direction:     params.Direction,
		Status:        params.Status,
		LocalID:       params.LocalID,
		RemoteID:      params.RemoteID,
		Message:       params.Message,
	}
	r.entries = append(r.entries, entry)
	return entry, nil
}

func (r *fakeSyncLogRepo) FindRecentForIntegration(ctx context.Context, integrationID uuid.UUID, limit int32) ([]repo.SyncLogEntry, error) {
	return r.filter(integrationID, "", limit), nil
}

func (r *fakeSyncLogRepo) FindSyncRuns(ctx context.Context, integrationID uuid.UUID, limit int32) ([]repo.SyncLogEntry, error) {
	return r.filter(integrationID, events.LogKindRun, limit), nil
}

func (r *fakeSyncLogRepo) filter(integrationID uuid.UUID, kind string, limit int32) []repo.SyncLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repo.SyncLogEntry
	for i := len(r.entries) - 1; i >= 0 && int32(len(out)) < limit; i-- {
		e := r.entries[i]
		if e.IntegrationID == integrationID && (kind == "" || e.Kind == kind) {
			out = append(out, e)
		}
	}
	return out
}

// items returns per-item entries matching direction and status
func (r *fakeSyncLogRepo) items(direction, status string) []repo.SyncLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repo.SyncLogEntry
	for _, e := range r.entries {
		if e.Kind == events.LogKindItem && e.Direction == direction && e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

func (r *fakeSyncLogRepo) runs() []repo.SyncLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repo.SyncLogEntry
	for _, e := range r.entries {
		if e.Kind == events.LogKindRun {
			out = append(out, e)
		}
	}
	return out
}

type fakePostRepo struct {
	mu          sync.Mutex
	posts       map[int64]repo.Post
	counts      map[int64]repo.PostCounts
	nextID      int64
	deleteErr   map[int64]error
	createErr   map[string]error
	updateErr   map[int64]error
	deleted     []int64
	updateCalls int
	createCalls int
	clock       *fakeClock
}

func newFakePostRepo(clock *fakeClock) *fakePostRepo {
	return &fakePostRepo{
		posts:     make(map[int64]repo.Post),
		counts:    make(map[int64]repo.PostCounts),
		deleteErr: make(map[int64]error),
		createErr: make(map[string]error),
		updateErr: make(map[int64]error),
		nextID:    1000,
		clock:     clock,
	}
}

func (r *fakePostRepo) put(p repo.Post) repo.Post {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = r.clock.Now()
	}
	r.posts[p.ID] = p
	return p
}

func (r *fakePostRepo) get(id int64) (repo.Post, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	return p, ok
}

func (r *fakePostRepo) FindAllForBoards(ctx context.Context, tenantID int64, boardIDs []int64) ([]repo.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	boards := make(map[int64]bool, len(boardIDs))
	for _, id := range boardIDs {
		boards[id] = true
	}
	var out []repo.Post
	for _, p := range r.posts {
		if p.TenantID == tenantID && boards[p.BoardID] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (r *fakePostRepo) FindByID(ctx context.Context, tenantID, id int64) (repo.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok || p.TenantID != tenantID {
		return repo.Post{}, repo.ErrNotFound
	}
	return p, nil
}

func (r *fakePostRepo) Create(ctx context.Context, params repo.CreatePostParams) (repo.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if err := r.createErr[params.Title]; err != nil {
		return repo.Post{}, err
	}
	r.nextID++
	p := repo.Post{
		ID:             r.nextID,
		TenantID:       params.TenantID,
		BoardID:        params.BoardID,
		PostStatusID:   params.PostStatusID,
		Title:          params.Title,
		Description:    params.Description,
		Tags:           params.Tags,
		ApprovalStatus: params.ApprovalStatus,
		CreatedAt:      r.clock.Now(),
		UpdatedAt:      r.clock.Now(),
	}
	r.posts[p.ID] = p
	return p, nil
}

func (r *fakePostRepo) Update(ctx context.Context, params repo.UpdatePostParams) (repo.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++
	if err := r.updateErr[params.ID]; err != nil {
		return repo.Post{}, err
	}
	p, ok := r.posts[params.ID]
	if !ok || p.TenantID != params.TenantID {
		return repo.Post{}, repo.ErrNotFound
	}
	p.PostStatusID = params.PostStatusID
	p.Title = params.Title
	p.Description = params.Description
	p.Tags = params.Tags
	p.UpdatedAt = r.clock.Now()
	r.posts[p.ID] = p
	return p, nil
}

func (r *fakePostRepo) Delete(ctx context.Context, tenantID, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.deleteErr[id]; err != nil {
		return err
	}
	if _, ok := r.posts[id]; !ok {
		return repo.ErrNotFound
	}
	delete(r.posts, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *fakePostRepo) GetPostCounts(ctx context.Context, postID int64) (repo.PostCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[postID], nil
}

type outboundCall struct {
	Post             provider.LocalPost
	ExistingRemoteID string
}

type counterCall struct {
	Field    string
	RemoteID string
	Count    int
}

type fakeProvider struct {
	mu            sync.Mutex
	testResult    provider.ConnectionResult
	testCalls     int
	outbound      func(post provider.LocalPost, existingRemoteID string) provider.OutboundResult
	outboundCalls []outboundCall
	changes       []provider.RemoteChange
	inboundErr    error
	inboundSince  []*time.Time
	counterCalls  []counterCall
}

func (p *fakeProvider) TestConnection(ctx context.Context, apiKey string) provider.ConnectionResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.testCalls++
	return p.testResult
}

func (p *fakeProvider) SyncOutbound(ctx context.Context, post provider.LocalPost, existingRemoteID string) provider.OutboundResult {
	p.mu.Lock()
	p.outboundCalls = append(p.outboundCalls, outboundCall{Post: post, ExistingRemoteID: existingRemoteID})
	fn := p.outbound
	p.mu.Unlock()
	if fn == nil {
		remoteID := existingRemoteID
		if remoteID == "" {
			remoteID = fmt.Sprintf("remote-%d", post.ID)
		}
		return provider.OutboundResult{Success: true, RemoteID: remoteID, RemoteURL: "https://remote.example/" + remoteID}
	}
	return fn(post, existingRemoteID)
}

func (p *fakeProvider) SyncInbound(ctx context.Context, since *time.Time) ([]provider.RemoteChange, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inboundSince = append(p.inboundSince, since)
	if p.inboundErr != nil {
		return nil, p.inboundErr
	}
	return p.changes, nil
}

func (p *fakeProvider) calls() []outboundCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]outboundCall(nil), p.outboundCalls...)
}

// countingProvider adds the counter side channel to fakeProvider
type countingProvider struct {
	*fakeProvider
	counterErr error
}

func (p *countingProvider) UpdateCommentsField(ctx context.Context, remoteID string, count int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counterCalls = append(p.counterCalls, counterCall{Field: "comments", RemoteID: remoteID, Count: count})
	return p.counterErr
}

func (p *countingProvider) UpdateLikesField(ctx context.Context, remoteID string, count int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counterCalls = append(p.counterCalls, counterCall{Field: "likes", RemoteID: remoteID, Count: count})
	return p.counterErr
}

type fakeFactory struct {
	mu       sync.Mutex
	provider provider.Provider
	configs  []provider.Config
}

func (f *fakeFactory) New(integrationType string, cfg provider.Config) (provider.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if integrationType != events.IntegrationTypeNotion {
		return nil, fmt.Errorf("%w: %s", provider.ErrUnknownProvider, integrationType)
	}
	f.configs = append(f.configs, cfg)
	return f.provider, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	payloads []events.SyncCompletedPayload
	err      error
}

func (n *fakeNotifier) PublishSyncCompleted(ctx context.Context, payload events.SyncCompletedPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, payload)
	return n.err
}

type fakeLocker struct {
	mu     sync.Mutex
	held   map[uuid.UUID]bool
	err    error
	unlock int
}

func (l *fakeLocker) TryLock(ctx context.Context, integrationID uuid.UUID) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held == nil {
		l.held = make(map[uuid.UUID]bool)
	}
	if l.held[integrationID] {
		return nil, false, nil
	}
	l.held[integrationID] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, integrationID)
		l.unlock++
	}, true, nil
}

// harness wires the services to in-memory fakes
type harness struct {
	t            *testing.T
	clock        *fakeClock
	integrations *fakeIntegrationRepo
	mappings     *fakeMappingRepo
	logs         *fakeSyncLogRepo
	posts        *fakePostRepo
	provider     *fakeProvider
	factory      *fakeFactory
	notifier     *fakeNotifier
	locker       *fakeLocker
	vault        *vault.Vault
	sync         *SyncService
	registry     *IntegrationService
}

const testTenant int64 = 7

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := newFakeClock()
	v, err := vault.New("test-secret")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	validator, err := NewConfigValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	h := &harness{
		t:            t,
		clock:        clock,
		integrations: newFakeIntegrationRepo(),
		mappings:     newFakeMappingRepo(clock),
		logs:         &fakeSyncLogRepo{},
		posts:        newFakePostRepo(clock),
		provider:     &fakeProvider{testResult: provider.ConnectionResult{Success: true, Identity: "bot"}},
		notifier:     &fakeNotifier{},
		locker:       &fakeLocker{},
		vault:        v,
	}
	h.factory = &fakeFactory{provider: h.provider}

	repos := Repositories{
		Integrations: h.integrations,
		Mappings:     h.mappings,
		SyncLogs:     h.logs,
		Posts:        h.posts,
		RunLocker:    h.locker,
	}
	h.sync = NewSyncService(repos, h.factory, v, h.notifier, zap.NewNop())
	h.sync.now = clock.Now
	h.registry = NewIntegrationService(repos, h.factory, v, validator, zap.NewNop())
	return h
}

// useProvider swaps the provider returned by the factory
func (h *harness) useProvider(p provider.Provider) {
	h.factory.mu.Lock()
	defer h.factory.mu.Unlock()
	h.factory.provider = p
}

func (h *harness) addIntegration(direction string, boards repo.OptionMapping) repo.Integration {
	h.t.Helper()
	apiKey, err := h.vault.Encrypt("secret_key")
	if err != nil {
		h.t.Fatalf("encrypt: %v", err)
	}
	return h.integrations.put(repo.Integration{
		TenantID: testTenant,
		Type:     events.IntegrationTypeNotion,
		Name:     "Roadmap",
		Enabled:  true,
		Config: repo.IntegrationConfig{
			APIKey:           apiKey,
			RemoteDatabaseID: "db_1",
			PropertyMapping:  repo.PropertyMapping{Title: "Name", Description: "Details", Status: "Stage", Board: "Board"},
			StatusMapping:    repo.OptionMapping{"status-open": {LocalID: 3}, "status-done": {LocalID: 4}},
			BoardMapping:     boards,
			SyncDirection:    direction,
		},
	})
}

func (h *harness) addPost(id, boardID int64, title string) repo.Post {
	return h.posts.put(repo.Post{
		ID:             id,
		TenantID:       testTenant,
		BoardID:        boardID,
		Title:          title,
		ApprovalStatus: events.ApprovalStatusApproved,
	})
}

func (h *harness) run(integration repo.Integration) SyncResult {
	h.t.Helper()
	result, err := h.sync.RunSync(context.Background(), integration.ID, testTenant, "https://acme.feedboard.app")
	if err != nil {
		h.t.Fatalf("run sync: %v", err)
	}
	return result
}

var errBoom = errors.New("boom")
