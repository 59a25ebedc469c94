package notification

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"sandboxnotify/internal/config"
	"sandboxnotify/internal/delivery"
	"sandboxnotify/internal/idempotency"
	"sandboxnotify/internal/logger"
	"sandboxnotify/internal/ownership"
	"sandboxnotify/internal/secrets"
	"sandboxnotify/pkg/clock"
	"sandboxnotify/pkg/models"
)

const (
	owner     = "alice.smith@agency.gov"
	intruder  = "mallory@agency.gov"
	leaseUUID = "8f14e45f-ceea-467f-a0e6-0c7e5b6a7d21"
	accountID = "123456789012"
)

var now = time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu       sync.Mutex
	leases   map[models.LeaseKey]*ownership.LeaseRecord
	accounts map[string]*ownership.AccountRecord
	calls    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		leases:   make(map[models.LeaseKey]*ownership.LeaseRecord),
		accounts: make(map[string]*ownership.AccountRecord),
	}
}

func (s *fakeStore) addLease(userEmail, uuid, ownerEmail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leases[models.LeaseKey{UserEmail: userEmail, UUID: uuid}] = &ownership.LeaseRecord{
		UserEmail:  userEmail,
		UUID:       uuid,
		OwnerEmail: ownerEmail,
		Status:     "Active",
	}
}

func (s *fakeStore) GetLease(_ context.Context, key models.LeaseKey) (*ownership.LeaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.leases[key], nil
}

func (s *fakeStore) GetAccount(_ context.Context, id string) (*ownership.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.accounts[id], nil
}

func (s *fakeStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type memRepo struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newMemRepo() *memRepo {
	return &memRepo{values: make(map[string][]byte)}
}

func (r *memRepo) Get(_ context.Context, key string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[key], nil
}

func (r *memRepo) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
	return nil
}

func (r *memRepo) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.values[key]; ok {
		return false, nil
	}
	r.values[key] = []byte(value.(string))
	return true, nil
}

func (r *memRepo) Exists(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.values[key]
	return ok, nil
}

func (r *memRepo) GetCacheSize(_ context.Context, prefix string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k := range r.values {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.values[key]
	return ok
}

// fakeTransport records every message and fails with err when set.
type fakeTransport struct {
	channel models.Channel

	mu   sync.Mutex
	err  error
	sent []*delivery.Message
}

func (f *fakeTransport) Channel() models.Channel {
	return f.channel
}

func (f *fakeTransport) Deliver(_ context.Context, msg *delivery.Message) (*delivery.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	if f.err != nil {
		return nil, f.err
	}
	return &delivery.Receipt{StatusCode: 201}, nil
}

func (f *fakeTransport) failWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeTransport) messages() []*delivery.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*delivery.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

type env struct {
	store        *fakeStore
	repo         *memRepo
	email        *fakeTransport
	chat         *fakeTransport
	clock        *clock.Fake
	logs         *observer.ObservedLogs
	guard        *idempotency.Guard
	orchestrator *Orchestrator
}

type envOption func(*envSettings)

type envSettings struct {
	rules    []config.RoutingRule
	enricher Enricher
}

func withRules(rules ...config.RoutingRule) envOption {
	return func(s *envSettings) { s.rules = rules }
}

func withEnricher(e Enricher) envOption {
	return func(s *envSettings) { s.enricher = e }
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	var settings envSettings
	for _, opt := range opts {
		opt(&settings)
	}

	fake := clock.NewFake(now)
	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.NewWithCore(core, "test")

	store := newFakeStore()
	repo := newMemRepo()
	cache := secrets.NewCache(secrets.NewStaticProvider(map[string]string{"audit-signing-key": "s3cret"}), time.Minute, fake)

	verifier := ownership.NewVerifier(store, cache, config.OwnershipConfig{
		AllowedDomains: []string{"agency.gov"},
		AuditSecret:    "audit-signing-key",
	}, log, ownership.WithClock(fake))
	guard := idempotency.NewGuard(repo, config.IdempotencyConfig{}, fake, log)
	window := idempotency.NewLeaseWindow(repo, time.Minute, log)

	router, err := NewRouter(settings.rules)
	require.NoError(t, err)

	emailT := &fakeTransport{channel: models.ChannelEmail}
	chatT := &fakeTransport{channel: models.ChannelChat}
	emailClient := delivery.NewClient(emailT, delivery.EmailPolicy(config.EmailConfig{MaxRetries: 3}), log, delivery.WithClock(fake))
	chatClient := delivery.NewClient(chatT, delivery.ChatPolicy(config.ChatConfig{MaxRetries: 3}), log, delivery.WithClock(fake))

	orchOpts := []Option{WithLeaseWindow(window)}
	if settings.enricher != nil {
		orchOpts = append(orchOpts, WithEnricher(settings.enricher))
	}

	return &env{
		store:        store,
		repo:         repo,
		email:        emailT,
		chat:         chatT,
		clock:        fake,
		logs:         logs,
		guard:        guard,
		orchestrator: NewOrchestrator(verifier, guard, router, []Sender{emailClient, chatClient}, log, orchOpts...),
	}
}

func leaseEvent(id string, typ models.EventType, recipient string) *models.Event {
	return &models.Event{
		ID:               id,
		Type:             typ,
		Source:           "leases",
		SourceTimestamp:  now.Add(-time.Hour),
		ClaimedRecipient: recipient,
		LeaseKey:         &models.LeaseKey{UserEmail: recipient, UUID: leaseUUID},
		Detail: map[string]interface{}{
			"lease_duration_days": float64(14),
		},
	}
}
