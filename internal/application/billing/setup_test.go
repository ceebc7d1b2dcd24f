package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/domain/clinical"
	"github.com/hms/backend/internal/infrastructure/cache"
	"github.com/hms/backend/internal/infrastructure/persistence"
	"github.com/hms/backend/internal/infrastructure/persistence/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Test Database

// newTestStore opens a migrated in-memory sqlite ledger. One connection keeps
// the schema alive and serializes writers.
func newTestStore(t *testing.T) (*persistence.GormLedgerStore, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.LedgerModels()...))
	return persistence.NewGormLedgerStore(db, nil), db
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// Clock

var testNow = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(at time.Time) *testClock {
	return &testClock{now: at}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

// Mock Payment Gateway

type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) CreateIntent(ctx context.Context, req billing.CreateIntentRequest) (*billing.GatewayIntent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.GatewayIntent), args.Error(1)
}

func (m *MockPaymentGateway) RetrieveIntent(ctx context.Context, intentID string) (*billing.GatewayIntent, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.GatewayIntent), args.Error(1)
}

func (m *MockPaymentGateway) Refund(ctx context.Context, req billing.RefundRequest) (*billing.GatewayRefund, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.GatewayRefund), args.Error(1)
}

func (m *MockPaymentGateway) ParseWebhook(payload []byte, signature string) (*billing.GatewayEvent, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.GatewayEvent), args.Error(1)
}

// Recording Collaborators

type recordingScheduler struct {
	mu      sync.Mutex
	synced  []uuid.UUID
	delays  []time.Duration
	failure error
}

func (s *recordingScheduler) ScheduleSync(_ context.Context, paymentID uuid.UUID, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	s.synced = append(s.synced, paymentID)
	s.delays = append(s.delays, delay)
	return nil
}

type recordingMetrics struct {
	mu          sync.Mutex
	appended    int
	duplicates  int
	transitions []string
	rejected    int
	failures    []string
}

func (m *recordingMetrics) ItemAppended(context.Context, billing.SourceKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended++
}

func (m *recordingMetrics) DuplicateSource(context.Context, billing.SourceKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicates++
}

func (m *recordingMetrics) PaymentTransitioned(_ context.Context, from, to billing.PaymentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, string(from)+"->"+string(to))
}

func (m *recordingMetrics) WebhookRejected(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected++
}

func (m *recordingMetrics) GatewayFailed(_ context.Context, op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, op)
}

// Fixture

type fixture struct {
	store      *persistence.GormLedgerStore
	db         *gorm.DB
	clock      *testClock
	gateway    *MockPaymentGateway
	scheduler  *recordingScheduler
	metrics    *recordingMetrics
	ledger     *LedgerService
	reconciler *GatewayReconciler
	payments   *PaymentProcessor
	labs       *LabTestIngestor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, db := newTestStore(t)
	f := &fixture{
		store:     store,
		db:        db,
		clock:     newTestClock(testNow),
		gateway:   new(MockPaymentGateway),
		scheduler: &recordingScheduler{},
		metrics:   &recordingMetrics{},
	}

	idem := cache.NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = idem.Close() })

	f.ledger = NewLedgerService(LedgerServiceConfig{
		Store:   store,
		Locker:  cache.NewLocalPatientLocker(),
		Metrics: f.metrics,
		Now:     f.clock.Now,
	})
	f.reconciler = NewGatewayReconciler(GatewayReconcilerConfig{
		Store:       store,
		Gateway:     f.gateway,
		Idempotency: idem,
		Metrics:     f.metrics,
		Now:         f.clock.Now,
		Timeout:     time.Second,
	})
	f.payments = NewPaymentProcessor(PaymentProcessorConfig{
		Store:      store,
		Reconciler: f.reconciler,
		Scheduler:  f.scheduler,
		Metrics:    f.metrics,
		Now:        f.clock.Now,
	})
	f.labs = NewLabTestIngestor(f.ledger, nil)
	return f
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// billWithCharge opens a lab bill carrying one item of the given amount
func (f *fixture) billWithCharge(t *testing.T, patientID uuid.UUID, amount string) *billing.Bill {
	t.Helper()
	res, err := f.labs.Ingest(context.Background(), labEvent(patientID, uuid.New(), amount))
	require.NoError(t, err)
	require.True(t, res.Created)
	return res.Bill
}

// completeCash records a cash payment and marks it completed
func (f *fixture) completeCash(t *testing.T, billID uuid.UUID, amount string) *billing.Payment {
	t.Helper()
	ctx := context.Background()
	p, err := f.payments.CreatePayment(ctx, CreatePaymentInput{BillID: billID, Amount: d(amount), Method: billing.PaymentMethodCash})
	require.NoError(t, err)

	completed := billing.PaymentStatusCompleted
	p, err = f.payments.UpdatePayment(ctx, p.ID, UpdatePaymentInput{Status: &completed})
	require.NoError(t, err)
	return p
}

// pendingCard records a card payment backed by intentID
func (f *fixture) pendingCard(t *testing.T, billID uuid.UUID, amount, intentID string) *billing.Payment {
	t.Helper()
	f.gateway.On("CreateIntent", mock.Anything, mock.MatchedBy(func(req billing.CreateIntentRequest) bool {
		return req.BillID == billID
	})).Return(&billing.GatewayIntent{
		ID:           intentID,
		ClientSecret: intentID + "_secret",
		Status:       billing.IntentStatusRequiresPaymentMethod,
	}, nil).Once()

	p, err := f.payments.CreatePayment(context.Background(), CreatePaymentInput{BillID: billID, Amount: d(amount), Method: billing.PaymentMethodCard})
	require.NoError(t, err)
	require.Equal(t, intentID, p.GatewayIntentID)
	return p
}

func labEvent(patientID, requestID uuid.UUID, price string) *clinical.LabTestOrdered {
	return clinical.NewLabTestOrdered(requestID, uuid.New(), patientID, "Full Blood Count", d(price), decimal.NewFromInt(1))
}
