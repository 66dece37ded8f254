package handlers

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-dashboard/internal/db"
	"github.com/ukydev/fleet-dashboard/internal/fleet"
	"github.com/ukydev/fleet-dashboard/internal/models"
	"github.com/ukydev/fleet-dashboard/internal/session"
	"go.mongodb.org/mongo-driver/bson"
)

// MockUserCollection is a mock implementation of UserCollection
type MockUserCollection struct {
	mock.Mock
}

func (m *MockUserCollection) InsertUser(ctx context.Context, user models.User) (*models.User, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserCollection) FindUserByUID(ctx context.Context, uid string) (*models.User, error) {
	args := m.Called(ctx, uid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserCollection) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserCollection) UpdateLastLogin(ctx context.Context, uid string) error {
	args := m.Called(ctx, uid)
	return args.Error(0)
}

// MockSessions is a mock implementation of Sessions
type MockSessions struct {
	mock.Mock
}

func (m *MockSessions) SignIn(sess session.Session) (*fleet.Store, error) {
	args := m.Called(sess)
	st, _ := args.Get(0).(*fleet.Store)
	return st, args.Error(1)
}

func (m *MockSessions) Ensure(sess session.Session) (*fleet.Store, error) {
	args := m.Called(sess)
	st, _ := args.Get(0).(*fleet.Store)
	return st, args.Error(1)
}

func (m *MockSessions) SignOut(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

func (m *MockSessions) Refresh(ctx context.Context, accountID, token string) error {
	args := m.Called(ctx, accountID, token)
	return args.Error(0)
}

// MockWriter is a mock implementation of every fleet record writer
type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) InsertVehicle(ctx context.Context, vehicle models.Vehicle) error {
	return m.Called(ctx, vehicle).Error(0)
}

func (m *MockWriter) InsertDriver(ctx context.Context, driver models.Driver) error {
	return m.Called(ctx, driver).Error(0)
}

func (m *MockWriter) InsertReport(ctx context.Context, report models.Report) error {
	return m.Called(ctx, report).Error(0)
}

func (m *MockWriter) InsertTracking(ctx context.Context, record models.TrackingRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *MockWriter) collections() Collections {
	return Collections{Vehicles: m, Drivers: m, Reports: m, Tracking: m}
}

// staticSource serves one fixed snapshot per collection and keeps the
// stream open until the subscription ends.
type staticSource struct {
	docs map[string][]bson.Raw

	mu     sync.Mutex
	merges []bson.M
}

func newStaticSource(t *testing.T, docs map[string][]interface{}) *staticSource {
	t.Helper()
	src := &staticSource{docs: make(map[string][]bson.Raw)}
	for coll, items := range docs {
		for _, item := range items {
			raw, err := bson.Marshal(item)
			require.NoError(t, err)
			src.docs[coll] = append(src.docs[coll], raw)
		}
	}
	return src
}

func (s *staticSource) Subscribe(_ context.Context, collection string, _ bson.M) (<-chan db.Snapshot, error) {
	ch := make(chan db.Snapshot, 1)
	ch <- db.Snapshot{Docs: s.docs[collection]}
	return ch, nil
}

func (s *staticSource) WatchDocument(ctx context.Context, collection, _ string) (<-chan db.Snapshot, error) {
	return s.Subscribe(ctx, collection, nil)
}

func (s *staticSource) MergeDocument(_ context.Context, _, id string, fields bson.M) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := bson.M{"_id": id}
	for k, v := range fields {
		merged[k] = v
	}
	s.merges = append(s.merges, merged)
	return nil
}

func (s *staticSource) merged() []bson.M {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bson.M(nil), s.merges...)
}

func newTestHub(t *testing.T, src fleet.Source) *fleet.Hub {
	t.Helper()
	logger, _ := test.NewNullLogger()
	hub := fleet.NewHub(context.Background(), src, session.NewMemoryCache(), nil, logger)
	t.Cleanup(func() { require.NoError(t, hub.Close(context.Background())) })
	return hub
}
