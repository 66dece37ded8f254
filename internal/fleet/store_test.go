package fleet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-dashboard/internal/db"
	"github.com/ukydev/fleet-dashboard/internal/models"
	"github.com/ukydev/fleet-dashboard/internal/session"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/goleak"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

func openStore(t *testing.T, accountID string) (*Store, *fakeSource, *session.MemoryCache, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	src := newFakeSource()
	cache := session.NewMemoryCache()
	st := NewStore(src, cache, logger)
	require.NoError(t, st.Open(context.Background(), session.New(accountID, "tok-"+accountID, models.RoleManager)))
	t.Cleanup(func() { st.Close(context.Background()) })
	return st, src, cache, hook
}

func TestStore_OpenSubscribesByAccount(t *testing.T) {
	_, src, cache, _ := openStore(t, "acct-1")

	for _, coll := range []string{db.DriversCollection, db.VehiclesCollection, db.ReportsCollection, db.TrackingCollection} {
		assert.Equal(t, bson.M{"accountId": "acct-1"}, src.stream(t, coll).filter, coll)
	}
	assert.Equal(t, bson.M{"uid": "acct-1"}, src.stream(t, db.UsersCollection).filter)
	assert.Equal(t, "acct-1_user", src.stream(t, models.SettingsCollection).id)

	token, ok, _ := cache.Get(context.Background(), "acct-1", session.KeyToken)
	assert.True(t, ok)
	assert.Equal(t, "tok-acct-1", token)
}

func TestStore_OpenRequiresAccount(t *testing.T) {
	st := NewStore(newFakeSource(), nil, nil)
	assert.ErrorIs(t, st.Open(context.Background(), session.Session{}), ErrNoAccount)
}

func TestStore_InitialState(t *testing.T) {
	st := NewStore(newFakeSource(), nil, nil)
	state := st.State()
	assert.Empty(t, state.Vehicles)
	assert.NotNil(t, state.Vehicles)
	assert.Equal(t, models.FallbackPosition, state.Tracking)
	assert.True(t, state.DarkMode)
}

func TestStore_SnapshotsReplaceCollections(t *testing.T) {
	st, src, _, _ := openStore(t, "acct-1")

	src.push(t, db.VehiclesCollection,
		models.Vehicle{AccountID: "acct-1", Make: "Ford", Model: "F150", Mileage: models.ParseNumeric("1000"), Status: "Active"},
		models.Vehicle{AccountID: "acct-1", Make: "Toyota", Model: "Hilux", Mileage: models.NumericOf(2000), Status: "Inactive"},
	)
	require.Eventually(t, func() bool { return len(st.State().Vehicles) == 2 }, waitFor, tick)

	src.push(t, db.VehiclesCollection,
		models.Vehicle{AccountID: "acct-1", Make: "Isuzu", Model: "NPR", Status: "Active"},
	)
	require.Eventually(t, func() bool { return len(st.State().Vehicles) == 1 }, waitFor, tick)
	assert.Equal(t, "Isuzu", st.State().Vehicles[0].Make)

	src.push(t, db.DriversCollection, models.Driver{Name: "Amina", VehicleID: "v1"})
	src.push(t, db.ReportsCollection, models.Report{Title: "Flat tyre"}, models.Report{Title: "Fuel"})
	require.Eventually(t, func() bool {
		s := st.State()
		return len(s.Drivers) == 1 && len(s.Reports) == 2
	}, waitFor, tick)

	src.push(t, db.VehiclesCollection)
	require.Eventually(t, func() bool { return len(st.State().Vehicles) == 0 }, waitFor, tick)
}

func TestStore_Tracking(t *testing.T) {
	st, src, _, _ := openStore(t, "acct-1")

	src.push(t, db.TrackingCollection)
	src.push(t, db.DriversCollection, models.Driver{Name: "sync"})
	require.Eventually(t, func() bool { return len(st.State().Drivers) == 1 }, waitFor, tick)
	assert.Equal(t, models.FallbackPosition, st.State().Tracking, "empty snapshot keeps the fallback")

	src.push(t, db.TrackingCollection,
		models.TrackingRecord{Lat: models.NumericOf(-4.04), Lng: models.NumericOf(39.66)},
		models.TrackingRecord{Lat: models.ParseNumeric("-0.0917"), Lng: models.ParseNumeric("34.768")},
	)
	require.Eventually(t, func() bool {
		return st.State().Tracking == models.Position{Lat: -0.0917, Lng: 34.768}
	}, waitFor, tick)

	src.push(t, db.TrackingCollection, bson.M{"lat": "north", "lng": 35.0})
	require.Eventually(t, func() bool {
		return st.State().Tracking == models.Position{Lat: models.FallbackPosition.Lat, Lng: 35.0}
	}, waitFor, tick)
}

func TestStore_SettingsDefaultAndStored(t *testing.T) {
	st, src, _, _ := openStore(t, "acct-1")

	src.push(t, models.SettingsCollection)
	require.Eventually(t, func() bool { return len(src.mergeCalls()) == 1 }, waitFor, tick)
	assert.Equal(t, mergeCall{Collection: "userSettings", ID: "acct-1_user", Fields: bson.M{"darkMode": true}}, src.mergeCalls()[0])

	src.push(t, models.SettingsCollection, bson.M{"_id": "acct-1_user", "darkMode": false})
	require.Eventually(t, func() bool { return !st.State().DarkMode }, waitFor, tick)

	src.push(t, models.SettingsCollection, bson.M{"_id": "acct-1_user"})
	require.Eventually(t, func() bool { return st.State().DarkMode }, waitFor, tick)
}

func TestStore_SetDarkMode(t *testing.T) {
	st, src, _, _ := openStore(t, "acct-1")

	require.NoError(t, st.SetDarkMode(context.Background(), false))
	assert.False(t, st.State().DarkMode)
	assert.Equal(t, []mergeCall{{Collection: "userSettings", ID: "acct-1_user", Fields: bson.M{"darkMode": false}}}, src.mergeCalls())

	idle := NewStore(src, nil, nil)
	assert.ErrorIs(t, idle.SetDarkMode(context.Background(), true), ErrNoSession)
}

func TestStore_RoleIsCached(t *testing.T) {
	st, src, cache, _ := openStore(t, "acct-1")
	ctx := context.Background()

	src.push(t, db.UsersCollection, models.User{UID: "acct-1", Role: models.RoleAdmin})
	require.Eventually(t, func() bool {
		role, _, _ := cache.Get(ctx, "acct-1", session.KeyRole)
		return role == "admin"
	}, waitFor, tick)
	assert.Equal(t, models.RoleAdmin, st.State().Role)

	src.push(t, db.UsersCollection, bson.M{"uid": "acct-1"})
	require.Eventually(t, func() bool {
		role, _, _ := cache.Get(ctx, "acct-1", session.KeyRole)
		return role == "driver"
	}, waitFor, tick)
}

func TestStore_SubscriptionErrorsAreIsolated(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	src := newFakeSource()
	src.failOpen[db.ReportsCollection] = errors.New("not authorized")
	st := NewStore(src, nil, logger)
	require.NoError(t, st.Open(context.Background(), session.New("acct-1", "tok", models.RoleAdmin)))
	defer st.Close(context.Background())

	src.push(t, db.VehiclesCollection, models.Vehicle{Make: "Ford"})
	require.Eventually(t, func() bool { return len(st.State().Vehicles) == 1 }, waitFor, tick)

	src.send(t, db.VehiclesCollection, db.Snapshot{Err: errors.New("stream reset")})
	src.push(t, db.DriversCollection, models.Driver{Name: "Amina"})
	require.Eventually(t, func() bool { return len(st.State().Drivers) == 1 }, waitFor, tick)

	assert.Len(t, st.State().Vehicles, 1, "failed collection keeps its last snapshot")

	errorCollections := func() []interface{} {
		var out []interface{}
		for _, e := range hook.AllEntries() {
			if e.Level == logrus.ErrorLevel {
				out = append(out, e.Data["collection"])
			}
		}
		return out
	}
	require.Eventually(t, func() bool { return len(errorCollections()) == 2 }, waitFor, tick)
	assert.ElementsMatch(t, []interface{}{db.ReportsCollection, db.VehiclesCollection}, errorCollections())
}

func TestStore_CloseResetsAndClears(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger, _ := logtest.NewNullLogger()
	src := newFakeSource()
	cache := session.NewMemoryCache()
	st := NewStore(src, cache, logger)
	ctx := context.Background()
	require.NoError(t, st.Open(ctx, session.New("acct-1", "tok", models.RoleAdmin)))

	src.push(t, db.VehiclesCollection, models.Vehicle{Make: "Ford"})
	src.push(t, db.TrackingCollection, models.TrackingRecord{Lat: models.NumericOf(1), Lng: models.NumericOf(2)})
	src.push(t, models.SettingsCollection, bson.M{"darkMode": false})
	require.Eventually(t, func() bool {
		s := st.State()
		return len(s.Vehicles) == 1 && !s.DarkMode && s.Tracking.Lat == 1
	}, waitFor, tick)

	require.NoError(t, st.Close(ctx))

	state := st.State()
	assert.Empty(t, state.Vehicles)
	assert.Equal(t, models.FallbackPosition, state.Tracking)
	assert.True(t, state.DarkMode)
	_, active := st.Session()
	assert.False(t, active)
	_, ok, _ := cache.Get(ctx, "acct-1", session.KeyToken)
	assert.False(t, ok, "cached token cleared on session end")

	// a snapshot arriving after Close is never applied
	src.push(t, db.VehiclesCollection, models.Vehicle{Make: "Late"})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, st.State().Vehicles)

	assert.NoError(t, st.Close(ctx), "closing twice is a no-op")
}

func TestStore_ReopenRecreatesSubscriptions(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := newFakeSource()
	cache := session.NewMemoryCache()
	st := NewStore(src, cache, nil)
	ctx := context.Background()

	require.NoError(t, st.Open(ctx, session.New("acct-1", "tok-1", models.RoleAdmin)))
	first := src.stream(t, db.VehiclesCollection)
	src.push(t, db.VehiclesCollection, models.Vehicle{Make: "Ford"})
	require.Eventually(t, func() bool { return len(st.State().Vehicles) == 1 }, waitFor, tick)

	require.NoError(t, st.Open(ctx, session.New("acct-2", "tok-2", models.RoleDriver)))
	assert.Error(t, first.ctx.Err(), "old subscription cancelled")
	assert.Equal(t, 2, src.opened[db.VehiclesCollection])
	assert.Empty(t, st.State().Vehicles, "switching accounts drops the old account's data")
	assert.Equal(t, "acct-2", st.State().AccountID)

	_, ok, _ := cache.Get(ctx, "acct-1", session.KeyToken)
	assert.False(t, ok)
	token, _, _ := cache.Get(ctx, "acct-2", session.KeyToken)
	assert.Equal(t, "tok-2", token)

	require.NoError(t, st.Close(ctx))
}

func TestStore_StaleGenerationIsDiscarded(t *testing.T) {
	st, _, _, _ := openStore(t, "acct-1")

	st.mu.RLock()
	stale := st.gen - 1
	st.mu.RUnlock()

	applied := st.replace(stale, ChangeVehicles, func(s *State) { s.Vehicles = []models.Vehicle{{Make: "Ghost"}} })
	assert.False(t, applied)
	assert.Empty(t, st.State().Vehicles)
}

func TestStore_OnChange(t *testing.T) {
	st, src, _, _ := openStore(t, "acct-1")

	var mu sync.Mutex
	var changes []Change
	st.OnChange(func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	src.push(t, db.VehiclesCollection, models.Vehicle{Make: "Ford"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 1
	}, waitFor, tick)
	assert.Equal(t, ChangeVehicles, changes[0])
}

func TestStore_Watch(t *testing.T) {
	st, src, _, _ := openStore(t, "acct-1")

	ctx, cancel := context.WithCancel(context.Background())
	changes := st.Watch(ctx)

	src.push(t, db.VehiclesCollection, models.Vehicle{Make: "Ford"})
	select {
	case <-changes:
	case <-time.After(waitFor):
		t.Fatal("no change signalled")
	}
	assert.Len(t, st.State().Vehicles, 1)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-changes:
			return !ok
		default:
			return false
		}
	}, waitFor, tick)
}

func TestStore_Refresh(t *testing.T) {
	st, _, cache, _ := openStore(t, "acct-1")

	require.NoError(t, st.Refresh(context.Background(), "tok-new"))
	token, _, _ := cache.Get(context.Background(), "acct-1", session.KeyToken)
	assert.Equal(t, "tok-new", token)
	sess, _ := st.Session()
	assert.Equal(t, "tok-new", sess.Token)

	assert.ErrorIs(t, NewStore(newFakeSource(), nil, nil).Refresh(context.Background(), "x"), ErrNoSession)
}

func TestStore_Analytics(t *testing.T) {
	st, src, _, _ := openStore(t, "acct-1")

	src.push(t, db.VehiclesCollection,
		bson.M{"make": "Ford", "model": "F150", "mileage": "1000", "status": "Active", "utilizationRate": 80},
		bson.M{"make": "Toyota", "model": "Hilux", "mileage": 2000, "status": "Inactive", "utilizationRate": 40},
	)
	require.Eventually(t, func() bool { return len(st.State().Vehicles) == 2 }, waitFor, tick)

	summary := st.Analytics()
	assert.Equal(t, 3000.0, summary.TotalMileage)
	assert.Equal(t, 1, summary.ActiveVehicles)
	assert.Equal(t, 60.0, summary.AvgUtilization)
}
