// Package fleet keeps the live, account-scoped view of a fleet: drivers,
// vehicles, reports, the latest tracking position and the account settings.
// Each collection follows its own subscription and is replaced wholesale on
// every snapshot.
package fleet

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dashboard/internal/analytics"
	"github.com/ukydev/fleet-dashboard/internal/db"
	"github.com/ukydev/fleet-dashboard/internal/models"
	"github.com/ukydev/fleet-dashboard/internal/session"
	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrNoAccount = errors.New("session has no account identifier")
	ErrNoSession = errors.New("no active session")
)

// Source is the live document database the store reads from.
type Source interface {
	Subscribe(ctx context.Context, collection string, filter bson.M) (<-chan db.Snapshot, error)
	WatchDocument(ctx context.Context, collection, id string) (<-chan db.Snapshot, error)
	MergeDocument(ctx context.Context, collection, id string, fields bson.M) error
}

// Change names the part of the state that was just replaced.
type Change string

const (
	ChangeDrivers  Change = "drivers"
	ChangeVehicles Change = "vehicles"
	ChangeReports  Change = "reports"
	ChangeTracking Change = "tracking"
	ChangeSettings Change = "settings"
	ChangeRole     Change = "role"
	ChangeReset    Change = "reset"
)

// State is the store's current view of one account.
type State struct {
	AccountID string           `json:"accountId"`
	Role      models.Role      `json:"role,omitempty"`
	Drivers   []models.Driver  `json:"drivers"`
	Vehicles  []models.Vehicle `json:"vehicles"`
	Reports   []models.Report  `json:"reports"`
	Tracking  models.Position  `json:"trackingData"`
	DarkMode  bool             `json:"darkMode"`
}

func emptyState() State {
	return State{
		Drivers:  []models.Driver{},
		Vehicles: []models.Vehicle{},
		Reports:  []models.Report{},
		Tracking: models.FallbackPosition,
		DarkMode: true,
	}
}

// Store follows one session's subscriptions. The zero value is not usable;
// create stores with NewStore.
type Store struct {
	source Source
	cache  session.Cache
	log    logrus.FieldLogger

	// lifecycle serialises Open and Close.
	lifecycle sync.Mutex
	wg        sync.WaitGroup

	mu        sync.RWMutex
	state     State
	session   *session.Session
	gen       uint64
	cancel    context.CancelFunc
	listeners []func(Change)
	watchers  map[uint64]chan struct{}
	watchSeq  uint64
}

// NewStore creates a store with no session. A nil logger uses the logrus
// standard logger.
func NewStore(source Source, cache session.Cache, logger logrus.FieldLogger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cache == nil {
		cache = session.NewMemoryCache()
	}
	return &Store{
		source: source,
		cache:  cache,
		log:    logger,
		state:  emptyState(),
	}
}

// OnChange registers fn to run after every applied snapshot. Listeners run on
// the subscription goroutines and must not call Open or Close.
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Watch returns a channel that is signalled after every change until ctx
// ends, when it is closed. Signals coalesce while the reader is busy.
func (s *Store) Watch(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	if s.watchers == nil {
		s.watchers = make(map[uint64]chan struct{})
	}
	s.watchSeq++
	id := s.watchSeq
	s.watchers[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, id)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.Drivers = slices.Clone(s.state.Drivers)
	st.Vehicles = slices.Clone(s.state.Vehicles)
	st.Reports = slices.Clone(s.state.Reports)
	return st
}

// Analytics computes the analytics summary of the current state.
func (s *Store) Analytics() analytics.Summary {
	st := s.State()
	return analytics.Compute(st.Vehicles, st.Drivers)
}

// Session returns the active session, if any.
func (s *Store) Session() (session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return session.Session{}, false
	}
	return *s.session, true
}

// Open establishes sess. Subscriptions of a previous session are torn down
// first. ctx bounds the lifetime of the new subscriptions, so it should
// outlive the request that signed the session in.
//
// A subscription that cannot be opened is logged and skipped; the other
// collections still follow.
func (s *Store) Open(ctx context.Context, sess session.Session) error {
	if sess.AccountID == "" {
		return ErrNoAccount
	}
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	previous, hadSession := s.Session()
	s.teardown()
	if hadSession && previous.AccountID != sess.AccountID {
		if err := s.reset(ctx, previous.AccountID); err != nil {
			s.log.WithError(err).WithField("account_id", previous.AccountID).Warn("Failed to clear cached session")
		}
	}

	subCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.session = &sess
	s.state.AccountID = sess.AccountID
	s.state.Role = sess.Role
	s.mu.Unlock()

	log := s.log.WithFields(logrus.Fields{"account_id": sess.AccountID, "session_id": sess.ID})
	if err := s.cache.Set(ctx, sess.AccountID, session.KeyToken, sess.Token); err != nil {
		log.WithError(err).Warn("Failed to cache session token")
	}

	byAccount := bson.M{"accountId": sess.AccountID}
	s.follow(subCtx, log, db.DriversCollection, func() (<-chan db.Snapshot, error) {
		return s.source.Subscribe(subCtx, db.DriversCollection, byAccount)
	}, func(docs []bson.Raw) { s.applyDrivers(gen, log, docs) })

	s.follow(subCtx, log, db.VehiclesCollection, func() (<-chan db.Snapshot, error) {
		return s.source.Subscribe(subCtx, db.VehiclesCollection, byAccount)
	}, func(docs []bson.Raw) { s.applyVehicles(gen, log, docs) })

	s.follow(subCtx, log, db.ReportsCollection, func() (<-chan db.Snapshot, error) {
		return s.source.Subscribe(subCtx, db.ReportsCollection, byAccount)
	}, func(docs []bson.Raw) { s.applyReports(gen, log, docs) })

	s.follow(subCtx, log, db.TrackingCollection, func() (<-chan db.Snapshot, error) {
		return s.source.Subscribe(subCtx, db.TrackingCollection, byAccount)
	}, func(docs []bson.Raw) { s.applyTracking(gen, log, docs) })

	s.follow(subCtx, log, db.UsersCollection, func() (<-chan db.Snapshot, error) {
		return s.source.Subscribe(subCtx, db.UsersCollection, bson.M{"uid": sess.AccountID})
	}, func(docs []bson.Raw) { s.applyRole(subCtx, gen, sess.AccountID, log, docs) })

	settingsID := models.SettingsID(sess.AccountID)
	s.follow(subCtx, log, models.SettingsCollection, func() (<-chan db.Snapshot, error) {
		return s.source.WatchDocument(subCtx, models.SettingsCollection, settingsID)
	}, func(docs []bson.Raw) { s.applySettings(subCtx, gen, settingsID, log, docs) })

	log.Info("Fleet session opened")
	return nil
}

// Close ends the active session: every subscription is cancelled and
// awaited, the state returns to its defaults and the account's cached
// session artifacts are cleared.
func (s *Store) Close(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	sess, ok := s.Session()
	s.teardown()
	if !ok {
		return nil
	}
	err := s.reset(ctx, sess.AccountID)
	s.log.WithField("account_id", sess.AccountID).Info("Fleet session closed")
	return err
}

// Refresh re-caches a refreshed credential for the active session.
func (s *Store) Refresh(ctx context.Context, token string) error {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	s.session.Token = token
	accountID := s.session.AccountID
	s.mu.Unlock()
	return s.cache.Set(ctx, accountID, session.KeyToken, token)
}

// SetDarkMode stores the preference in the settings document. The local
// state changes at once; the subscription confirms it.
func (s *Store) SetDarkMode(ctx context.Context, on bool) error {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	accountID := s.session.AccountID
	s.state.DarkMode = on
	s.mu.Unlock()
	s.notify(ChangeSettings)

	return s.source.MergeDocument(ctx, models.SettingsCollection, models.SettingsID(accountID), bson.M{"darkMode": on})
}

// teardown cancels the current subscriptions and waits for their
// goroutines. Snapshots still in flight are discarded by the generation bump.
func (s *Store) teardown() {
	s.mu.Lock()
	s.gen++
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Store) reset(ctx context.Context, accountID string) error {
	s.mu.Lock()
	s.state = emptyState()
	s.session = nil
	s.mu.Unlock()
	s.notify(ChangeReset)
	return s.cache.Clear(ctx, accountID)
}

// follow opens one subscription and applies its snapshots until ctx ends or
// the stream closes. Errors leave the collection at its last snapshot.
func (s *Store) follow(ctx context.Context, log logrus.FieldLogger, name string, open func() (<-chan db.Snapshot, error), apply func([]bson.Raw)) {
	log = log.WithField("collection", name)
	snapshots, err := open()
	if err != nil {
		log.WithError(err).Error("Failed to subscribe")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-snapshots:
				if !ok {
					return
				}
				if snap.Err != nil {
					log.WithError(snap.Err).Error("Subscription failed, collection stops updating")
					continue
				}
				apply(snap.Docs)
			}
		}
	}()
}

// replace applies mutate when gen is still the current generation.
func (s *Store) replace(gen uint64, change Change, mutate func(*State)) bool {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false
	}
	mutate(&s.state)
	s.mu.Unlock()
	s.notify(change)
	return true
}

func (s *Store) notify(change Change) {
	s.mu.RLock()
	listeners := slices.Clone(s.listeners)
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(change)
	}
}

func (s *Store) applyDrivers(gen uint64, log logrus.FieldLogger, docs []bson.Raw) {
	drivers := decodeAll[models.Driver](log, docs)
	s.replace(gen, ChangeDrivers, func(st *State) { st.Drivers = drivers })
}

func (s *Store) applyVehicles(gen uint64, log logrus.FieldLogger, docs []bson.Raw) {
	vehicles := decodeAll[models.Vehicle](log, docs)
	s.replace(gen, ChangeVehicles, func(st *State) { st.Vehicles = vehicles })
}

func (s *Store) applyReports(gen uint64, log logrus.FieldLogger, docs []bson.Raw) {
	reports := decodeAll[models.Report](log, docs)
	s.replace(gen, ChangeReports, func(st *State) { st.Reports = reports })
}

// applyTracking moves the position to the last record received. An empty
// snapshot keeps the current position.
func (s *Store) applyTracking(gen uint64, log logrus.FieldLogger, docs []bson.Raw) {
	records := decodeAll[models.TrackingRecord](log, docs)
	if len(records) == 0 {
		return
	}
	pos := records[len(records)-1].Position(models.FallbackPosition)
	s.replace(gen, ChangeTracking, func(st *State) { st.Tracking = pos })
}

func (s *Store) applyRole(ctx context.Context, gen uint64, accountID string, log logrus.FieldLogger, docs []bson.Raw) {
	users := decodeAll[models.User](log, docs)
	if len(users) == 0 {
		return
	}
	role := users[0].Role
	if role == "" {
		role = models.DefaultRole
	}
	if !s.replace(gen, ChangeRole, func(st *State) { st.Role = role }) {
		return
	}
	if err := s.cache.Set(ctx, accountID, session.KeyRole, string(role)); err != nil {
		log.WithError(err).Warn("Failed to cache role")
	}
}

// applySettings creates the settings document with defaults when it does not
// exist yet. The write comes back as a later snapshot.
func (s *Store) applySettings(ctx context.Context, gen uint64, id string, log logrus.FieldLogger, docs []bson.Raw) {
	if len(docs) == 0 {
		if err := s.source.MergeDocument(ctx, models.SettingsCollection, id, bson.M{"darkMode": true}); err != nil {
			log.WithError(err).Error("Failed to create default settings")
		}
		return
	}
	var settings models.Settings
	if err := bson.Unmarshal(docs[0], &settings); err != nil {
		log.WithError(err).Warn("Skipping undecodable settings document")
		return
	}
	dark := settings.DarkModeOrDefault()
	s.replace(gen, ChangeSettings, func(st *State) { st.DarkMode = dark })
}

// decodeAll decodes every document it can; the rest are logged and skipped.
func decodeAll[T any](log logrus.FieldLogger, docs []bson.Raw) []T {
	out := make([]T, 0, len(docs))
	for _, raw := range docs {
		var item T
		if err := bson.Unmarshal(raw, &item); err != nil {
			log.WithError(err).Warn("Skipping undecodable document")
			continue
		}
		out = append(out, item)
	}
	return out
}
