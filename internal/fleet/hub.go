package fleet

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dashboard/internal/analytics"
	"github.com/ukydev/fleet-dashboard/internal/session"
)

// Publisher receives a fresh analytics summary whenever an account's
// vehicles or drivers change.
type Publisher interface {
	PublishAnalytics(ctx context.Context, accountID string, summary analytics.Summary) error
}

// Hub owns one Store per signed-in account.
type Hub struct {
	ctx       context.Context
	source    Source
	cache     session.Cache
	publisher Publisher
	log       logrus.FieldLogger

	mu     sync.Mutex
	stores map[string]*Store
	// accounts serialises sign-in and sign-out per account, so a closing
	// store cannot clear the cache entries of the session replacing it.
	accounts map[string]*sync.Mutex
}

// NewHub creates a hub whose subscriptions live until ctx ends or the
// account signs out. publisher may be nil.
func NewHub(ctx context.Context, source Source, cache session.Cache, publisher Publisher, logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cache == nil {
		cache = session.NewMemoryCache()
	}
	return &Hub{
		ctx:       ctx,
		source:    source,
		cache:     cache,
		publisher: publisher,
		log:       logger,
		stores:    make(map[string]*Store),
		accounts:  make(map[string]*sync.Mutex),
	}
}

func (h *Hub) lockAccount(accountID string) func() {
	h.mu.Lock()
	l, ok := h.accounts[accountID]
	if !ok {
		l = new(sync.Mutex)
		h.accounts[accountID] = l
	}
	h.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// SignIn (re-)establishes the account's session, recreating all of its
// subscriptions.
func (h *Hub) SignIn(sess session.Session) (*Store, error) {
	defer h.lockAccount(sess.AccountID)()
	return h.open(sess)
}

// Ensure returns the account's store, signing sess in when the account has
// no active session.
func (h *Hub) Ensure(sess session.Session) (*Store, error) {
	defer h.lockAccount(sess.AccountID)()
	if st, ok := h.Store(sess.AccountID); ok {
		return st, nil
	}
	return h.open(sess)
}

// Store returns the account's store when it has an active session.
func (h *Hub) Store(accountID string) (*Store, bool) {
	h.mu.Lock()
	st, ok := h.stores[accountID]
	h.mu.Unlock()
	if !ok {
		return nil, false
	}
	if _, active := st.Session(); !active {
		return nil, false
	}
	return st, true
}

// SignOut ends the account's session and forgets its store. A sign-in for
// the same account waits until the old session is fully closed.
func (h *Hub) SignOut(ctx context.Context, accountID string) error {
	defer h.lockAccount(accountID)()
	h.mu.Lock()
	st, ok := h.stores[accountID]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	err := st.Close(ctx)
	h.mu.Lock()
	delete(h.stores, accountID)
	h.mu.Unlock()
	return err
}

// Refresh caches a refreshed credential for an active session.
func (h *Hub) Refresh(ctx context.Context, accountID, token string) error {
	st, ok := h.Store(accountID)
	if !ok {
		return ErrNoSession
	}
	return st.Refresh(ctx, token)
}

// Close ends every session.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	accounts := make([]string, 0, len(h.stores))
	for id := range h.stores {
		accounts = append(accounts, id)
	}
	h.mu.Unlock()

	var errs []error
	for _, id := range accounts {
		errs = append(errs, h.SignOut(ctx, id))
	}
	return errors.Join(errs...)
}

// open runs with the account locked.
func (h *Hub) open(sess session.Session) (*Store, error) {
	h.mu.Lock()
	st, ok := h.stores[sess.AccountID]
	h.mu.Unlock()
	if !ok {
		st = NewStore(h.source, h.cache, h.log)
		st.OnChange(h.publishOnChange(sess.AccountID, st))
	}
	if err := st.Open(h.ctx, sess); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.stores[sess.AccountID] = st
	h.mu.Unlock()
	return st, nil
}

func (h *Hub) publishOnChange(accountID string, st *Store) func(Change) {
	return func(change Change) {
		if h.publisher == nil {
			return
		}
		switch change {
		case ChangeVehicles, ChangeDrivers, ChangeReset:
		default:
			return
		}
		if err := h.publisher.PublishAnalytics(h.ctx, accountID, st.Analytics()); err != nil {
			h.log.WithError(err).WithField("account_id", accountID).Warn("Failed to publish analytics")
		}
	}
}
