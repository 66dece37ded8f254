package fleet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-dashboard/internal/db"
	"go.mongodb.org/mongo-driver/bson"
)

type fakeStream struct {
	ctx    context.Context
	filter bson.M
	id     string
	ch     chan db.Snapshot
}

type mergeCall struct {
	Collection string
	ID         string
	Fields     bson.M
}

// fakeSource hands out buffered snapshot channels that tests feed by hand.
type fakeSource struct {
	mu       sync.Mutex
	streams  map[string]*fakeStream
	opened   map[string]int
	failOpen map[string]error
	merges   []mergeCall
	mergeErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		streams:  make(map[string]*fakeStream),
		opened:   make(map[string]int),
		failOpen: make(map[string]error),
	}
}

func (f *fakeSource) open(ctx context.Context, collection string, filter bson.M, id string) (<-chan db.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOpen[collection]; err != nil {
		return nil, err
	}
	s := &fakeStream{ctx: ctx, filter: filter, id: id, ch: make(chan db.Snapshot, 8)}
	f.streams[collection] = s
	f.opened[collection]++
	return s.ch, nil
}

func (f *fakeSource) Subscribe(ctx context.Context, collection string, filter bson.M) (<-chan db.Snapshot, error) {
	return f.open(ctx, collection, filter, "")
}

func (f *fakeSource) WatchDocument(ctx context.Context, collection, id string) (<-chan db.Snapshot, error) {
	return f.open(ctx, collection, nil, id)
}

func (f *fakeSource) MergeDocument(_ context.Context, collection, id string, fields bson.M) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merges = append(f.merges, mergeCall{Collection: collection, ID: id, Fields: fields})
	return f.mergeErr
}

func (f *fakeSource) stream(t *testing.T, collection string) *fakeStream {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.streams[collection]
	require.True(t, ok, "no subscription to %s", collection)
	return s
}

func (f *fakeSource) mergeCalls() []mergeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mergeCall(nil), f.merges...)
}

// push delivers a snapshot built from docs on the collection's latest stream.
func (f *fakeSource) push(t *testing.T, collection string, docs ...interface{}) {
	t.Helper()
	snap := db.Snapshot{Docs: []bson.Raw{}}
	for _, d := range docs {
		b, err := bson.Marshal(d)
		require.NoError(t, err)
		snap.Docs = append(snap.Docs, b)
	}
	f.send(t, collection, snap)
}

func (f *fakeSource) send(t *testing.T, collection string, snap db.Snapshot) {
	t.Helper()
	select {
	case f.stream(t, collection).ch <- snap:
	case <-time.After(time.Second):
		t.Fatalf("snapshot for %s was not consumed", collection)
	}
}
