package db

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Snapshot is one full delivery of a live query's result set. A snapshot
// carrying Err is the last one sent on its channel.
type Snapshot struct {
	Docs []bson.Raw
	Err  error
}

// LiveSource turns MongoDB change streams into streams of full snapshots.
// Change streams need a replica set; against a standalone server Subscribe
// returns an error.
type LiveSource struct {
	Database *mongo.Database
}

// Subscribe delivers the documents matching filter now and again after every
// change that can affect them. The channel is closed when ctx ends or after a
// terminal error.
func (l *LiveSource) Subscribe(ctx context.Context, collection string, filter bson.M) (<-chan Snapshot, error) {
	return l.watch(ctx, collection, filter, changePipeline(filter))
}

// changePipeline keeps the change events whose looked-up document matches
// filter on equality. Deletes carry no document, so every delete (and any
// other event without one) passes and triggers a re-query.
func changePipeline(filter bson.M) mongo.Pipeline {
	if len(filter) == 0 {
		return mongo.Pipeline{}
	}
	matched := bson.M{}
	for k, v := range filter {
		matched["fullDocument."+k] = v
	}
	return mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"$or": bson.A{
			matched,
			bson.M{"operationType": bson.M{"$nin": bson.A{"insert", "update", "replace"}}},
		}}}},
	}
}

// WatchDocument is Subscribe for a single document key. Each snapshot holds
// zero or one documents.
func (l *LiveSource) WatchDocument(ctx context.Context, collection, id string) (<-chan Snapshot, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: id}}}},
	}
	return l.watch(ctx, collection, bson.M{"_id": id}, pipeline)
}

// MergeDocument sets fields on the document, creating it when missing.
// Concurrent writers are last-writer-wins per field.
func (l *LiveSource) MergeDocument(ctx context.Context, collection, id string, fields bson.M) error {
	if l.Database == nil {
		return fmt.Errorf("mongo database is nil")
	}
	_, err := l.Database.Collection(collection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": fields},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("merge %s/%s: %w", collection, id, err)
	}
	return nil
}

func (l *LiveSource) watch(ctx context.Context, name string, filter bson.M, pipeline mongo.Pipeline) (<-chan Snapshot, error) {
	if l.Database == nil {
		return nil, fmt.Errorf("mongo database is nil")
	}
	coll := l.Database.Collection(name)

	// Open the stream before the first query so no change falls in between.
	stream, err := coll.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", name, err)
	}

	out := make(chan Snapshot)
	go func() {
		defer close(out)
		defer stream.Close(context.Background())

		if !deliver(ctx, out, query(ctx, coll, filter)) {
			return
		}
		for stream.Next(ctx) {
			if !deliver(ctx, out, query(ctx, coll, filter)) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			deliver(ctx, out, Snapshot{Err: fmt.Errorf("change stream %s: %w", name, err)})
		}
	}()
	return out, nil
}

func query(ctx context.Context, coll *mongo.Collection, filter bson.M) Snapshot {
	cursor, err := coll.Find(ctx, filter)
	if err != nil {
		return Snapshot{Err: fmt.Errorf("query %s: %w", coll.Name(), err)}
	}
	docs := []bson.Raw{}
	if err := cursor.All(ctx, &docs); err != nil {
		return Snapshot{Err: fmt.Errorf("read %s: %w", coll.Name(), err)}
	}
	return Snapshot{Docs: docs}
}

// deliver sends snap unless ctx ends first and reports whether the stream
// should keep going. Errors caused by cancellation are not delivered.
func deliver(ctx context.Context, out chan<- Snapshot, snap Snapshot) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case out <- snap:
		return snap.Err == nil
	case <-ctx.Done():
		return false
	}
}
