package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"beacon/pkg/requestcontext"
)

const mongoCollection = "kv_entries"

type mongoEntry struct {
	Key       string     `bson:"_id"`
	Value     string     `bson:"value"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
	UpdatedAt time.Time  `bson:"updated_at"`
	Rev       int64      `bson:"rev"`
}

// MongoStore keeps one document per key.
type MongoStore struct {
	coll *mongo.Collection
	ttl  time.Duration
}

func NewMongo(db *mongo.Database, opts ...Option) *MongoStore {
	o := buildOptions(opts)
	return &MongoStore{coll: db.Collection(mongoCollection), ttl: o.ttl}
}

// EnsureIndexes creates the TTL index so MongoDB reaps expired session entries.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: mongooptions.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("create kv ttl index: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, key string) (string, error) {
	var entry mongoEntry
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find kv entry: %w", err)
	}
	// The TTL monitor runs about once a minute; filter stragglers here.
	if entry.ExpiresAt != nil && !requestcontext.Now(ctx).Before(*entry.ExpiresAt) {
		return "", ErrNotFound
	}
	return entry.Value, nil
}

func (s *MongoStore) Set(ctx context.Context, key, value string) error {
	now := requestcontext.Now(ctx)
	set := bson.M{"value": value, "updated_at": now}
	update := bson.M{"$set": set, "$inc": bson.M{"rev": 1}}
	if s.ttl > 0 {
		set["expires_at"] = now.Add(s.ttl)
	} else {
		update["$unset"] = bson.M{"expires_at": ""}
	}
	opts := mongooptions.Update().SetUpsert(true)
	if _, err := s.coll.UpdateOne(ctx, bson.M{"_id": key}, update, opts); err != nil {
		return fmt.Errorf("upsert kv entry: %w", err)
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, key string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("delete kv entry: %w", err)
	}
	return nil
}

// Update is a compare-and-swap on the document revision, retried on conflict.
func (s *MongoStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	now := requestcontext.Now(ctx)
	for range maxUpdateRetries {
		var entry mongoEntry
		err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&entry)
		exists := true
		if errors.Is(err, mongo.ErrNoDocuments) {
			exists = false
		} else if err != nil {
			return fmt.Errorf("find kv entry: %w", err)
		}
		found := exists && (entry.ExpiresAt == nil || now.Before(*entry.ExpiresAt))
		current := ""
		if found {
			current = entry.Value
		}

		next, err := fn(current, found)
		if err != nil {
			return err
		}
		var expiresAt *time.Time
		if s.ttl > 0 {
			t := now.Add(s.ttl)
			expiresAt = &t
		}

		if !exists {
			_, err := s.coll.InsertOne(ctx, mongoEntry{
				Key:       key,
				Value:     next,
				ExpiresAt: expiresAt,
				UpdatedAt: now,
				Rev:       1,
			})
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			if err != nil {
				return fmt.Errorf("insert kv entry: %w", err)
			}
			return nil
		}

		set := bson.M{"value": next, "updated_at": now, "rev": entry.Rev + 1}
		update := bson.M{"$set": set}
		if expiresAt != nil {
			set["expires_at"] = *expiresAt
		} else {
			update["$unset"] = bson.M{"expires_at": ""}
		}
		filter := bson.M{"_id": key, "rev": entry.Rev}
		if entry.Rev == 0 {
			// Documents written before revisions existed have no rev field.
			filter["rev"] = bson.M{"$in": bson.A{0, nil}}
		}
		res, err := s.coll.UpdateOne(ctx, filter, update)
		if err != nil {
			return fmt.Errorf("update kv entry: %w", err)
		}
		if res.MatchedCount == 1 {
			return nil
		}
	}
	return fmt.Errorf("mongo update %s: %w", key, ErrConflict)
}
