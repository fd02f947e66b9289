// Package mongodb implements the transmission journal using MongoDB
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rdehuyss/oxalis/internal/storage"
)

// Store implements storage.TransmissionStore using MongoDB
type Store struct {
	client        *mongo.Client
	transmissions *mongo.Collection
}

// Config holds MongoDB connection settings
type Config struct {
	URI        string
	Database   string
	Collection string
}

// NewStore connects to MongoDB and prepares the journal collection
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "transmissions"
	}

	s := &Store{
		client:        client,
		transmissions: client.Database(cfg.Database).Collection(collection),
	}

	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return s, nil
}

var _ storage.TransmissionStore = (*Store)(nil)

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.transmissions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "receiver", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	return err
}

// Close closes the MongoDB connection
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Save(ctx context.Context, rec *storage.TransmissionRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.transmissions.ReplaceOne(ctx, bson.M{"_id": rec.MessageID}, rec,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("saving transmission %s: %w", rec.MessageID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, messageID string) (*storage.TransmissionRecord, error) {
	var rec storage.TransmissionRecord
	err := s.transmissions.FindOne(ctx, bson.M{"_id": messageID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) UpdateStatus(ctx context.Context, messageID string, status storage.TransmissionStatus, lastError string) error {
	res, err := s.transmissions.UpdateOne(ctx, bson.M{"_id": messageID}, bson.M{
		"$set": bson.M{
			"status":     status,
			"last_error": lastError,
			"updated_at": time.Now().UTC(),
		},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context, filter *storage.TransmissionFilter) ([]*storage.TransmissionRecord, error) {
	cursor, err := s.transmissions.Find(ctx, filterQuery(filter), findOptions(filter))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	records := []*storage.TransmissionRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func filterQuery(filter *storage.TransmissionFilter) bson.M {
	query := bson.M{}
	if filter == nil {
		return query
	}
	if filter.Sender != "" {
		query["sender"] = filter.Sender
	}
	if filter.Receiver != "" {
		query["receiver"] = filter.Receiver
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Since != nil {
		query["created_at"] = bson.M{"$gte": *filter.Since}
	}
	return query
}

func findOptions(filter *storage.TransmissionFilter) *options.FindOptions {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	if filter != nil {
		if filter.Limit > 0 {
			opts.SetLimit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			opts.SetSkip(int64(filter.Offset))
		}
	}
	return opts
}
