// Package repository persists analysis outputs in MongoDB.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spigell/fit-analyzer/internal/apperr"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	CollectionCompanies  = "companies"
	CollectionCandidates = "candidates"
	CollectionCultureFit = "culture_fit_results"

	defaultTimeout = 10 * time.Second
)

// Mongo stores documents in one database.
type Mongo struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// Connect opens a client and verifies the server responds.
func Connect(ctx context.Context, uri, database string, timeout time.Duration, logger *zap.Logger) (*Mongo, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri).SetTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	logger.Info("connected to mongodb", zap.String("database", database))

	return &Mongo{
		client:  client,
		db:      client.Database(database),
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// EnsureIndexes creates the lookup indexes used by the search endpoints.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	for collection, models := range indexModels() {
		ctx, cancel := context.WithTimeout(ctx, m.timeout)
		names, err := m.db.Collection(collection).Indexes().CreateMany(ctx, models)
		cancel()
		if err != nil {
			return fmt.Errorf("create indexes on %s: %w", collection, err)
		}
		m.logger.Debug("indexes ready", zap.String("collection", collection), zap.Strings("indexes", names))
	}
	return nil
}

func indexModels() map[string][]mongo.IndexModel {
	createdAt := mongo.IndexModel{Keys: bson.D{{Key: "created_at", Value: -1}}}
	return map[string][]mongo.IndexModel{
		CollectionCompanies: {
			{Keys: bson.D{{Key: "profile_meta.company_name", Value: 1}}},
			createdAt,
		},
		CollectionCandidates: {
			{Keys: bson.D{{Key: "profile_meta.candidate_name", Value: 1}}},
			createdAt,
		},
		CollectionCultureFit: {
			{Keys: bson.D{{Key: "inputs.company_profile_ref.profile_id", Value: 1}}},
			{Keys: bson.D{{Key: "inputs.developer_profile_ref.profile_id", Value: 1}}},
			createdAt,
		},
	}
}

// Create inserts doc with fresh timestamps and returns the hex id.
func (m *Mongo) Create(ctx context.Context, collection string, doc map[string]any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	record := stamp(doc, m.now().UTC())

	res, err := m.db.Collection(collection).InsertOne(ctx, record)
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", collection, err)
	}

	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("insert into %s: unexpected id type %T", collection, res.InsertedID)
	}

	return id.Hex(), nil
}

// Get fetches one document by hex id.
func (m *Mongo) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apperr.InvalidInput("invalid id %q", id)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var doc bson.M
	err = m.db.Collection(collection).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("%s record %s not found", collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}

	return Normalize(doc), nil
}

// Search lists documents newest first.
func (m *Mongo) Search(ctx context.Context, collection string, q Query) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	limit, skip := q.bounds()
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit).
		SetSkip(skip)

	cursor, err := m.db.Collection(collection).Find(ctx, q.filter(collection), opts)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}

	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		out = append(out, Normalize(doc))
	}
	return out, nil
}

// stamp copies doc without any caller-provided _id and sets timestamps.
func stamp(doc map[string]any, now time.Time) bson.M {
	record := make(bson.M, len(doc)+2)
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		record[k] = v
	}
	record["created_at"] = now
	record["updated_at"] = now
	return record
}
