// internal/output/mongodb.go - MongoDB sink keyed on the product link
package output

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/valpere/ecomscrapexter/internal/pipeline"
)

// MongoDBWriter stores one document per product link.
type MongoDBWriter struct {
	mu         sync.Mutex
	client     *mongo.Client
	collection *mongo.Collection
	onConflict ConflictStrategy
	timeout    time.Duration
}

// NewMongoDBWriter connects, pings and ensures a unique index on link.
func NewMongoDBWriter(ctx context.Context, uri, database, collection string, onConflict ConflictStrategy) (*MongoDBWriter, error) {
	if uri == "" {
		return nil, fmt.Errorf("MongoDB connection string is required")
	}
	if database == "" {
		return nil, fmt.Errorf("MongoDB database name is required")
	}
	if collection == "" {
		collection = DefaultTable
	}
	if onConflict == "" {
		onConflict = ConflictIgnore
	}

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(16).
		SetMaxConnIdleTime(10 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: string(pipeline.FieldLink), Value: 1}},
		Options: options.Index().SetUnique(true).SetName("link_unique"),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create link index: %w", err)
	}

	return &MongoDBWriter{
		client:     client,
		collection: coll,
		onConflict: onConflict,
		timeout:    30 * time.Second,
	}, nil
}

// Write upserts, inserts or skips records according to the conflict strategy.
func (w *MongoDBWriter) Write(ctx context.Context, records []pipeline.Record) error {
	if len(records) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	models := make([]mongo.WriteModel, len(records))
	for i, r := range records {
		doc := documentOf(r)
		filter := bson.M{string(pipeline.FieldLink): r.Link}
		switch w.onConflict {
		case ConflictReplace:
			models[i] = mongo.NewReplaceOneModel().SetFilter(filter).SetReplacement(doc).SetUpsert(true)
		case ConflictIgnore:
			models[i] = mongo.NewUpdateOneModel().SetFilter(filter).
				SetUpdate(bson.M{"$setOnInsert": doc}).SetUpsert(true)
		default:
			models[i] = mongo.NewInsertOneModel().SetDocument(doc)
		}
	}

	_, err := w.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(w.onConflict == ConflictError))
	if err != nil {
		return fmt.Errorf("failed to write %d documents: %w", len(records), err)
	}
	return nil
}

// documentOf keeps only the fields that are set.
func documentOf(r pipeline.Record) bson.D {
	doc := bson.D{}
	for _, f := range pipeline.Fields() {
		if v := r.Get(f); v != "" {
			doc = append(doc, bson.E{Key: string(f), Value: v})
		}
	}
	return append(doc, bson.E{Key: "created_at", Value: time.Now().UTC()})
}

// Close disconnects the client.
func (w *MongoDBWriter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return w.client.Disconnect(ctx)
}
