package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/observer/notifyhub/internal/domain"
	"github.com/observer/notifyhub/internal/registry"
)

// ConnectionCollectionName is the MongoDB collection holding ledger documents
const ConnectionCollectionName = "connections"

var _ registry.Ledger = (*MongoLedger)(nil)

// MongoLedger keeps the connection ledger in a MongoDB collection
type MongoLedger struct {
	client     *mongo.Client
	collection *mongo.Collection
	now        func() time.Time
	logger     *slog.Logger

	indexMu sync.Mutex
	indexed bool
}

// NewMongoLedger builds the client and tries to prepare the collection.
// An unreachable server is not an error: the driver dials lazily, ledger
// calls fail until it is back, and the indexes are created on first success.
func NewMongoLedger(ctx context.Context, uri, database string, logger *slog.Logger) (*MongoLedger, error) {
	clientOptions := options.Client().
		ApplyURI(uri).
		SetAppName("notifyhub").
		SetMinPoolSize(1).
		SetMaxPoolSize(16).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	l := &MongoLedger{
		client:     client,
		collection: client.Database(database).Collection(ConnectionCollectionName),
		now:        time.Now,
		logger:     logger.With("component", "mongo_ledger"),
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		l.logger.Warn("mongo unreachable at startup, continuing", "error", err)
		return l, nil
	}
	l.ensureIndexes(pingCtx)
	return l, nil
}

// ensureIndexes creates the collection indexes once. Failures are logged and
// retried on the next ledger call.
func (l *MongoLedger) ensureIndexes(ctx context.Context) {
	l.indexMu.Lock()
	defer l.indexMu.Unlock()
	if l.indexed {
		return
	}

	_, err := l.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("connections_session_id_unique"),
		},
		{
			Keys:    bson.D{{Key: "connected_at", Value: 1}},
			Options: options.Index().SetName("connections_connected_at"),
		},
	})
	if err != nil {
		l.logger.Warn("create mongo indexes", "error", err)
		return
	}
	l.indexed = true
}

// Persist replaces the session document, inserting it if absent
func (l *MongoLedger) Persist(ctx context.Context, sessionID string, userID uuid.UUID) error {
	l.ensureIndexes(ctx)
	doc := domain.ConnectionEntry{
		SessionID:   sessionID,
		UserID:      userID.String(),
		ConnectedAt: l.now().UTC(),
	}
	filter := bson.D{{Key: "session_id", Value: sessionID}}
	opts := options.Replace().SetUpsert(true)

	if _, err := l.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("persist connection: unique key conflict: %w", err)
		}
		return fmt.Errorf("persist connection: %w", err)
	}
	return nil
}

// Forget deletes the session document
func (l *MongoLedger) Forget(ctx context.Context, sessionID string) error {
	filter := bson.D{{Key: "session_id", Value: sessionID}}
	if _, err := l.collection.DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("forget connection: %w", err)
	}
	return nil
}

// ListRecent returns documents connected within maxAge
func (l *MongoLedger) ListRecent(ctx context.Context, maxAge time.Duration) ([]domain.ConnectionEntry, error) {
	l.ensureIndexes(ctx)
	cutoff := l.now().Add(-maxAge).UTC()
	filter := bson.D{{Key: "connected_at", Value: bson.D{{Key: "$gt", Value: cutoff}}}}
	opts := options.Find().SetSort(bson.D{{Key: "connected_at", Value: 1}})

	cursor, err := l.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var entries []domain.ConnectionEntry
	for cursor.Next(ctx) {
		entries = append(entries, decodeEntry(cursor.Current))
	}
	return entries, cursor.Err()
}

// decodeEntry turns a raw ledger document into an entry. A document that does
// not decode yields an entry with no owner, which reconciliation rejects as a
// malformed row instead of failing the whole load.
func decodeEntry(raw bson.Raw) domain.ConnectionEntry {
	var e domain.ConnectionEntry
	if err := bson.Unmarshal(raw, &e); err == nil {
		return e
	}

	var sessionID string
	if v, err := raw.LookupErr("session_id"); err == nil {
		sessionID, _ = v.StringValueOK()
	}
	return domain.ConnectionEntry{SessionID: sessionID}
}

// Close disconnects the client
func (l *MongoLedger) Close(ctx context.Context) error {
	return l.client.Disconnect(ctx)
}
