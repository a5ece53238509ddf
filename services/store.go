package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"stock_sync_backend/models"
)

// MongoDB collection names
const (
	StocksCollection     = "stocks"
	QuotesCollection     = "market_quotes"
	SyncStatusCollection = "sync_status"
)

// UpsertBatchSize bounds memory per bulk write
const UpsertBatchSize = 1000

// MongoStore wraps the MongoDB handle for the sync engine's collections.
// All writers key on the instrument code so repeated runs are idempotent.
type MongoStore struct {
	database *mongo.Database
}

// NewMongoStore connects to MongoDB and verifies the connection.
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(connectCtx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Println("MongoDB connected successfully")
	return &MongoStore{database: client.Database(dbName)}, nil
}

// Close disconnects the underlying client
func (s *MongoStore) Close(ctx context.Context) error {
	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.database.Client().Disconnect(closeCtx)
}

// EnsureIndexes creates the collection indexes. Idempotent, safe to call on
// every startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	idxCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// _id is the natural key everywhere; secondary indexes support the
	// staleness check and freshness queries
	_, err := s.database.Collection(QuotesCollection).Indexes().CreateOne(idxCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "trade_date", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create quote index: %w", err)
	}
	_, err = s.database.Collection(StocksCollection).Indexes().CreateOne(idxCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create stock index: %w", err)
	}

	log.Println("MongoDB indexes ensured")
	return nil
}

// upsertInBatches submits [0,n) in UpsertBatchSize slices. A failing batch
// is logged and skipped; the remaining batches are still submitted. Returns
// the number of failed batches and the last batch error.
func upsertInBatches(n int, write func(start, end int) error) (int, error) {
	var failed int
	var lastErr error
	for start := 0; start < n; start += UpsertBatchSize {
		end := start + UpsertBatchSize
		if end > n {
			end = n
		}
		if err := write(start, end); err != nil {
			failed++
			lastErr = err
			log.Printf("Batch upsert [%d:%d] failed: %v", start, end, err)
		}
	}
	return failed, lastErr
}

// BulkUpsertStocks replaces stock records keyed by code in batches. Returns
// (inserted, updated, failedBatches); a failing batch does not stop the
// rest, so the counts cover every batch that went through.
func (s *MongoStore) BulkUpsertStocks(ctx context.Context, records []models.StockRecord) (int64, int64, int, error) {
	if len(records) == 0 {
		return 0, 0, 0, nil
	}

	collection := s.database.Collection(StocksCollection)
	var inserted, updated int64
	failed, lastErr := upsertInBatches(len(records), func(start, end int) error {
		operations := make([]mongo.WriteModel, 0, end-start)
		for _, record := range records[start:end] {
			operations = append(operations, mongo.NewReplaceOneModel().
				SetFilter(bson.M{"_id": record.Code}).
				SetReplacement(record).
				SetUpsert(true))
		}

		result, err := collection.BulkWrite(ctx, operations)
		if err != nil {
			return err
		}
		inserted += result.UpsertedCount
		updated += result.MatchedCount
		return nil
	})
	if failed > 0 {
		return inserted, updated, failed, fmt.Errorf("bulk upsert of stocks: %d batches failed, last: %w", failed, lastErr)
	}
	return inserted, updated, 0, nil
}

// BulkUpsertQuotes replaces quote snapshots keyed by code in batches,
// continuing past failed batches. Returns the failed batch count.
func (s *MongoStore) BulkUpsertQuotes(ctx context.Context, snapshots []models.QuoteSnapshot) (int, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}

	collection := s.database.Collection(QuotesCollection)
	failed, lastErr := upsertInBatches(len(snapshots), func(start, end int) error {
		operations := make([]mongo.WriteModel, 0, end-start)
		for _, snapshot := range snapshots[start:end] {
			operations = append(operations, mongo.NewReplaceOneModel().
				SetFilter(bson.M{"_id": snapshot.Code}).
				SetReplacement(snapshot).
				SetUpsert(true))
		}
		_, err := collection.BulkWrite(ctx, operations)
		return err
	})
	if failed > 0 {
		return failed, fmt.Errorf("bulk upsert of quotes: %d batches failed, last: %w", failed, lastErr)
	}
	return 0, nil
}

// StockCodes returns every stored instrument code.
func (s *MongoStore) StockCodes(ctx context.Context) ([]string, error) {
	cursor, err := s.database.Collection(StocksCollection).Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to query stock codes: %w", err)
	}
	defer cursor.Close(ctx)

	var codes []string
	for cursor.Next(ctx) {
		var doc struct {
			Code string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		codes = append(codes, doc.Code)
	}
	return codes, cursor.Err()
}

// CountQuotes returns the number of stored quote snapshots.
func (s *MongoStore) CountQuotes(ctx context.Context) (int64, error) {
	return s.database.Collection(QuotesCollection).CountDocuments(ctx, bson.M{})
}

// LatestQuoteTradeDate returns the maximum trade_date across stored quotes,
// or "" when the collection is empty.
func (s *MongoStore) LatestQuoteTradeDate(ctx context.Context) (string, error) {
	var doc struct {
		TradeDate string `bson:"trade_date"`
	}
	err := s.database.Collection(QuotesCollection).
		FindOne(ctx, bson.M{},
			options.FindOne().
				SetSort(bson.D{{Key: "trade_date", Value: -1}}).
				SetProjection(bson.M{"trade_date": 1})).
		Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query latest quote trade date: %w", err)
	}
	return doc.TradeDate, nil
}

// SaveSyncRun upserts the run record for its job key.
func (s *MongoStore) SaveSyncRun(ctx context.Context, run *models.SyncRun) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.database.Collection(SyncStatusCollection).
		ReplaceOne(ctx, bson.M{"_id": run.JobKey}, run, opts)
	if err != nil {
		return fmt.Errorf("failed to save sync run %s: %w", run.JobKey, err)
	}
	return nil
}

// GetSyncRun loads the run record for a job key; nil when the job never ran.
func (s *MongoStore) GetSyncRun(ctx context.Context, jobKey string) (*models.SyncRun, error) {
	var run models.SyncRun
	err := s.database.Collection(SyncStatusCollection).
		FindOne(ctx, bson.M{"_id": jobKey}).Decode(&run)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync run %s: %w", jobKey, err)
	}
	return &run, nil
}
