package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LedgerAdapter implements out.LedgerRepository on the processed_emails
// collection. The unique (account_id, message_id) index makes concurrent
// inserts of the same message safe.
type LedgerAdapter struct {
	collection *mongo.Collection
}

func NewLedgerAdapter(db *mongo.Database) *LedgerAdapter {
	return &LedgerAdapter{collection: db.Collection(collectionProcessedEmails)}
}

type processedEmailDocument struct {
	Provider   string    `bson:"provider"`
	AccountID  string    `bson:"account_id"`
	UserID     string    `bson:"user_id"`
	MessageID  string    `bson:"message_id"`
	ThreadID   string    `bson:"thread_id,omitempty"`
	ReceivedAt time.Time `bson:"received_at"`
	CreatedAt  time.Time `bson:"created_at"`
}

func (a *LedgerAdapter) ExistingIDs(ctx context.Context, accountID string, messageIDs []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	if len(messageIDs) == 0 {
		return found, nil
	}

	filter := bson.M{
		"account_id": accountID,
		"message_id": bson.M{"$in": messageIDs},
	}
	opts := options.Find().SetProjection(bson.M{"message_id": 1, "_id": 0})

	cursor, err := a.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query processed emails: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc struct {
			MessageID string `bson:"message_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode processed email: %w", err)
		}
		found[doc.MessageID] = struct{}{}
	}
	return found, cursor.Err()
}

// InsertMany is an unordered bulk insert. Duplicate-key failures count as
// already recorded; any other write error is returned.
func (a *LedgerAdapter) InsertMany(ctx context.Context, entries []*domain.ProcessedEmail) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	docs := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, processedEmailDocument{
			Provider:   string(e.Provider),
			AccountID:  e.AccountID,
			UserID:     e.UserID,
			MessageID:  e.MessageID,
			ThreadID:   e.ThreadID,
			ReceivedAt: e.ReceivedAt,
			CreatedAt:  e.CreatedAt,
		})
	}

	_, err := a.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return len(docs), nil
	}
	if onlyDuplicateKeys(err) {
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) {
			return len(docs) - len(bwe.WriteErrors), nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("failed to insert processed emails: %w", err)
}

var _ out.LedgerRepository = (*LedgerAdapter)(nil)
