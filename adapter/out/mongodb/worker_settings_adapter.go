package mongodb

import (
	"context"
	"fmt"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SettingsAdapter stores per-user sync settings.
type SettingsAdapter struct {
	collection *mongo.Collection
}

func NewSettingsAdapter(db *mongo.Database) *SettingsAdapter {
	return &SettingsAdapter{collection: db.Collection(collectionUserSettings)}
}

type syncPolicyDocument struct {
	Mode          string  `bson:"mode"`
	AutoThreshold float64 `bson:"auto_threshold"`
}

type settingsDocument struct {
	UserID     string              `bson:"user_id"`
	SyncPolicy *syncPolicyDocument `bson:"sync_policy,omitempty"`
	UpdatedAt  time.Time           `bson:"updated_at"`
}

func (a *SettingsAdapter) GetPolicy(ctx context.Context, userID string) (*domain.SyncPolicy, error) {
	var doc settingsDocument
	if err := a.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync policy: %w", err)
	}
	if doc.SyncPolicy == nil {
		return nil, nil
	}
	return &domain.SyncPolicy{
		Mode:          domain.SyncMode(doc.SyncPolicy.Mode),
		AutoThreshold: doc.SyncPolicy.AutoThreshold,
	}, nil
}

func (a *SettingsAdapter) SavePolicy(ctx context.Context, userID string, policy domain.SyncPolicy) error {
	update := bson.M{"$set": bson.M{
		"sync_policy": syncPolicyDocument{Mode: string(policy.Mode), AutoThreshold: policy.AutoThreshold},
		"updated_at":  time.Now().UTC(),
	}}
	opts := options.Update().SetUpsert(true)
	if _, err := a.collection.UpdateOne(ctx, bson.M{"user_id": userID}, update, opts); err != nil {
		return fmt.Errorf("failed to save sync policy: %w", err)
	}
	return nil
}

var _ out.SyncPolicyRepository = (*SettingsAdapter)(nil)
