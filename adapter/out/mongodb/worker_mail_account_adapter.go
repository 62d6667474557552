package mongodb

import (
	"context"
	"fmt"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"
	"jobsync_worker/pkg/crypto"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Mail Account Adapter
// =============================================================================

// MailAccountAdapter implements out.MailAccountRepository. Tokens are sealed
// with the encryptor when one is configured.
type MailAccountAdapter struct {
	collection *mongo.Collection
	enc        *crypto.Encryptor
}

func NewMailAccountAdapter(db *mongo.Database, enc *crypto.Encryptor) *MailAccountAdapter {
	return &MailAccountAdapter{
		collection: db.Collection(collectionMailAccounts),
		enc:        enc,
	}
}

type mailAccountDocument struct {
	ID           string            `bson:"id"`
	UserID       string            `bson:"user_id"`
	Provider     string            `bson:"provider"`
	EmailAddress string            `bson:"email_address"`
	AccessToken  string            `bson:"access_token"`
	RefreshToken string            `bson:"refresh_token,omitempty"`
	ExpiresAt    *time.Time        `bson:"expires_at,omitempty"`
	Scope        string            `bson:"scope,omitempty"`
	Cursor       domain.MailCursor `bson:"metadata"`
	CreatedAt    time.Time         `bson:"created_at"`
	UpdatedAt    time.Time         `bson:"updated_at"`
}

func (a *MailAccountAdapter) seal(v string) (string, error) {
	if a.enc == nil || v == "" {
		return v, nil
	}
	return a.enc.Encrypt(v)
}

func (a *MailAccountAdapter) open(v string) (string, error) {
	if a.enc == nil {
		return v, nil
	}
	return a.enc.Decrypt(v)
}

func (a *MailAccountAdapter) toEntity(doc *mailAccountDocument) (*domain.MailAccount, error) {
	access, err := a.open(doc.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := a.open(doc.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	return &domain.MailAccount{
		ID:           doc.ID,
		UserID:       doc.UserID,
		Provider:     domain.Provider(doc.Provider),
		EmailAddress: doc.EmailAddress,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    doc.ExpiresAt,
		Scope:        doc.Scope,
		Cursor:       doc.Cursor,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}

func (a *MailAccountAdapter) List(ctx context.Context, filter out.MailAccountFilter) ([]*domain.MailAccount, error) {
	q := bson.M{}
	if filter.Provider != "" {
		q["provider"] = string(filter.Provider)
	}
	if filter.UserID != "" {
		q["user_id"] = filter.UserID
	}

	cursor, err := a.collection.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list mail accounts: %w", err)
	}
	defer cursor.Close(ctx)

	var accounts []*domain.MailAccount
	for cursor.Next(ctx) {
		var doc mailAccountDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode mail account: %w", err)
		}
		acc, err := a.toEntity(&doc)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, cursor.Err()
}

func (a *MailAccountAdapter) GetByID(ctx context.Context, id string) (*domain.MailAccount, error) {
	var doc mailAccountDocument
	if err := a.collection.FindOne(ctx, bson.M{"id": id}).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get mail account: %w", err)
	}
	return a.toEntity(&doc)
}

// Upsert keys the account by (provider, user, normalized email). An empty
// refresh token never overwrites a stored one.
func (a *MailAccountAdapter) Upsert(ctx context.Context, account *domain.MailAccount) (*domain.MailAccount, error) {
	access, err := a.seal(account.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := a.seal(account.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	now := time.Now().UTC()
	email := domain.NormalizeEmail(account.EmailAddress)
	filter := bson.M{
		"provider":      string(account.Provider),
		"user_id":       account.UserID,
		"email_address": email,
	}

	set := bson.M{
		"access_token": access,
		"expires_at":   account.ExpiresAt,
		"metadata":     account.Cursor,
		"updated_at":   now,
	}
	if refresh != "" {
		set["refresh_token"] = refresh
	}
	if account.Scope != "" {
		set["scope"] = account.Scope
	}

	id := account.ID
	if id == "" {
		id = uuid.NewString()
	}
	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"id":         id,
			"created_at": now,
		},
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc mailAccountDocument
	if err := a.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to upsert mail account: %w", err)
	}
	return a.toEntity(&doc)
}

func (a *MailAccountAdapter) UpdateToken(ctx context.Context, id string, accessToken, refreshToken string, expiresAt *time.Time, scope string) error {
	access, err := a.seal(accessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	set := bson.M{
		"access_token": access,
		"expires_at":   expiresAt,
		"updated_at":   time.Now().UTC(),
	}
	if refreshToken != "" {
		refresh, err := a.seal(refreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		set["refresh_token"] = refresh
	}
	if scope != "" {
		set["scope"] = scope
	}

	res, err := a.collection.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (a *MailAccountAdapter) UpdateCursor(ctx context.Context, id string, cursor domain.MailCursor) error {
	res, err := a.collection.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{
		"metadata":   cursor,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (a *MailAccountAdapter) Delete(ctx context.Context, id string) error {
	res, err := a.collection.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return fmt.Errorf("failed to delete mail account: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ out.MailAccountRepository = (*MailAccountAdapter)(nil)
