package mongodb

import (
	"context"
	"fmt"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PendingAdapter implements out.PendingItemRepository.
type PendingAdapter struct {
	collection *mongo.Collection
}

func NewPendingAdapter(db *mongo.Database) *PendingAdapter {
	return &PendingAdapter{collection: db.Collection(collectionPendingItems)}
}

type pendingDocument struct {
	ID        string `bson:"id"`
	UserID    string `bson:"user_id"`
	AccountID string `bson:"account_id"`
	Provider  string `bson:"provider"`
	MessageID string `bson:"message_id"`
	ThreadID  string `bson:"thread_id,omitempty"`

	Subject    string    `bson:"subject"`
	From       string    `bson:"from"`
	To         string    `bson:"to"`
	Snippet    string    `bson:"snippet"`
	ReceivedAt time.Time `bson:"received_at"`

	Company           string     `bson:"company,omitempty"`
	Position          string     `bson:"position,omitempty"`
	EventType         string     `bson:"event_type"`
	IsRelevant        bool       `bson:"is_relevant"`
	InterviewTime     *time.Time `bson:"interview_time,omitempty"`
	Deadline          *time.Time `bson:"deadline,omitempty"`
	NeedsScheduling   bool       `bson:"needs_scheduling"`
	Confidence        float64    `bson:"confidence"`
	RecommendedAction string     `bson:"recommended_action,omitempty"`
	Summary           string     `bson:"summary,omitempty"`
	Rationale         string     `bson:"rationale,omitempty"`
	Notes             string     `bson:"notes,omitempty"`

	Status        string    `bson:"status"`
	AcceptedJobID string    `bson:"accepted_job_id,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func toPendingDocument(it *domain.PendingItem) *pendingDocument {
	return &pendingDocument{
		ID:                it.ID,
		UserID:            it.UserID,
		AccountID:         it.AccountID,
		Provider:          string(it.Provider),
		MessageID:         it.MessageID,
		ThreadID:          it.ThreadID,
		Subject:           it.Subject,
		From:              it.From,
		To:                it.To,
		Snippet:           it.Snippet,
		ReceivedAt:        it.ReceivedAt,
		Company:           it.Company,
		Position:          it.Position,
		EventType:         string(it.EventType),
		IsRelevant:        it.IsRelevant,
		InterviewTime:     it.InterviewTime,
		Deadline:          it.Deadline,
		NeedsScheduling:   it.NeedsScheduling,
		Confidence:        it.Confidence,
		RecommendedAction: string(it.RecommendedAction),
		Summary:           it.Summary,
		Rationale:         it.Rationale,
		Notes:             it.Notes,
		Status:            string(it.Status),
		AcceptedJobID:     it.AcceptedJobID,
		CreatedAt:         it.CreatedAt,
		UpdatedAt:         it.UpdatedAt,
	}
}

func (d *pendingDocument) toEntity() *domain.PendingItem {
	return &domain.PendingItem{
		ID:                d.ID,
		UserID:            d.UserID,
		AccountID:         d.AccountID,
		Provider:          domain.Provider(d.Provider),
		MessageID:         d.MessageID,
		ThreadID:          d.ThreadID,
		Subject:           d.Subject,
		From:              d.From,
		To:                d.To,
		Snippet:           d.Snippet,
		ReceivedAt:        d.ReceivedAt,
		Company:           d.Company,
		Position:          d.Position,
		EventType:         domain.EventType(d.EventType),
		IsRelevant:        d.IsRelevant,
		InterviewTime:     d.InterviewTime,
		Deadline:          d.Deadline,
		NeedsScheduling:   d.NeedsScheduling,
		Confidence:        d.Confidence,
		RecommendedAction: domain.RecommendedAction(d.RecommendedAction),
		Summary:           d.Summary,
		Rationale:         d.Rationale,
		Notes:             d.Notes,
		Status:            domain.PendingStatus(d.Status),
		AcceptedJobID:     d.AcceptedJobID,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func (a *PendingAdapter) Create(ctx context.Context, item *domain.PendingItem) error {
	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = domain.PendingOpen
	}
	item.CreatedAt = now
	item.UpdatedAt = now

	if _, err := a.collection.InsertOne(ctx, toPendingDocument(item)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("failed to create pending item: %w", err)
	}
	return nil
}

func (a *PendingAdapter) GetByID(ctx context.Context, id string) (*domain.PendingItem, error) {
	var doc pendingDocument
	if err := a.collection.FindOne(ctx, bson.M{"id": id}).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pending item: %w", err)
	}
	return doc.toEntity(), nil
}

func (a *PendingAdapter) List(ctx context.Context, filter out.PendingFilter) ([]*domain.PendingItem, error) {
	q := bson.M{"user_id": filter.UserID}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		q["status"] = bson.M{"$in": statuses}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := a.collection.Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}
	defer cursor.Close(ctx)

	var items []*domain.PendingItem
	for cursor.Next(ctx) {
		var doc pendingDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode pending item: %w", err)
		}
		items = append(items, doc.toEntity())
	}
	return items, cursor.Err()
}

// Transition replaces the item only while it is still pending, so two
// reviewers cannot both close it.
func (a *PendingAdapter) Transition(ctx context.Context, item *domain.PendingItem, to domain.PendingStatus) error {
	next := *item
	next.Status = to
	next.UpdatedAt = time.Now().UTC()

	filter := bson.M{"id": item.ID, "status": string(domain.PendingOpen)}
	res, err := a.collection.ReplaceOne(ctx, filter, toPendingDocument(&next))
	if err != nil {
		return fmt.Errorf("failed to update pending item: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := a.GetByID(ctx, item.ID); err != nil {
			return err
		}
		return domain.ErrNotPending
	}

	*item = next
	return nil
}

func (a *PendingAdapter) Update(ctx context.Context, item *domain.PendingItem) error {
	next := *item
	next.UpdatedAt = time.Now().UTC()

	res, err := a.collection.ReplaceOne(ctx, bson.M{"id": item.ID}, toPendingDocument(&next))
	if err != nil {
		return fmt.Errorf("failed to update pending item: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}

	*item = next
	return nil
}

func (a *PendingAdapter) DeleteByStatus(ctx context.Context, userID string, statuses []domain.PendingStatus) (int64, error) {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}

	res, err := a.collection.DeleteMany(ctx, bson.M{
		"user_id": userID,
		"status":  bson.M{"$in": values},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clear pending items: %w", err)
	}
	return res.DeletedCount, nil
}

var _ out.PendingItemRepository = (*PendingAdapter)(nil)
