package mongodb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// Jobs
// =============================================================================

type JobAdapter struct {
	collection *mongo.Collection
}

func NewJobAdapter(db *mongo.Database) *JobAdapter {
	return &JobAdapter{collection: db.Collection(collectionJobs)}
}

type jobDocument struct {
	ID          string    `bson:"id"`
	UserID      string    `bson:"user_id"`
	Company     string    `bson:"company"`
	Position    string    `bson:"position"`
	Location    string    `bson:"location,omitempty"`
	Source      string    `bson:"application_source,omitempty"`
	Status      string    `bson:"status"`
	DateApplied time.Time `bson:"date_applied"`
	Notes       string    `bson:"notes,omitempty"`
	JobURL      string    `bson:"job_url,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func toJobDocument(j *domain.Job) *jobDocument {
	return &jobDocument{
		ID:          j.ID,
		UserID:      j.UserID,
		Company:     j.Company,
		Position:    j.Position,
		Location:    j.Location,
		Source:      j.Source,
		Status:      string(j.Status),
		DateApplied: j.DateApplied,
		Notes:       j.Notes,
		JobURL:      j.JobURL,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

func (d *jobDocument) toEntity() *domain.Job {
	return &domain.Job{
		ID:          d.ID,
		UserID:      d.UserID,
		Company:     d.Company,
		Position:    d.Position,
		Location:    d.Location,
		Source:      d.Source,
		Status:      domain.JobStatus(d.Status),
		DateApplied: d.DateApplied,
		Notes:       d.Notes,
		JobURL:      d.JobURL,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// FindOne matches on the known identity fields only. The oldest match wins.
func (a *JobAdapter) FindOne(ctx context.Context, match domain.JobMatch) (*domain.Job, error) {
	filter := bson.M{"user_id": match.UserID}
	if c := strings.TrimSpace(match.Company); c != "" {
		filter["company"] = c
	}
	if p := strings.TrimSpace(match.Position); p != "" {
		filter["position"] = p
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})
	var doc jobDocument
	if err := a.collection.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find job: %w", err)
	}
	return doc.toEntity(), nil
}

func (a *JobAdapter) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var doc jobDocument
	if err := a.collection.FindOne(ctx, bson.M{"id": id}).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return doc.toEntity(), nil
}

func (a *JobAdapter) ListByUser(ctx context.Context, userID string) ([]*domain.Job, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := a.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var jobs []*domain.Job
	for cursor.Next(ctx) {
		var doc jobDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode job: %w", err)
		}
		jobs = append(jobs, doc.toEntity())
	}
	return jobs, cursor.Err()
}

func (a *JobAdapter) Create(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, err := a.collection.InsertOne(ctx, toJobDocument(job)); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (a *JobAdapter) Update(ctx context.Context, job *domain.Job) error {
	res, err := a.collection.ReplaceOne(ctx, bson.M{"id": job.ID}, toJobDocument(job))
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// =============================================================================
// Status History
// =============================================================================

type StatusHistoryAdapter struct {
	collection *mongo.Collection
}

func NewStatusHistoryAdapter(db *mongo.Database) *StatusHistoryAdapter {
	return &StatusHistoryAdapter{collection: db.Collection(collectionStatusHistory)}
}

type statusHistoryDocument struct {
	ID             string    `bson:"id"`
	JobID          string    `bson:"job_id"`
	UserID         string    `bson:"user_id"`
	Status         string    `bson:"status"`
	Date           time.Time `bson:"date"`
	Notes          string    `bson:"notes,omitempty"`
	InterviewStage string    `bson:"interview_stage,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
}

func toHistoryDocument(h *domain.StatusHistory) *statusHistoryDocument {
	return &statusHistoryDocument{
		ID:             h.ID,
		JobID:          h.JobID,
		UserID:         h.UserID,
		Status:         string(h.Status),
		Date:           h.Date,
		Notes:          h.Notes,
		InterviewStage: h.InterviewStage,
		CreatedAt:      h.CreatedAt,
	}
}

func (d *statusHistoryDocument) toEntity() *domain.StatusHistory {
	return &domain.StatusHistory{
		ID:             d.ID,
		JobID:          d.JobID,
		UserID:         d.UserID,
		Status:         domain.JobStatus(d.Status),
		Date:           d.Date,
		Notes:          d.Notes,
		InterviewStage: d.InterviewStage,
		CreatedAt:      d.CreatedAt,
	}
}

var timelineSort = bson.D{{Key: "date", Value: 1}, {Key: "created_at", Value: 1}}

func (a *StatusHistoryAdapter) Create(ctx context.Context, entry *domain.StatusHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if _, err := a.collection.InsertOne(ctx, toHistoryDocument(entry)); err != nil {
		return fmt.Errorf("failed to create status history: %w", err)
	}
	return nil
}

func (a *StatusHistoryAdapter) GetByID(ctx context.Context, id string) (*domain.StatusHistory, error) {
	var doc statusHistoryDocument
	if err := a.collection.FindOne(ctx, bson.M{"id": id}).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get status history: %w", err)
	}
	return doc.toEntity(), nil
}

func (a *StatusHistoryAdapter) ListByJob(ctx context.Context, jobID string) ([]*domain.StatusHistory, error) {
	return a.find(ctx, bson.M{"job_id": jobID})
}

func (a *StatusHistoryAdapter) ListByUserSince(ctx context.Context, userID string, since time.Time) ([]*domain.StatusHistory, error) {
	return a.find(ctx, bson.M{"user_id": userID, "date": bson.M{"$gte": since}})
}

func (a *StatusHistoryAdapter) find(ctx context.Context, filter bson.M) ([]*domain.StatusHistory, error) {
	cursor, err := a.collection.Find(ctx, filter, options.Find().SetSort(timelineSort))
	if err != nil {
		return nil, fmt.Errorf("failed to list status history: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*domain.StatusHistory
	for cursor.Next(ctx) {
		var doc statusHistoryDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode status history: %w", err)
		}
		entries = append(entries, doc.toEntity())
	}
	return entries, cursor.Err()
}

func (a *StatusHistoryAdapter) Update(ctx context.Context, entry *domain.StatusHistory) error {
	res, err := a.collection.ReplaceOne(ctx, bson.M{"id": entry.ID}, toHistoryDocument(entry))
	if err != nil {
		return fmt.Errorf("failed to update status history: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (a *StatusHistoryAdapter) Delete(ctx context.Context, id string) error {
	res, err := a.collection.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return fmt.Errorf("failed to delete status history: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var (
	_ out.JobRepository           = (*JobAdapter)(nil)
	_ out.StatusHistoryRepository = (*StatusHistoryAdapter)(nil)
)
