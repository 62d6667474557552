package mongodb

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"jobsync_worker/core/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func bulkErr(codes ...int) mongo.BulkWriteException {
	var bwe mongo.BulkWriteException
	for i, c := range codes {
		bwe.WriteErrors = append(bwe.WriteErrors, mongo.BulkWriteError{
			WriteError: mongo.WriteError{Index: i, Code: c, Message: fmt.Sprintf("code %d", c)},
		})
	}
	return bwe
}

func TestOnlyDuplicateKeys(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"all duplicates", bulkErr(11000, 11000), true},
		{"legacy duplicate code", bulkErr(11001), true},
		{"mixed", bulkErr(11000, 121), false},
		{"validation only", bulkErr(121), false},
		{"wrapped duplicates", fmt.Errorf("insert: %w", bulkErr(11000)), true},
		{"write concern", mongo.BulkWriteException{
			WriteErrors:       bulkErr(11000).WriteErrors,
			WriteConcernError: &mongo.WriteConcernError{Code: 64},
		}, false},
		{"plain error", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := onlyDuplicateKeys(tt.err); got != tt.want {
				t.Errorf("onlyDuplicateKeys() = %v, want %v", got, tt.want)
			}
		})
	}
}

func ledgerEntries(ids ...string) []*domain.ProcessedEmail {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	entries := make([]*domain.ProcessedEmail, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, &domain.ProcessedEmail{
			Provider:   domain.ProviderGmail,
			AccountID:  "a1",
			UserID:     "u1",
			MessageID:  id,
			ReceivedAt: now,
			CreatedAt:  now,
		})
	}
	return entries
}

func writeErrors(codes ...int) bson.D {
	errs := make([]mtest.WriteError, 0, len(codes))
	for i, c := range codes {
		errs = append(errs, mtest.WriteError{Index: i, Code: c, Message: fmt.Sprintf("code %d", c)})
	}
	return mtest.CreateWriteErrorsResponse(errs...)
}

func TestLedgerInsertMany(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	tests := []struct {
		name     string
		response bson.D
		want     int
		wantErr  bool
	}{
		{"all new", mtest.CreateSuccessResponse(), 3, false},
		{"duplicates count as recorded", writeErrors(11000, 11000), 1, false},
		{"non-duplicate failure", writeErrors(11000, 121), 0, true},
	}

	for _, tt := range tests {
		mt.Run(tt.name, func(mt *mtest.T) {
			mt.AddMockResponses(tt.response)
			a := NewLedgerAdapter(mt.DB)

			got, err := a.InsertMany(context.Background(), ledgerEntries("m1", "m2", "m3"))
			if (err != nil) != tt.wantErr {
				mt.Fatalf("InsertMany() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				mt.Errorf("InsertMany() = %v, want %v", got, tt.want)
			}
		})
	}

	mt.Run("empty batch", func(mt *mtest.T) {
		got, err := NewLedgerAdapter(mt.DB).InsertMany(context.Background(), nil)
		if err != nil || got != 0 {
			mt.Errorf("InsertMany(nil) = %v, %v", got, err)
		}
	})
}

func TestPendingCreate(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	tests := []struct {
		name     string
		response bson.D
		wantErr  error
		wantAny  bool
	}{
		{"created", mtest.CreateSuccessResponse(), nil, false},
		{"duplicate message", writeErrors(11000), domain.ErrDuplicate, true},
		{"other write error", writeErrors(121), nil, true},
	}

	for _, tt := range tests {
		mt.Run(tt.name, func(mt *mtest.T) {
			mt.AddMockResponses(tt.response)
			a := NewPendingAdapter(mt.DB)

			item := &domain.PendingItem{UserID: "u1", AccountID: "a1", Provider: domain.ProviderGmail, MessageID: "m1"}
			err := a.Create(context.Background(), item)
			if (err != nil) != tt.wantAny {
				mt.Fatalf("Create() error = %v, want error %v", err, tt.wantAny)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				mt.Errorf("Create() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantAny && tt.wantErr == nil && errors.Is(err, domain.ErrDuplicate) {
				mt.Errorf("Create() error = %v, want a plain write failure", err)
			}
			if err == nil && (item.ID == "" || item.Status != domain.PendingOpen) {
				mt.Errorf("item = %q/%v, want id and pending status", item.ID, item.Status)
			}
		})
	}
}
