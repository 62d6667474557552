package persistence

import (
	"testing"
	"time"

	"jobsync_worker/core/domain"
)

func TestSyncRunEntity(t *testing.T) {
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		run       *domain.SyncRun
		wantCodes []string
	}{
		{
			name: "cron run without errors",
			run: &domain.SyncRun{
				RunResult: domain.RunResult{RunID: "r1", ProcessedCount: 3, StartedAt: started, FinishedAt: started.Add(time.Second)},
				Trigger:   "cron",
			},
			wantCodes: []string{},
		},
		{
			name: "user run with account errors",
			run: &domain.SyncRun{
				RunResult: domain.RunResult{
					RunID: "r2",
					PerAccountErrors: []domain.AccountError{
						{AccountID: "a1", Provider: domain.ProviderGmail, Code: "auth_expired", Message: "reconnect"},
						{AccountID: "a2", Provider: domain.ProviderOutlook, Code: "rate_limit"},
					},
					StartedAt:  started,
					FinishedAt: started,
				},
				Trigger:  "manual",
				Provider: domain.ProviderGmail,
				UserID:   "user-1",
			},
			wantCodes: []string{"auth_expired", "rate_limit"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entity, err := toSyncRunEntity(tt.run)
			if err != nil {
				t.Fatalf("toSyncRunEntity() error = %v", err)
			}

			if len(entity.ErrorCodes) != len(tt.wantCodes) {
				t.Fatalf("ErrorCodes = %v, want %v", entity.ErrorCodes, tt.wantCodes)
			}
			for i, c := range tt.wantCodes {
				if entity.ErrorCodes[i] != c {
					t.Errorf("ErrorCodes[%d] = %s, want %s", i, entity.ErrorCodes[i], c)
				}
			}
			if entity.UserID.Valid != (tt.run.UserID != "") {
				t.Errorf("UserID.Valid = %v, want %v", entity.UserID.Valid, tt.run.UserID != "")
			}

			back, err := entity.toDomain()
			if err != nil {
				t.Fatalf("toDomain() error = %v", err)
			}
			if back.PerAccountErrors == nil {
				t.Fatalf("PerAccountErrors is nil, want empty slice")
			}
			if len(back.PerAccountErrors) != len(tt.run.PerAccountErrors) {
				t.Errorf("len(PerAccountErrors) = %d, want %d", len(back.PerAccountErrors), len(tt.run.PerAccountErrors))
			}
			if back.UserID != tt.run.UserID || back.Provider != tt.run.Provider {
				t.Errorf("UserID, Provider = %q, %q, want %q, %q", back.UserID, back.Provider, tt.run.UserID, tt.run.Provider)
			}
		})
	}
}
