package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"jobsync_worker/adapter/out/messaging"
	"jobsync_worker/core/domain"
)

type recordingRunner struct {
	mu   sync.Mutex
	reqs []domain.RunRequest
	err  error
}

func (r *recordingRunner) Run(ctx context.Context, req domain.RunRequest) (*domain.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return nil, r.err
	}
	return &domain.RunResult{RunID: "run-1", PerAccountErrors: []domain.AccountError{}}, nil
}

func (r *recordingRunner) calls() []domain.RunRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RunRequest(nil), r.reqs...)
}

func TestDispatcherHandle(t *testing.T) {
	tests := []struct {
		name      string
		stream    string
		data      string
		runErr    error
		wantErr   bool
		wantCalls int
		wantReq   domain.RunRequest
	}{
		{
			name:      "sync trigger",
			stream:    messaging.StreamSyncTrigger,
			data:      `{"provider":"gmail","user_id":"user-1","limit":5,"trigger":"manual"}`,
			wantCalls: 1,
			wantReq:   domain.RunRequest{Provider: domain.ProviderGmail, UserID: "user-1", Limit: 5, Trigger: "manual"},
		},
		{
			name:      "trigger defaults to queue",
			stream:    messaging.StreamSyncTrigger,
			data:      `{"user_id":"user-2"}`,
			wantCalls: 1,
			wantReq:   domain.RunRequest{UserID: "user-2", Trigger: "queue"},
		},
		{name: "malformed payload is dropped", stream: messaging.StreamSyncTrigger, data: `{`, wantCalls: 0},
		{name: "locked run is dropped", stream: messaging.StreamSyncTrigger, data: `{}`, runErr: domain.ErrRunInProgress, wantCalls: 1, wantReq: domain.RunRequest{Trigger: "queue"}},
		{name: "run failure is retried", stream: messaging.StreamSyncTrigger, data: `{}`, runErr: errors.New("mongo down"), wantErr: true, wantCalls: 1, wantReq: domain.RunRequest{Trigger: "queue"}},
		{name: "unknown stream", stream: "other", data: `{}`, wantCalls: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &recordingRunner{err: tt.runErr}
			d := NewDispatcher(runner)

			err := d.Handle(context.Background(), tt.stream, []byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Handle() error = %v, wantErr %v", err, tt.wantErr)
			}

			calls := runner.calls()
			if len(calls) != tt.wantCalls {
				t.Fatalf("Run called %d times, want %d", len(calls), tt.wantCalls)
			}
			if tt.wantCalls > 0 && calls[0] != tt.wantReq {
				t.Errorf("request = %+v, want %+v", calls[0], tt.wantReq)
			}
		})
	}
}

func TestSchedulerRunsPeriodically(t *testing.T) {
	runner := &recordingRunner{}
	s := NewScheduler(runner, 20*time.Millisecond, time.Second)
	s.SetStartupDelay(0)
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for len(runner.calls()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	calls := runner.calls()
	if len(calls) < 2 {
		t.Fatalf("Run called %d times, want at least 2", len(calls))
	}
	for _, req := range calls {
		if req.Trigger != "schedule" || req.UserID != "" || req.Provider != "" {
			t.Errorf("request = %+v, want an all-accounts schedule run", req)
		}
	}
}

func TestSchedulerStopBeforeFirstRun(t *testing.T) {
	runner := &recordingRunner{}
	s := NewScheduler(runner, time.Hour, time.Second)
	s.Start()
	s.Stop()

	if n := len(runner.calls()); n != 0 {
		t.Errorf("Run called %d times, want 0", n)
	}
}
