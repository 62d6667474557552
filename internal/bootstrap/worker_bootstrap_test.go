package bootstrap

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"jobsync_worker/config"
	"jobsync_worker/core/domain"
	"jobsync_worker/infra/middleware"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		Environment:        "development",
		JWTSecret:          "test-jwt-secret",
		CronSecret:         "test-cron-secret",
		RateLimitPerMinute: 100,
		DevUserID:          "dev-user",
		SyncInterval:       time.Hour,
		SyncDefaultLimit:   10,
		SyncMaxLimit:       50,
		SyncAccountTimeout: 5 * time.Second,
		ConsumerGroup:      "test",
		WorkerID:           "test-worker",
	}
}

func TestNewDependenciesInMemory(t *testing.T) {
	ctx := context.Background()
	deps, cleanup, err := NewDependencies(ctx, testConfig())
	if err != nil {
		t.Fatalf("NewDependencies() error = %v", err)
	}
	defer cleanup()

	if deps.Redis != nil || deps.DB != nil || deps.MongoDB != nil {
		t.Fatalf("expected no external clients without URLs")
	}
	if deps.Producer != nil {
		t.Errorf("Producer = %v, want nil without Redis", deps.Producer)
	}
	if deps.EventsMemory == nil {
		t.Errorf("EventsMemory = nil, want in-memory sink")
	}
	if len(deps.Fetchers) != 0 {
		t.Errorf("len(Fetchers) = %d, want 0 without client IDs", len(deps.Fetchers))
	}

	result, err := deps.Runner.Run(ctx, domain.RunRequest{Trigger: "cron"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ProcessedCount != 0 {
		t.Errorf("ProcessedCount = %d, want 0", result.ProcessedCount)
	}

	snap := deps.RunMetrics.Snapshot()
	if snap["cron"].Count != 1 {
		t.Errorf("cron runs recorded = %d, want 1", snap["cron"].Count)
	}
}

func TestNewDependenciesProductionRequiresBackends(t *testing.T) {
	cfg := testConfig()
	cfg.Environment = "production"
	cfg.EncryptionKey = "0123456789abcdef0123456789abcdef"

	if _, _, err := NewDependencies(context.Background(), cfg); err == nil {
		t.Fatalf("NewDependencies() error = nil, want missing MONGODB_URL error")
	}
}

func TestNewAPIRoutes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		t.Fatalf("NewDependencies() error = %v", err)
	}
	defer cleanup()

	app := NewAPI(ctx, cfg, deps)

	token, err := middleware.SignToken(cfg.JWTSecret, "user-1", jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}

	tests := []struct {
		name       string
		method     string
		path       string
		auth       string
		wantStatus int
	}{
		{"health", "GET", "/health", "", 200},
		{"ready without backends", "GET", "/ready", "", 200},
		{"dev token", "GET", "/dev/token", "", 200},
		{"protected without token", "GET", "/api/v1/pending", "", 401},
		{"protected with token", "GET", "/api/v1/pending", "Bearer " + token, 200},
		{"cron with secret", "GET", "/api/v1/mail/cron", "Bearer " + cfg.CronSecret, 200},
		{"cron with user token", "GET", "/api/v1/mail/cron", "Bearer " + token, 401},
		{"async trigger without redis", "POST", "/api/v1/sync/trigger?async=true", "Bearer " + token, 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				body, _ := io.ReadAll(resp.Body)
				t.Errorf("status = %d, want %d (body: %s)", resp.StatusCode, tt.wantStatus, body)
			}
		})
	}
}

func TestReadyReportsRunMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		t.Fatalf("NewDependencies() error = %v", err)
	}
	defer cleanup()

	if _, err := deps.Runner.Run(ctx, domain.RunRequest{Trigger: "schedule"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	app := NewAPI(ctx, cfg, deps)
	resp, err := app.Test(httptest.NewRequest("GET", "/ready", nil), -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status   string                     `json:"status"`
		Checks   map[string]string          `json:"checks"`
		SyncRuns map[string]json.RawMessage `json:"sync_runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if body.Checks["mongodb"] != "not configured" {
		t.Errorf("mongodb check = %q, want %q", body.Checks["mongodb"], "not configured")
	}
	if _, ok := body.SyncRuns["schedule"]; !ok {
		t.Errorf("sync_runs = %v, want a schedule entry", body.SyncRuns)
	}
}
