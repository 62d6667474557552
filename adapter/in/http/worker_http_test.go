package http

import (
	"context"
	"io"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"
	"jobsync_worker/core/service/auth"
	"jobsync_worker/core/service/classification"
	"jobsync_worker/core/service/ingest"
	"jobsync_worker/core/service/job"
	"jobsync_worker/core/service/pending"
	"jobsync_worker/core/service/policy"
	"jobsync_worker/infra/middleware"
	"jobsync_worker/internal/memstore"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	jwtSecret  = "jwt-secret"
	cronSecret = "cron-secret"
)

// =============================================================================
// Fakes
// =============================================================================

type inboxFetcher struct {
	mu    sync.Mutex
	inbox map[string][]domain.MailMessage
}

func (f *inboxFetcher) Provider() domain.Provider { return domain.ProviderGmail }

func (f *inboxFetcher) FetchBatch(ctx context.Context, account *domain.MailAccount, accessToken string, limit int) (*out.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.inbox[account.ID]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return &out.FetchResult{Messages: append([]domain.MailMessage(nil), msgs...), Cursor: account.Cursor}, nil
}

// submissionClassifier stages every message as a low-confidence submission.
type submissionClassifier struct{}

func (submissionClassifier) Classify(ctx context.Context, msg domain.MailMessage) *classification.Result {
	return &classification.Result{
		ShouldCreate: true,
		Parsed: &domain.ParsedEvent{
			EventType:         domain.EventSubmission,
			Company:           "Acme",
			Position:          "Engineer",
			Confidence:        0.5,
			RecommendedAction: domain.ActionAuto,
		},
	}
}

type fakeAuthenticator struct {
	mu        sync.Mutex
	lastState string
}

func (a *fakeAuthenticator) Provider() domain.Provider { return domain.ProviderGmail }

func (a *fakeAuthenticator) AuthURL(state string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastState = state
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state)
}

func (a *fakeAuthenticator) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "access-" + code, RefreshToken: "refresh", Expiry: time.Now().Add(time.Hour)}, nil
}

func (a *fakeAuthenticator) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "refreshed", Expiry: time.Now().Add(time.Hour)}, nil
}

func (a *fakeAuthenticator) MailboxAddress(ctx context.Context, token *oauth2.Token) (string, error) {
	return "Me@Example.com", nil
}

func (a *fakeAuthenticator) state() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastState
}

// =============================================================================
// Harness
// =============================================================================

type testEnv struct {
	app      *fiber.App
	accounts *memstore.MailAccounts
	pending  *memstore.PendingItems
	jobs     *memstore.Jobs
	events   *memstore.Events
	locker   *memstore.Locker
	fetcher  *inboxFetcher
	authn    *fakeAuthenticator
}

func newTestEnv(t *testing.T, accounts ...*domain.MailAccount) *testEnv {
	t.Helper()

	env := &testEnv{
		accounts: memstore.NewMailAccounts(accounts...),
		pending:  memstore.NewPendingItems(),
		jobs:     memstore.NewJobs(),
		events:   &memstore.Events{},
		locker:   memstore.NewLocker(),
		fetcher:  &inboxFetcher{inbox: make(map[string][]domain.MailMessage)},
		authn:    &fakeAuthenticator{},
	}
	history := memstore.NewStatusHistory()
	runs := memstore.NewSyncRuns()
	policies := policy.NewService(memstore.NewPolicies(), nil)
	updater := job.NewUpdater(env.jobs, history)

	pipeline := ingest.NewPipeline(ingest.Deps{
		Accounts:   env.accounts,
		Tokens:     auth.NewTokenManager(env.accounts),
		Fetchers:   []out.MailFetcher{env.fetcher},
		Ledger:     ingest.NewLedger(memstore.NewLedger()),
		Classifier: submissionClassifier{},
		Policies:   policies,
		Router:     ingest.NewRouter(updater, env.pending),
		Runs:       runs,
		Locker:     env.locker,
		Publisher:  env.events,
	}, ingest.DefaultConfig())

	oauth := auth.NewOAuthService(env.accounts, memstore.NewOAuthStates(), env.authn)

	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(),
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	app.Use(middleware.RequestID())

	syncHandler := NewSyncHandler(pipeline, runs, env.events)
	oauthHandler := NewOAuthHandler(oauth, "")

	api := app.Group("/api/v1")
	syncHandler.RegisterCron(api, middleware.CronAuth(cronSecret))
	oauthHandler.RegisterCallback(api)

	protected := api.Group("", middleware.JWTAuth(jwtSecret))
	syncHandler.Register(protected)
	oauthHandler.Register(protected)
	NewPendingHandler(pending.NewService(env.pending, updater, env.events)).Register(protected)
	NewSettingsHandler(policies).Register(protected)
	NewJobHandler(job.NewService(env.jobs, history, updater)).Register(protected)

	env.app = app
	return env
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := middleware.SignToken(jwtSecret, userID, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, target, bearer string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(data))
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test(%s %s) error = %v", method, target, err)
	}
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func account(id, userID string) *domain.MailAccount {
	return &domain.MailAccount{
		ID:           id,
		UserID:       userID,
		Provider:     domain.ProviderGmail,
		EmailAddress: id + "@gmail.com",
		AccessToken:  "token-" + id,
	}
}

func message(id string) domain.MailMessage {
	return domain.MailMessage{
		Provider:   domain.ProviderGmail,
		ID:         id,
		From:       "jobs@acme.com",
		Subject:    "Thank you for applying",
		ReceivedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// Sync
// =============================================================================

func TestCronTrigger(t *testing.T) {
	env := newTestEnv(t, account("a1", "user-1"), account("a2", "user-2"))
	env.fetcher.inbox["a1"] = []domain.MailMessage{message("m1")}
	env.fetcher.inbox["a2"] = []domain.MailMessage{message("m2"), message("m3")}

	if status, _ := env.do(t, "POST", "/api/v1/mail/cron", "", nil); status != 401 {
		t.Errorf("without secret: status = %d, want 401", status)
	}

	status, body := env.do(t, "GET", "/api/v1/mail/cron?token="+cronSecret, "", nil)
	if status != 200 {
		t.Fatalf("status = %d, want 200: %s", status, body)
	}
	res := decode[domain.RunResult](t, body)
	if res.ProcessedCount != 3 || res.NewPendingItems != 3 || res.Accounts != 2 {
		t.Errorf("result = %+v, want 3 processed, 3 pending over 2 accounts", res)
	}
	if res.PerAccountErrors == nil {
		t.Errorf("perAccountErrors is null, want []")
	}

	status, body = env.do(t, "POST", "/api/v1/mail/cron", cronSecret, nil)
	if status != 200 {
		t.Fatalf("second run: status = %d", status)
	}
	res = decode[domain.RunResult](t, body)
	if res.ProcessedCount != 0 || res.SkippedDuplicates != 3 {
		t.Errorf("second run = %+v, want 0 processed, 3 skipped", res)
	}
}

func TestTriggerIsScopedToCaller(t *testing.T) {
	env := newTestEnv(t, account("a1", "user-1"), account("a2", "user-2"))
	env.fetcher.inbox["a1"] = []domain.MailMessage{message("m1")}
	env.fetcher.inbox["a2"] = []domain.MailMessage{message("m2")}

	status, body := env.do(t, "POST", "/api/v1/sync/trigger", token(t, "user-1"), map[string]any{"limit": 5})
	if status != 200 {
		t.Fatalf("status = %d, want 200: %s", status, body)
	}
	res := decode[domain.RunResult](t, body)
	if res.Accounts != 1 || res.ProcessedCount != 1 {
		t.Errorf("result = %+v, want 1 account, 1 processed", res)
	}

	status, body = env.do(t, "GET", "/api/v1/sync/runs", token(t, "user-1"), nil)
	if status != 200 {
		t.Fatalf("runs: status = %d", status)
	}
	runs := decode[struct {
		Runs []domain.SyncRun `json:"runs"`
	}](t, body)
	if len(runs.Runs) != 1 || runs.Runs[0].Trigger != "manual" {
		t.Errorf("runs = %+v, want one manual run", runs.Runs)
	}

	status, body = env.do(t, "GET", "/api/v1/sync/runs", token(t, "user-2"), nil)
	if status != 200 {
		t.Fatalf("runs: status = %d", status)
	}
	if got := decode[struct {
		Runs []domain.SyncRun `json:"runs"`
	}](t, body); len(got.Runs) != 0 {
		t.Errorf("user-2 sees %d runs, want 0", len(got.Runs))
	}
}

func TestTriggerAsync(t *testing.T) {
	env := newTestEnv(t, account("a1", "user-1"))

	status, _ := env.do(t, "POST", "/api/v1/sync/trigger?async=true&provider=google", token(t, "user-1"), nil)
	if status != 202 {
		t.Fatalf("status = %d, want 202", status)
	}
	if len(env.events.Triggers) != 1 {
		t.Fatalf("published %d triggers, want 1", len(env.events.Triggers))
	}
	got := env.events.Triggers[0]
	if got.UserID != "user-1" || got.Provider != domain.ProviderGmail {
		t.Errorf("trigger = %+v, want user-1 gmail", got)
	}
}

func TestTriggerErrors(t *testing.T) {
	env := newTestEnv(t, account("a1", "user-1"))

	release, err := env.locker.TryLock(context.Background(), "sync:run:user-1", time.Minute)
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	defer release()

	tests := []struct {
		name       string
		target     string
		bearer     string
		wantStatus int
	}{
		{name: "locked", target: "/api/v1/sync/trigger", bearer: token(t, "user-1"), wantStatus: 409},
		{name: "bad provider", target: "/api/v1/sync/trigger?provider=yahoo", bearer: token(t, "user-1"), wantStatus: 400},
		{name: "no token", target: "/api/v1/sync/trigger", wantStatus: 401},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status, body := env.do(t, "POST", tt.target, tt.bearer, nil); status != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", status, tt.wantStatus, body)
			}
		})
	}
}

func TestMailPreview(t *testing.T) {
	env := newTestEnv(t, account("a1", "user-1"))
	env.fetcher.inbox["a1"] = []domain.MailMessage{message("m1"), message("m2")}

	status, body := env.do(t, "GET", "/api/v1/mail?limit=1", token(t, "user-1"), nil)
	if status != 200 {
		t.Fatalf("status = %d: %s", status, body)
	}
	preview := decode[ingest.Preview](t, body)
	if len(preview.Messages) != 1 || preview.Messages[0].AccountID != "a1" {
		t.Errorf("messages = %+v, want one message from a1", preview.Messages)
	}
	staged, _ := env.pending.List(context.Background(), out.PendingFilter{UserID: "user-1"})
	if len(staged) != 0 {
		t.Errorf("preview staged %d items, want 0", len(staged))
	}
}

// =============================================================================
// Pending
// =============================================================================

func TestPendingResolve(t *testing.T) {
	env := newTestEnv(t, account("a1", "user-1"))
	env.fetcher.inbox["a1"] = []domain.MailMessage{message("m1"), message("m2")}
	if status, _ := env.do(t, "POST", "/api/v1/mail/cron", cronSecret, nil); status != 200 {
		t.Fatalf("cron status = %d", status)
	}

	status, body := env.do(t, "GET", "/api/v1/pending", token(t, "user-1"), nil)
	if status != 200 {
		t.Fatalf("list status = %d", status)
	}
	items := decode[struct {
		Items []domain.PendingItem `json:"items"`
	}](t, body).Items
	if len(items) != 2 {
		t.Fatalf("pending items = %d, want 2", len(items))
	}
	first, second := items[0].ID, items[1].ID

	tests := []struct {
		name       string
		id         string
		bearer     string
		body       map[string]any
		wantStatus int
	}{
		{name: "other user", id: first, bearer: token(t, "user-2"), body: map[string]any{"action": "ignore"}, wantStatus: 403},
		{name: "unknown action", id: first, bearer: token(t, "user-1"), body: map[string]any{"action": "archive"}, wantStatus: 400},
		{name: "bad confidence", id: first, bearer: token(t, "user-1"), body: map[string]any{"action": "accept", "updates": map[string]any{"confidence": 2}}, wantStatus: 400},
		{name: "accept with edits", id: first, bearer: token(t, "user-1"), body: map[string]any{"action": "accept", "updates": map[string]any{"company": "Globex"}}, wantStatus: 200},
		{name: "accept twice", id: first, bearer: token(t, "user-1"), body: map[string]any{"action": "accept"}, wantStatus: 409},
		{name: "ignore", id: second, bearer: token(t, "user-1"), body: map[string]any{"action": "ignore"}, wantStatus: 200},
		{name: "missing", id: "nope", bearer: token(t, "user-1"), body: map[string]any{"action": "ignore"}, wantStatus: 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status, body := env.do(t, "PATCH", "/api/v1/pending/"+tt.id, tt.bearer, tt.body); status != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", status, tt.wantStatus, body)
			}
		})
	}

	jobs, _ := env.jobs.ListByUser(context.Background(), "user-1")
	if len(jobs) != 1 || jobs[0].Company != "Globex" {
		t.Errorf("jobs = %+v, want one Globex job", jobs)
	}

	status, body = env.do(t, "POST", "/api/v1/pending/clear", token(t, "user-1"), map[string]any{"status": "all"})
	if status != 200 {
		t.Fatalf("clear status = %d: %s", status, body)
	}
	if got := decode[struct {
		Deleted int64 `json:"deleted"`
	}](t, body).Deleted; got != 2 {
		t.Errorf("deleted = %d, want 2", got)
	}
}

// =============================================================================
// Settings
// =============================================================================

func TestSyncSettings(t *testing.T) {
	env := newTestEnv(t)
	bearer := token(t, "user-1")

	status, body := env.do(t, "GET", "/api/v1/sync-settings", bearer, nil)
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	if got := decode[domain.SyncPolicy](t, body); got != domain.DefaultSyncPolicy() {
		t.Errorf("default policy = %+v, want %+v", got, domain.DefaultSyncPolicy())
	}

	if status, _ := env.do(t, "PUT", "/api/v1/sync-settings", bearer, map[string]any{"autoThreshold": 1.5}); status != 400 {
		t.Errorf("invalid threshold: status = %d, want 400", status)
	}

	status, body = env.do(t, "PUT", "/api/v1/sync-settings", bearer, map[string]any{"mode": "auto"})
	if status != 200 {
		t.Fatalf("update status = %d: %s", status, body)
	}
	want := domain.SyncPolicy{Mode: domain.SyncModeAuto, AutoThreshold: domain.DefaultAutoThreshold}
	if got := decode[domain.SyncPolicy](t, body); got != want {
		t.Errorf("policy = %+v, want %+v", got, want)
	}
}

// =============================================================================
// Jobs
// =============================================================================

func TestStatusHistory(t *testing.T) {
	env := newTestEnv(t)
	j := &domain.Job{UserID: "user-1", Company: "Acme", Position: "Engineer", Status: domain.JobApplied}
	if err := env.jobs.Create(context.Background(), j); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	bearer := token(t, "user-1")
	base := "/api/v1/jobs/" + j.ID + "/status-history"

	status, body := env.do(t, "POST", base, bearer, map[string]any{"status": "offer"})
	if status != 201 {
		t.Fatalf("add status = %d: %s", status, body)
	}
	added := decode[struct {
		Entry domain.StatusHistory `json:"entry"`
		Job   domain.Job           `json:"job"`
	}](t, body)
	if added.Job.Status != domain.JobOffer {
		t.Errorf("job status = %s, want offer", added.Job.Status)
	}

	status, body = env.do(t, "PUT", base+"/"+added.Entry.ID, bearer, map[string]any{"status": "rejected"})
	if status != 200 {
		t.Fatalf("edit status = %d: %s", status, body)
	}

	status, body = env.do(t, "GET", base, bearer, nil)
	if status != 200 {
		t.Fatalf("list status = %d", status)
	}
	if got := decode[struct {
		History []domain.StatusHistory `json:"history"`
	}](t, body).History; len(got) != 1 || got[0].Status != domain.JobRejected {
		t.Errorf("history = %+v, want one rejected entry", got)
	}

	if status, _ := env.do(t, "GET", base, token(t, "user-2"), nil); status != 403 {
		t.Errorf("other user: status = %d, want 403", status)
	}
	if status, _ := env.do(t, "POST", base, bearer, map[string]any{"status": "hired"}); status != 400 {
		t.Errorf("invalid status: status = %d, want 400", status)
	}

	status, body = env.do(t, "DELETE", base+"/"+added.Entry.ID, bearer, nil)
	if status != 200 {
		t.Fatalf("delete status = %d: %s", status, body)
	}
	if got := decode[struct {
		Job domain.Job `json:"job"`
	}](t, body).Job; got.Status != domain.JobRejected {
		t.Errorf("status after deleting last entry = %s, want stored rejected", got.Status)
	}

	if status, _ := env.do(t, "GET", "/api/v1/jobs/missing", bearer, nil); status != 404 {
		t.Errorf("missing job: status = %d, want 404", status)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, "GET", "/api/v1/stats?days=500", token(t, "user-1"), nil)
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	if got := decode[job.Stats](t, body); got.Days != job.MaxStatsDays {
		t.Errorf("days = %d, want %d", got.Days, job.MaxStatsDays)
	}
}

// =============================================================================
// OAuth
// =============================================================================

func TestOAuthConnectFlow(t *testing.T) {
	env := newTestEnv(t)
	bearer := token(t, "user-1")

	status, body := env.do(t, "GET", "/api/v1/oauth/google/connect", bearer, nil)
	if status != 200 {
		t.Fatalf("connect status = %d: %s", status, body)
	}
	state := env.authn.state()
	if state == "" || !strings.Contains(string(body), url.QueryEscape(state)) {
		t.Fatalf("auth_url does not carry the issued state: %s", body)
	}

	if status, _ := env.do(t, "GET", "/api/v1/oauth/google/callback?code=c1&state=forged", "", nil); status != 400 {
		t.Errorf("forged state: status = %d, want 400", status)
	}

	status, body = env.do(t, "GET", "/api/v1/oauth/google/callback?code=c1&state="+url.QueryEscape(state), "", nil)
	if status != 200 {
		t.Fatalf("callback status = %d: %s", status, body)
	}
	if strings.Contains(string(body), "access-c1") || strings.Contains(string(body), "refresh") {
		t.Errorf("callback response leaks tokens: %s", body)
	}

	if status, _ := env.do(t, "GET", "/api/v1/oauth/google/callback?code=c1&state="+url.QueryEscape(state), "", nil); status != 400 {
		t.Errorf("replayed state: status = %d, want 400", status)
	}

	status, body = env.do(t, "GET", "/api/v1/mail/accounts", bearer, nil)
	if status != 200 {
		t.Fatalf("list status = %d", status)
	}
	accounts := decode[struct {
		Accounts []domain.MailAccount `json:"accounts"`
	}](t, body).Accounts
	if len(accounts) != 1 || accounts[0].EmailAddress != "me@example.com" {
		t.Fatalf("accounts = %+v, want me@example.com", accounts)
	}

	if status, _ := env.do(t, "DELETE", "/api/v1/mail/accounts/"+accounts[0].ID, token(t, "user-2"), nil); status != 403 {
		t.Errorf("foreign disconnect: status = %d, want 403", status)
	}
	if status, _ := env.do(t, "DELETE", "/api/v1/mail/accounts/"+accounts[0].ID, bearer, nil); status != 204 {
		t.Errorf("disconnect: status = %d, want 204", status)
	}
}

func TestOAuthCallbackDenied(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, "GET", "/api/v1/oauth/google/callback?error=access_denied", "", nil)
	if status != 502 {
		t.Errorf("status = %d, want 502: %s", status, body)
	}
	if status, _ := env.do(t, "GET", "/api/v1/oauth/yahoo/connect", token(t, "user-1"), nil); status != 400 {
		t.Errorf("unknown provider: status = %d, want 400", status)
	}
}
