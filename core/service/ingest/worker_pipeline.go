package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"
	"jobsync_worker/core/service/classification"
	"jobsync_worker/pkg/logger"

	"github.com/go-pkgz/pool"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultLimit          = 10
	MaxLimit              = 50
	DefaultConcurrency    = 4
	DefaultAccountTimeout = 2 * time.Minute
	DefaultLockTTL        = 10 * time.Minute
)

// Account error codes reported in RunResult.PerAccountErrors.
const (
	CodeAuthExpired       = "auth_expired"
	CodeNotConfigured     = "provider_not_configured"
	CodeTimeout           = "timeout"
	CodeInternal          = "internal_error"
	CodeCursorWriteFailed = "cursor_write_failed"
	CodeMessageFailed     = "message_failed"
)

// Classifier judges a single message.
type Classifier interface {
	Classify(ctx context.Context, msg domain.MailMessage) *classification.Result
}

// TokenSource hands out valid access tokens.
type TokenSource interface {
	EnsureAccessToken(ctx context.Context, account *domain.MailAccount) (string, error)
}

// PolicySource resolves a user's automation policy.
type PolicySource interface {
	Get(ctx context.Context, userID string) (domain.SyncPolicy, error)
}

type Config struct {
	DefaultLimit   int
	MaxLimit       int
	MaxConcurrency int
	AccountTimeout time.Duration
	LockTTL        time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultLimit:   DefaultLimit,
		MaxLimit:       MaxLimit,
		MaxConcurrency: DefaultConcurrency,
		AccountTimeout: DefaultAccountTimeout,
		LockTTL:        DefaultLockTTL,
	}
}

// Deps are the collaborators of a Pipeline. Runs, Locker and Publisher are
// optional.
type Deps struct {
	Accounts   out.MailAccountRepository
	Tokens     TokenSource
	Fetchers   []out.MailFetcher
	Ledger     *Ledger
	Classifier Classifier
	Policies   PolicySource
	Router     *Router
	Runs       out.SyncRunRepository
	Locker     out.RunLocker
	Publisher  out.EventPublisher
}

// Pipeline is the trigger entrypoint: one Run is one pass over the selected
// mail accounts.
type Pipeline struct {
	deps     Deps
	fetchers map[domain.Provider]out.MailFetcher
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
}

func NewPipeline(deps Deps, cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.AccountTimeout <= 0 {
		cfg.AccountTimeout = def.AccountTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}

	fetchers := make(map[domain.Provider]out.MailFetcher, len(deps.Fetchers))
	for _, f := range deps.Fetchers {
		if f != nil {
			fetchers[f.Provider()] = f
		}
	}

	return &Pipeline{
		deps:     deps,
		fetchers: fetchers,
		cfg:      cfg,
		log:      logger.Zerolog("ingest"),
		now:      time.Now,
	}
}

// ClampLimit resolves the per-account batch size of a request.
func (p *Pipeline) ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return p.cfg.DefaultLimit
	case limit > p.cfg.MaxLimit:
		return p.cfg.MaxLimit
	}
	return limit
}

func lockKey(req domain.RunRequest) string {
	key := "sync:run"
	if req.Provider != "" {
		key += ":" + string(req.Provider)
	}
	if req.UserID != "" {
		key += ":" + req.UserID
	}
	return key
}

// Run fetches, deduplicates, classifies and routes the new mail of every
// matching account. Account failures are collected in the result; only a
// failure to list accounts or to take the run lock fails the run.
func (p *Pipeline) Run(ctx context.Context, req domain.RunRequest) (*domain.RunResult, error) {
	if req.Provider != "" && !req.Provider.IsValid() {
		return nil, domain.NewValidationError("provider", "must be gmail or outlook")
	}
	limit := p.ClampLimit(req.Limit)

	if p.deps.Locker != nil {
		release, err := p.deps.Locker.TryLock(ctx, lockKey(req), p.cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	result := &domain.RunResult{
		RunID:            uuid.NewString(),
		PerAccountErrors: []domain.AccountError{},
		StartedAt:        p.now().UTC(),
	}
	log := p.log.With().Str("run_id", result.RunID).Logger()
	ctx = logger.ContextWithRunID(ctx, result.RunID)

	accounts, err := p.deps.Accounts.List(ctx, out.MailAccountFilter{Provider: req.Provider, UserID: req.UserID})
	if err != nil {
		return nil, fmt.Errorf("failed to list mail accounts: %w", err)
	}
	result.Accounts = len(accounts)

	if len(accounts) > 0 {
		if err := p.fanOut(ctx, accounts, limit, result); err != nil {
			log.Warn().Err(err).Msg("account worker group reported an error")
		}
	}

	result.FinishedAt = p.now().UTC()

	log.Info().
		Int("accounts", result.Accounts).
		Int("processed", result.ProcessedCount).
		Int("skipped", result.SkippedDuplicates).
		Int("pending", result.NewPendingItems).
		Int("applied", result.AutoAppliedJobs).
		Int("errors", len(result.PerAccountErrors)).
		Dur("duration", result.FinishedAt.Sub(result.StartedAt)).
		Msg("sync run finished")

	p.saveRun(ctx, req, result)
	return result, nil
}

func (p *Pipeline) saveRun(ctx context.Context, req domain.RunRequest, result *domain.RunResult) {
	if p.deps.Runs == nil {
		return
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = "manual"
	}
	run := &domain.SyncRun{
		RunResult: *result,
		Trigger:   trigger,
		Provider:  req.Provider,
		UserID:    req.UserID,
	}
	if err := p.deps.Runs.Save(context.WithoutCancel(ctx), run); err != nil {
		p.log.Warn().Err(err).Str("run_id", result.RunID).Msg("failed to save sync run")
	}
}

// =============================================================================
// Per-account fan-out
// =============================================================================

// accountWorker processes one mail account per Do call. Errors are folded
// into the shared result so one account never stops the group.
type accountWorker struct {
	p      *Pipeline
	limit  int
	mu     sync.Mutex
	result *domain.RunResult
}

func (w *accountWorker) Do(ctx context.Context, account *domain.MailAccount) error {
	actx, cancel := context.WithTimeout(ctx, w.p.cfg.AccountTimeout)
	defer cancel()

	outcome, err := w.p.processAccount(actx, account, w.limit)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.result.Add(outcome)
	if err != nil {
		w.result.PerAccountErrors = append(w.result.PerAccountErrors, accountError(account, err))
	}
	return nil
}

func (p *Pipeline) fanOut(ctx context.Context, accounts []*domain.MailAccount, limit int, result *domain.RunResult) error {
	size := p.cfg.MaxConcurrency
	if size > len(accounts) {
		size = len(accounts)
	}

	worker := &accountWorker{p: p, limit: limit, result: result}
	group := pool.New[*domain.MailAccount](size, worker).WithContinueOnError()

	if err := group.Go(ctx); err != nil {
		return fmt.Errorf("failed to start account workers: %w", err)
	}
	for _, acc := range accounts {
		group.Submit(acc)
	}
	return group.Close(ctx)
}

func (p *Pipeline) fetcher(provider domain.Provider) (out.MailFetcher, error) {
	f, ok := p.fetchers[provider]
	if !ok {
		return nil, fmt.Errorf("%s: %w", provider, domain.ErrProviderNotConfigured)
	}
	return f, nil
}

// processAccount runs one account through fetch, ledger, classification and
// routing. Messages are handled in fetch order. The returned outcome is
// valid even when err is set.
func (p *Pipeline) processAccount(ctx context.Context, account *domain.MailAccount, limit int) (domain.AccountOutcome, error) {
	var outcome domain.AccountOutcome
	log := p.log.With().
		Str("account_id", account.ID).
		Str("provider", string(account.Provider)).
		Str("email", account.EmailAddress).
		Logger()

	fetcher, err := p.fetcher(account.Provider)
	if err != nil {
		return outcome, err
	}

	token, err := p.deps.Tokens.EnsureAccessToken(ctx, account)
	if err != nil {
		return outcome, err
	}

	batch, err := fetcher.FetchBatch(ctx, account, token, limit)
	if err != nil {
		return outcome, err
	}

	fresh, err := p.deps.Ledger.FilterNew(ctx, account.ID, batch.Messages)
	if err != nil {
		return outcome, err
	}
	outcome.SkippedDuplicates = len(batch.Messages) - len(fresh)

	if account.Provider == domain.ProviderOutlook && len(batch.Messages) >= limit && len(fresh) == len(batch.Messages) &&
		account.Cursor.LastReceivedAt != nil {
		log.Warn().
			Int("limit", limit).
			Time("previous_latest", *account.Cursor.LastReceivedAt).
			Msg("every message of a full page is new; older unprocessed mail may lie beyond the fetch window")
	}

	if err := p.deps.Ledger.RecordProcessed(ctx, account, fresh); err != nil {
		return outcome, err
	}

	policy, err := p.deps.Policies.Get(ctx, account.UserID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load sync policy, using defaults")
		policy = domain.DefaultSyncPolicy()
	}

	for _, msg := range fresh {
		outcome.Processed++

		res := p.deps.Classifier.Classify(ctx, msg)
		if !res.ShouldCreate {
			log.Debug().Str("message_id", msg.ID).Str("reason", res.Reason).Msg("message dropped")
			continue
		}

		routed, err := p.deps.Router.Dispatch(ctx, account, msg, res.Parsed, policy)
		if err != nil {
			if ctx.Err() != nil {
				return outcome, ctx.Err()
			}
			// The message is already in the ledger; report it and keep going.
			log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to route message")
			ae := accountError(account, err)
			ae.Code = CodeMessageFailed
			ae.MessageID = msg.ID
			outcome.MessageErrors = append(outcome.MessageErrors, ae)
			continue
		}

		switch {
		case routed.Job != nil:
			outcome.AutoApplied++
			p.publish(ctx, &domain.JobEvent{
				Kind:       domain.JobEventJobApplied,
				UserID:     account.UserID,
				JobID:      routed.Job.ID,
				EventType:  res.Parsed.EventType,
				Confidence: res.Parsed.Confidence,
				OccurredAt: p.now().UTC(),
			})
		case routed.Pending != nil:
			outcome.NewPending++
			p.publish(ctx, &domain.JobEvent{
				Kind:          domain.JobEventPendingCreated,
				UserID:        account.UserID,
				PendingItemID: routed.Pending.ID,
				EventType:     res.Parsed.EventType,
				Confidence:    res.Parsed.Confidence,
				OccurredAt:    p.now().UTC(),
			})
		}
	}

	cursor := batch.Cursor
	fetchedAt := p.now().UTC()
	cursor.LastFetchedAt = &fetchedAt
	if err := p.deps.Accounts.UpdateCursor(ctx, account.ID, cursor); err != nil {
		return outcome, &cursorError{err: err}
	}
	account.Cursor = cursor

	log.Debug().
		Int("fetched", len(batch.Messages)).
		Int("new", len(fresh)).
		Bool("incremental", batch.Incremental).
		Msg("account synced")

	return outcome, nil
}

func (p *Pipeline) publish(ctx context.Context, ev *domain.JobEvent) {
	if p.deps.Publisher == nil {
		return
	}
	if err := p.deps.Publisher.PublishJobEvent(ctx, ev); err != nil {
		p.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("failed to publish job event")
	}
}

type cursorError struct{ err error }

func (e *cursorError) Error() string { return "failed to save cursor: " + e.err.Error() }
func (e *cursorError) Unwrap() error { return e.err }

// accountError converts an account failure into its reported form.
func accountError(account *domain.MailAccount, err error) domain.AccountError {
	ae := domain.AccountError{
		AccountID:    account.ID,
		Provider:     account.Provider,
		EmailAddress: account.EmailAddress,
		Message:      err.Error(),
	}

	var pe *out.ProviderError
	var ce *cursorError
	switch {
	case domain.IsAuthExpired(err):
		ae.Code = CodeAuthExpired
	case errors.As(err, &pe):
		ae.Code = string(pe.Code)
	case errors.Is(err, domain.ErrProviderNotConfigured):
		ae.Code = CodeNotConfigured
	case errors.Is(err, context.DeadlineExceeded):
		ae.Code = CodeTimeout
	case errors.As(err, &ce):
		ae.Code = CodeCursorWriteFailed
	default:
		ae.Code = CodeInternal
	}
	return ae
}

// =============================================================================
// Preview
// =============================================================================

// Preview is the latest mail of a user's accounts, fetched without
// processing.
type Preview struct {
	Messages []PreviewMessage      `json:"emails"`
	Errors   []domain.AccountError `json:"errors"`
}

type PreviewMessage struct {
	domain.MailMessage
	AccountID    string `json:"accountId"`
	EmailAddress string `json:"emailAddress"`
}

// Preview reads the user's mailboxes with their stored cursors. Nothing is
// recorded and cursors are left unchanged.
func (p *Pipeline) Preview(ctx context.Context, userID string, provider domain.Provider, limit int) (*Preview, error) {
	if provider != "" && !provider.IsValid() {
		return nil, domain.NewValidationError("provider", "must be gmail or outlook")
	}
	limit = p.ClampLimit(limit)

	accounts, err := p.deps.Accounts.List(ctx, out.MailAccountFilter{Provider: provider, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list mail accounts: %w", err)
	}

	preview := &Preview{Messages: []PreviewMessage{}, Errors: []domain.AccountError{}}
	for _, acc := range accounts {
		msgs, err := p.previewAccount(ctx, acc, limit)
		if err != nil {
			preview.Errors = append(preview.Errors, accountError(acc, err))
			continue
		}
		for _, m := range msgs {
			preview.Messages = append(preview.Messages, PreviewMessage{
				MailMessage:  m,
				AccountID:    acc.ID,
				EmailAddress: acc.EmailAddress,
			})
		}
	}
	return preview, nil
}

func (p *Pipeline) previewAccount(ctx context.Context, account *domain.MailAccount, limit int) ([]domain.MailMessage, error) {
	fetcher, err := p.fetcher(account.Provider)
	if err != nil {
		return nil, err
	}
	token, err := p.deps.Tokens.EnsureAccessToken(ctx, account)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.AccountTimeout)
	defer cancel()

	batch, err := fetcher.FetchBatch(ctx, account, token, limit)
	if err != nil {
		return nil, err
	}
	return batch.Messages, nil
}
