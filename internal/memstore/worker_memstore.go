// Package memstore holds in-memory implementations of the outbound ports.
// Services are tested against it, and -mode=dev runs on it when no database
// is configured.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"

	"github.com/google/uuid"
)

// =============================================================================
// Mail Accounts
// =============================================================================

type MailAccounts struct {
	mu       sync.Mutex
	accounts map[string]domain.MailAccount
	order    []string
}

func NewMailAccounts(accounts ...*domain.MailAccount) *MailAccounts {
	s := &MailAccounts{accounts: make(map[string]domain.MailAccount)}
	for _, a := range accounts {
		s.Upsert(context.Background(), a)
	}
	return s
}

func (s *MailAccounts) List(ctx context.Context, filter out.MailAccountFilter) ([]*domain.MailAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []*domain.MailAccount
	for _, id := range s.order {
		a := s.accounts[id]
		if filter.Provider != "" && a.Provider != filter.Provider {
			continue
		}
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		res = append(res, &a)
	}
	return res, nil
}

func (s *MailAccounts) GetByID(ctx context.Context, id string) (*domain.MailAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (s *MailAccounts) Upsert(ctx context.Context, account *domain.MailAccount) (*domain.MailAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := *account
	a.EmailAddress = domain.NormalizeEmail(a.EmailAddress)
	now := time.Now().UTC()

	for _, id := range s.order {
		existing := s.accounts[id]
		if existing.Provider == a.Provider && existing.UserID == a.UserID && existing.EmailAddress == a.EmailAddress {
			a.ID = existing.ID
			a.CreatedAt = existing.CreatedAt
			a.UpdatedAt = now
			s.accounts[id] = a
			return &a, nil
		}
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = now
	a.UpdatedAt = now
	s.accounts[a.ID] = a
	s.order = append(s.order, a.ID)
	return &a, nil
}

func (s *MailAccounts) UpdateToken(ctx context.Context, id string, accessToken, refreshToken string, expiresAt *time.Time, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.AccessToken = accessToken
	if refreshToken != "" {
		a.RefreshToken = refreshToken
	}
	a.ExpiresAt = expiresAt
	if scope != "" {
		a.Scope = scope
	}
	a.UpdatedAt = time.Now().UTC()
	s.accounts[id] = a
	return nil
}

func (s *MailAccounts) UpdateCursor(ctx context.Context, id string, cursor domain.MailCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Cursor = cursor
	a.UpdatedAt = time.Now().UTC()
	s.accounts[id] = a
	return nil
}

func (s *MailAccounts) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.accounts, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// =============================================================================
// Ledger
// =============================================================================

type Ledger struct {
	mu      sync.Mutex
	entries map[string]domain.ProcessedEmail
}

func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]domain.ProcessedEmail)}
}

func ledgerKey(accountID, messageID string) string {
	return accountID + "\x00" + messageID
}

func (l *Ledger) ExistingIDs(ctx context.Context, accountID string, messageIDs []string) (map[string]struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	found := make(map[string]struct{})
	for _, id := range messageIDs {
		if _, ok := l.entries[ledgerKey(accountID, id)]; ok {
			found[id] = struct{}{}
		}
	}
	return found, nil
}

func (l *Ledger) InsertMany(ctx context.Context, entries []*domain.ProcessedEmail) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inserted := 0
	for _, e := range entries {
		k := ledgerKey(e.AccountID, e.MessageID)
		if _, ok := l.entries[k]; ok {
			continue
		}
		l.entries[k] = *e
		inserted++
	}
	return inserted, nil
}

// Len is the number of recorded messages.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// =============================================================================
// Pending Items
// =============================================================================

type PendingItems struct {
	mu    sync.Mutex
	items map[string]domain.PendingItem
	order []string
}

func NewPendingItems() *PendingItems {
	return &PendingItems{items: make(map[string]domain.PendingItem)}
}

func (s *PendingItems) Create(ctx context.Context, item *domain.PendingItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.items {
		if existing.UserID == item.UserID && existing.MessageID == item.MessageID && existing.Provider == item.Provider {
			return domain.ErrDuplicate
		}
	}

	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = domain.PendingOpen
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	s.items[item.ID] = *item
	s.order = append(s.order, item.ID)
	return nil
}

func (s *PendingItems) GetByID(ctx context.Context, id string) (*domain.PendingItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &it, nil
}

// List returns newest first.
func (s *PendingItems) List(ctx context.Context, filter out.PendingFilter) ([]*domain.PendingItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []*domain.PendingItem
	for i := len(s.order) - 1; i >= 0; i-- {
		it, ok := s.items[s.order[i]]
		if !ok {
			continue
		}
		if filter.UserID != "" && it.UserID != filter.UserID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, it.Status) {
			continue
		}
		res = append(res, &it)
		if filter.Limit > 0 && len(res) == filter.Limit {
			break
		}
	}
	return res, nil
}

func (s *PendingItems) Transition(ctx context.Context, item *domain.PendingItem, to domain.PendingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[item.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != domain.PendingOpen {
		return domain.ErrNotPending
	}

	item.Status = to
	item.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = *item
	return nil
}

func (s *PendingItems) Update(ctx context.Context, item *domain.PendingItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.ID]; !ok {
		return domain.ErrNotFound
	}
	item.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = *item
	return nil
}

func (s *PendingItems) DeleteByStatus(ctx context.Context, userID string, statuses []domain.PendingStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, it := range s.items {
		if it.UserID == userID && containsStatus(statuses, it.Status) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

func containsStatus(list []domain.PendingStatus, s domain.PendingStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// =============================================================================
// Jobs
// =============================================================================

type Jobs struct {
	mu    sync.Mutex
	jobs  map[string]domain.Job
	order []string
}

func NewJobs(jobs ...*domain.Job) *Jobs {
	s := &Jobs{jobs: make(map[string]domain.Job)}
	for _, j := range jobs {
		s.Create(context.Background(), j)
	}
	return s
}

func (s *Jobs) FindOne(ctx context.Context, match domain.JobMatch) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		j := s.jobs[id]
		if j.UserID != match.UserID {
			continue
		}
		if match.Company != "" && j.Company != match.Company {
			continue
		}
		if match.Position != "" && j.Position != match.Position {
			continue
		}
		return &j, nil
	}
	return nil, domain.ErrNotFound
}

func (s *Jobs) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &j, nil
}

func (s *Jobs) ListByUser(ctx context.Context, userID string) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []*domain.Job
	for _, id := range s.order {
		if j := s.jobs[id]; j.UserID == userID {
			res = append(res, &j)
		}
	}
	return res, nil
}

func (s *Jobs) Create(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	s.jobs[job.ID] = *job
	s.order = append(s.order, job.ID)
	return nil
}

func (s *Jobs) Update(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return domain.ErrNotFound
	}
	s.jobs[job.ID] = *job
	return nil
}

// =============================================================================
// Status History
// =============================================================================

type StatusHistory struct {
	mu      sync.Mutex
	entries map[string]domain.StatusHistory
}

func NewStatusHistory() *StatusHistory {
	return &StatusHistory{entries: make(map[string]domain.StatusHistory)}
}

func (s *StatusHistory) Create(ctx context.Context, entry *domain.StatusHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.entries[entry.ID] = *entry
	return nil
}

func (s *StatusHistory) GetByID(ctx context.Context, id string) (*domain.StatusHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

// ListByJob returns entries oldest first by date.
func (s *StatusHistory) ListByJob(ctx context.Context, jobID string) ([]*domain.StatusHistory, error) {
	return s.list(func(e domain.StatusHistory) bool { return e.JobID == jobID }), nil
}

func (s *StatusHistory) ListByUserSince(ctx context.Context, userID string, since time.Time) ([]*domain.StatusHistory, error) {
	return s.list(func(e domain.StatusHistory) bool {
		return e.UserID == userID && !e.Date.Before(since)
	}), nil
}

func (s *StatusHistory) list(keep func(domain.StatusHistory) bool) []*domain.StatusHistory {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []*domain.StatusHistory
	for _, e := range s.entries {
		if keep(e) {
			e := e
			res = append(res, &e)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Date.Equal(res[j].Date) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].Date.Before(res[j].Date)
	})
	return res
}

func (s *StatusHistory) Update(ctx context.Context, entry *domain.StatusHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.ID]; !ok {
		return domain.ErrNotFound
	}
	s.entries[entry.ID] = *entry
	return nil
}

func (s *StatusHistory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

// =============================================================================
// Policies, Runs, Locks, Events
// =============================================================================

type Policies struct {
	mu       sync.Mutex
	policies map[string]domain.SyncPolicy
}

func NewPolicies() *Policies {
	return &Policies{policies: make(map[string]domain.SyncPolicy)}
}

func (s *Policies) GetPolicy(ctx context.Context, userID string) (*domain.SyncPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Policies) SavePolicy(ctx context.Context, userID string, p domain.SyncPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[userID] = p
	return nil
}

type SyncRuns struct {
	mu   sync.Mutex
	runs []domain.SyncRun
}

func NewSyncRuns() *SyncRuns {
	return &SyncRuns{}
}

func (s *SyncRuns) Save(ctx context.Context, run *domain.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

func (s *SyncRuns) ListRecent(ctx context.Context, userID string, limit int) ([]*domain.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []*domain.SyncRun
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		if userID != "" && r.UserID != userID {
			continue
		}
		res = append(res, &r)
		if limit > 0 && len(res) == limit {
			break
		}
	}
	return res, nil
}

// Locker is a process-local RunLocker.
type Locker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocker() *Locker {
	return &Locker{held: make(map[string]bool)}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] {
		return nil, domain.ErrRunInProgress
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

// Events records everything published to it.
type Events struct {
	mu       sync.Mutex
	Jobs     []domain.JobEvent
	Triggers []domain.RunRequest
}

func (e *Events) PublishJobEvent(ctx context.Context, event *domain.JobEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Jobs = append(e.Jobs, *event)
	return nil
}

func (e *Events) PublishSyncTrigger(ctx context.Context, req *domain.RunRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Triggers = append(e.Triggers, *req)
	return nil
}

// JobEvents returns a snapshot of published job events.
func (e *Events) JobEvents() []domain.JobEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.JobEvent(nil), e.Jobs...)
}

// OAuthStates is a process-local OAuthStateStore.
type OAuthStates struct {
	mu     sync.Mutex
	states map[string]oauthState
}

type oauthState struct {
	userID    string
	expiresAt time.Time
}

func NewOAuthStates() *OAuthStates {
	return &OAuthStates{states: make(map[string]oauthState)}
}

func (s *OAuthStates) StoreState(ctx context.Context, state, userID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state] = oauthState{userID: userID, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *OAuthStates) ConsumeState(ctx context.Context, state string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[state]
	delete(s.states, state)
	if !ok || time.Now().After(st.expiresAt) {
		return "", domain.ErrNotFound
	}
	return st.userID, nil
}

var (
	_ out.MailAccountRepository   = (*MailAccounts)(nil)
	_ out.LedgerRepository        = (*Ledger)(nil)
	_ out.PendingItemRepository   = (*PendingItems)(nil)
	_ out.JobRepository           = (*Jobs)(nil)
	_ out.StatusHistoryRepository = (*StatusHistory)(nil)
	_ out.SyncPolicyRepository    = (*Policies)(nil)
	_ out.SyncRunRepository       = (*SyncRuns)(nil)
	_ out.RunLocker               = (*Locker)(nil)
	_ out.EventPublisher          = (*Events)(nil)
	_ out.OAuthStateStore         = (*OAuthStates)(nil)
)
