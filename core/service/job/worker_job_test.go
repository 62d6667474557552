package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/internal/memstore"
)

var received = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestUpdater() (*Updater, *memstore.Jobs, *memstore.StatusHistory) {
	jobs := memstore.NewJobs()
	history := memstore.NewStatusHistory()
	return NewUpdater(jobs, history), jobs, history
}

func TestApplyEventStatusMapping(t *testing.T) {
	tests := []struct {
		eventType domain.EventType
		want      domain.JobStatus
	}{
		{domain.EventSubmission, domain.JobApplied},
		{domain.EventOA, domain.JobInterviewing},
		{domain.EventInterview, domain.JobInterviewing},
		{domain.EventRejection, domain.JobRejected},
		{domain.EventOffer, domain.JobOffer},
		{domain.EventOther, domain.JobApplied},
		{domain.EventType("mystery"), domain.JobApplied},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			u, _, history := newTestUpdater()

			job, err := u.ApplyEvent(context.Background(), EventInput{
				UserID:     "u1",
				Company:    "Acme",
				Position:   "Engineer",
				EventType:  tt.eventType,
				OccurredAt: received,
			})
			if err != nil {
				t.Fatalf("ApplyEvent() error = %v", err)
			}
			if job.Status != tt.want {
				t.Errorf("Status = %v, want %v", job.Status, tt.want)
			}

			entries, _ := history.ListByJob(context.Background(), job.ID)
			if len(entries) != 1 || entries[0].Status != tt.want {
				t.Errorf("history = %+v, want one %v entry", entries, tt.want)
			}
		})
	}
}

func TestApplyEventPlaceholders(t *testing.T) {
	tests := []struct {
		name         string
		company      string
		position     string
		wantCompany  string
		wantPosition string
	}{
		{"both missing", "", "", domain.UnknownCompany, domain.UnknownPosition},
		{"company only", "Acme", "", "Acme", domain.UnknownPosition},
		{"position only", "", "Engineer", domain.UnknownCompany, "Engineer"},
		{"whitespace", "  ", " Engineer ", domain.UnknownCompany, "Engineer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, _, _ := newTestUpdater()

			job, err := u.ApplyEvent(context.Background(), EventInput{
				UserID:     "u1",
				Company:    tt.company,
				Position:   tt.position,
				EventType:  domain.EventSubmission,
				Subject:    "Thanks for applying",
				OccurredAt: received,
			})
			if err != nil {
				t.Fatalf("ApplyEvent() error = %v", err)
			}
			if job.Company != tt.wantCompany || job.Position != tt.wantPosition {
				t.Errorf("job = %q/%q, want %q/%q", job.Company, job.Position, tt.wantCompany, tt.wantPosition)
			}
			if job.Source != domain.SourceEmail {
				t.Errorf("Source = %q, want %q", job.Source, domain.SourceEmail)
			}
			if job.Notes != "Thanks for applying" {
				t.Errorf("Notes = %q", job.Notes)
			}
			if !job.DateApplied.Equal(received) {
				t.Errorf("DateApplied = %v, want %v", job.DateApplied, received)
			}
		})
	}
}

func TestApplyEventFindsExistingJob(t *testing.T) {
	u, jobs, history := newTestUpdater()
	ctx := context.Background()

	existing := &domain.Job{UserID: "u1", Company: "Acme", Position: "Engineer", Status: domain.JobInterviewing}
	jobs.Create(ctx, existing)
	history.Create(ctx, &domain.StatusHistory{
		JobID: existing.ID, UserID: "u1", Status: domain.JobInterviewing,
		Date: received.Add(-48 * time.Hour), CreatedAt: received.Add(-48 * time.Hour),
	})

	job, err := u.ApplyEvent(ctx, EventInput{
		UserID:     "u1",
		Company:    "Acme",
		EventType:  domain.EventOffer,
		Subject:    "Offer letter",
		Snippet:    "We are pleased to extend an offer",
		OccurredAt: received,
	})
	if err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}
	if job.ID != existing.ID {
		t.Errorf("job id = %v, want existing %v", job.ID, existing.ID)
	}

	stored, _ := jobs.GetByID(ctx, existing.ID)
	if stored.Status != domain.JobOffer {
		t.Errorf("stored Status = %v, want offer", stored.Status)
	}
	if stored.Notes != "Offer letter" {
		t.Errorf("Notes = %q, want subject on empty notes", stored.Notes)
	}

	entries, _ := history.ListByJob(ctx, existing.ID)
	if len(entries) != 2 {
		t.Fatalf("history entries = %v, want 2", len(entries))
	}
	last := entries[len(entries)-1]
	if last.Notes != "We are pleased to extend an offer" || !last.Date.Equal(received) {
		t.Errorf("new entry = %+v", last)
	}

	other, _ := jobs.ListByUser(ctx, "u1")
	if len(other) != 1 {
		t.Errorf("jobs = %v, want 1", len(other))
	}
}

func TestApplyEventKeepsExistingNotes(t *testing.T) {
	u, jobs, _ := newTestUpdater()
	ctx := context.Background()

	jobs.Create(ctx, &domain.Job{UserID: "u1", Company: "Acme", Position: "Engineer", Notes: "referral from Sam"})

	job, err := u.ApplyEvent(ctx, EventInput{UserID: "u1", Company: "Acme", Position: "Engineer", EventType: domain.EventInterview, Subject: "Interview", OccurredAt: received})
	if err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}
	if job.Notes != "referral from Sam" {
		t.Errorf("Notes = %q", job.Notes)
	}
}

func TestApplyEventOtherUsersJobIgnored(t *testing.T) {
	u, jobs, _ := newTestUpdater()
	ctx := context.Background()

	jobs.Create(ctx, &domain.Job{UserID: "u2", Company: "Acme", Position: "Engineer"})

	job, err := u.ApplyEvent(ctx, EventInput{UserID: "u1", Company: "Acme", Position: "Engineer", EventType: domain.EventSubmission, OccurredAt: received})
	if err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}
	if job.UserID != "u1" {
		t.Errorf("UserID = %v, want u1", job.UserID)
	}
}

func TestApplyEventScheduledTime(t *testing.T) {
	scheduled := received.Add(96 * time.Hour)

	tests := []struct {
		name      string
		eventType domain.EventType
		scheduled *time.Time
		want      time.Time
	}{
		{"interview uses scheduled time", domain.EventInterview, &scheduled, scheduled},
		{"oa uses scheduled time", domain.EventOA, &scheduled, scheduled},
		{"interview without time uses receipt", domain.EventInterview, nil, received},
		{"offer ignores scheduled time", domain.EventOffer, &scheduled, received},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, _, history := newTestUpdater()

			job, err := u.ApplyEvent(context.Background(), EventInput{
				UserID:      "u1",
				Company:     "Acme",
				EventType:   tt.eventType,
				OccurredAt:  received,
				ScheduledAt: tt.scheduled,
			})
			if err != nil {
				t.Fatalf("ApplyEvent() error = %v", err)
			}

			entries, _ := history.ListByJob(context.Background(), job.ID)
			if len(entries) != 1 || !entries[0].Date.Equal(tt.want) {
				t.Errorf("entry date = %v, want %v", entries[0].Date, tt.want)
			}
		})
	}
}

func TestApplyEventAfterFutureInterview(t *testing.T) {
	tests := []struct {
		name     string
		followUp domain.EventType
		want     domain.JobStatus
	}{
		{"offer", domain.EventOffer, domain.JobOffer},
		{"rejection", domain.EventRejection, domain.JobRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, jobs, history := newTestUpdater()
			ctx := context.Background()
			scheduled := received.Add(7 * 24 * time.Hour)

			first, err := u.ApplyEvent(ctx, EventInput{
				UserID:      "u1",
				Company:     "Acme",
				Position:    "Engineer",
				EventType:   domain.EventInterview,
				OccurredAt:  received,
				ScheduledAt: &scheduled,
			})
			if err != nil {
				t.Fatalf("ApplyEvent(interview) error = %v", err)
			}

			job, err := u.ApplyEvent(ctx, EventInput{
				UserID:     "u1",
				Company:    "Acme",
				Position:   "Engineer",
				EventType:  tt.followUp,
				OccurredAt: received.Add(24 * time.Hour),
			})
			if err != nil {
				t.Fatalf("ApplyEvent(%s) error = %v", tt.followUp, err)
			}
			if job.ID != first.ID {
				t.Fatalf("job id = %v, want %v", job.ID, first.ID)
			}
			if job.Status != tt.want {
				t.Errorf("Status = %v, want %v", job.Status, tt.want)
			}

			stored, _ := jobs.GetByID(ctx, job.ID)
			if stored.Status != tt.want {
				t.Errorf("stored Status = %v, want %v", stored.Status, tt.want)
			}

			entries, _ := history.ListByJob(ctx, job.ID)
			if len(entries) != 2 {
				t.Errorf("history entries = %v, want 2", len(entries))
			}
		})
	}
}

func TestApplyEventRequiresUser(t *testing.T) {
	u, _, _ := newTestUpdater()
	_, err := u.ApplyEvent(context.Background(), EventInput{EventType: domain.EventOffer})
	if !domain.IsValidation(err) {
		t.Errorf("error = %v, want validation error", err)
	}
}

// =============================================================================
// Timeline
// =============================================================================

func newTestService() (*Service, *memstore.Jobs, *memstore.StatusHistory) {
	jobs := memstore.NewJobs()
	history := memstore.NewStatusHistory()
	return NewService(jobs, history, NewUpdater(jobs, history)), jobs, history
}

func status(s domain.JobStatus) *domain.JobStatus { return &s }

func TestTimelineRecomputesFromLatestDate(t *testing.T) {
	s, jobs, _ := newTestService()
	ctx := context.Background()

	job := &domain.Job{UserID: "u1", Company: "Acme", Position: "Engineer", Status: domain.JobApplied}
	jobs.Create(ctx, job)

	day := func(d int) *time.Time {
		v := received.AddDate(0, 0, d)
		return &v
	}

	first, _, err := s.AddHistory(ctx, "u1", job.ID, HistoryInput{Status: status(domain.JobApplied), Date: day(0)})
	if err != nil {
		t.Fatalf("AddHistory() error = %v", err)
	}
	second, got, err := s.AddHistory(ctx, "u1", job.ID, HistoryInput{Status: status(domain.JobInterviewing), Date: day(5)})
	if err != nil {
		t.Fatalf("AddHistory() error = %v", err)
	}
	if got.Status != domain.JobInterviewing {
		t.Errorf("Status = %v, want interviewing", got.Status)
	}

	// Backdated insert does not become current.
	_, got, _ = s.AddHistory(ctx, "u1", job.ID, HistoryInput{Status: status(domain.JobRejected), Date: day(2)})
	if got.Status != domain.JobInterviewing {
		t.Errorf("after backdated add Status = %v, want interviewing", got.Status)
	}

	// Moving the first entry past the others makes it current.
	_, got, err = s.EditHistory(ctx, "u1", job.ID, first.ID, HistoryInput{Date: day(10), Status: status(domain.JobOffer)})
	if err != nil {
		t.Fatalf("EditHistory() error = %v", err)
	}
	if got.Status != domain.JobOffer {
		t.Errorf("after edit Status = %v, want offer", got.Status)
	}

	got, err = s.DeleteHistory(ctx, "u1", job.ID, first.ID)
	if err != nil {
		t.Fatalf("DeleteHistory() error = %v", err)
	}
	if got.Status != domain.JobInterviewing {
		t.Errorf("after delete Status = %v, want interviewing", got.Status)
	}

	list, _ := s.ListHistory(ctx, "u1", job.ID)
	if len(list) != 2 || list[1].ID != second.ID {
		t.Errorf("ListHistory() = %v entries, want 2 ending with %v", len(list), second.ID)
	}
}

func TestTimelineOwnership(t *testing.T) {
	s, jobs, history := newTestService()
	ctx := context.Background()

	job := &domain.Job{UserID: "u1", Company: "Acme"}
	jobs.Create(ctx, job)
	entry := &domain.StatusHistory{JobID: job.ID, UserID: "u1", Status: domain.JobApplied, Date: received}
	history.Create(ctx, entry)

	if _, err := s.ListHistory(ctx, "u2", job.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("ListHistory() foreign error = %v, want ErrForbidden", err)
	}
	if _, err := s.DeleteHistory(ctx, "u2", job.ID, entry.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("DeleteHistory() foreign error = %v, want ErrForbidden", err)
	}
	if _, err := s.GetJob(ctx, "u1", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetJob() error = %v, want ErrNotFound", err)
	}

	other := &domain.Job{UserID: "u1", Company: "Beta"}
	jobs.Create(ctx, other)
	if _, _, err := s.EditHistory(ctx, "u1", other.ID, entry.ID, HistoryInput{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("EditHistory() wrong job error = %v, want ErrNotFound", err)
	}
}

func TestTimelineValidation(t *testing.T) {
	s, jobs, _ := newTestService()
	ctx := context.Background()

	job := &domain.Job{UserID: "u1", Company: "Acme"}
	jobs.Create(ctx, job)

	if _, _, err := s.AddHistory(ctx, "u1", job.ID, HistoryInput{}); !domain.IsValidation(err) {
		t.Errorf("missing status error = %v, want validation", err)
	}
	if _, _, err := s.AddHistory(ctx, "u1", job.ID, HistoryInput{Status: status("hired")}); !domain.IsValidation(err) {
		t.Errorf("bad status error = %v, want validation", err)
	}
}

// =============================================================================
// Stats
// =============================================================================

func TestClampStatsDays(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 7},
		{-3, 1},
		{1, 1},
		{30, 30},
		{500, 90},
	}
	for _, tt := range tests {
		if got := ClampStatsDays(tt.in); got != tt.want {
			t.Errorf("ClampStatsDays(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestStats(t *testing.T) {
	s, jobs, history := newTestService()
	ctx := context.Background()

	now := time.Now().UTC()
	a := &domain.Job{UserID: "u1", Company: "Acme", Status: domain.JobInterviewing}
	b := &domain.Job{UserID: "u1", Company: "Beta", Status: domain.JobRejected}
	c := &domain.Job{UserID: "u2", Company: "Gamma", Status: domain.JobOffer}
	for _, j := range []*domain.Job{a, b, c} {
		jobs.Create(ctx, j)
	}

	history.Create(ctx, &domain.StatusHistory{JobID: a.ID, UserID: "u1", Status: domain.JobApplied, Date: now})
	history.Create(ctx, &domain.StatusHistory{JobID: a.ID, UserID: "u1", Status: domain.JobInterviewing, Date: now})
	history.Create(ctx, &domain.StatusHistory{JobID: b.ID, UserID: "u1", Status: domain.JobRejected, Date: now.AddDate(0, 0, -30)})

	stats, err := s.Stats(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Days != 7 {
		t.Errorf("Days = %v, want 7", stats.Days)
	}

	today := stats.Timeline[now.Format("2006-01-02")]
	if today[domain.JobApplied] != 1 || today[domain.JobInterviewing] != 1 {
		t.Errorf("today = %v", today)
	}
	if len(stats.Timeline) != 1 {
		t.Errorf("timeline days = %v, want 1 (old entry outside window)", len(stats.Timeline))
	}

	if stats.Funnel[domain.JobInterviewing] != 1 || stats.Funnel[domain.JobRejected] != 1 || stats.Funnel[domain.JobOffer] != 0 {
		t.Errorf("Funnel = %v", stats.Funnel)
	}
}
