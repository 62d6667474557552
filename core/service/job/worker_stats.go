package job

import (
	"context"
	"time"

	"jobsync_worker/core/domain"
)

const (
	DefaultStatsDays = 7
	MaxStatsDays     = 90
)

// StatusCounts counts entries per job status.
type StatusCounts map[domain.JobStatus]int

func newStatusCounts() StatusCounts {
	c := make(StatusCounts, len(domain.JobStatuses))
	for _, s := range domain.JobStatuses {
		c[s] = 0
	}
	return c
}

type Stats struct {
	Days int `json:"days"`

	// Timeline maps a UTC day (2006-01-02) to timeline entries dated that day.
	Timeline map[string]StatusCounts `json:"timeline"`

	// Funnel counts jobs by current status.
	Funnel StatusCounts `json:"funnel"`
}

// ClampStatsDays bounds the window to [1, 90]. Zero selects the default.
func ClampStatsDays(days int) int {
	switch {
	case days == 0:
		return DefaultStatsDays
	case days < 1:
		return 1
	case days > MaxStatsDays:
		return MaxStatsDays
	}
	return days
}

// Stats builds the per-day activity timeline and the status funnel.
func (s *Service) Stats(ctx context.Context, userID string, days int) (*Stats, error) {
	days = ClampStatsDays(days)

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -(days - 1))

	entries, err := s.history.ListByUserSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Days:     days,
		Timeline: make(map[string]StatusCounts),
		Funnel:   newStatusCounts(),
	}

	for _, e := range entries {
		key := e.Date.UTC().Format("2006-01-02")
		day, ok := stats.Timeline[key]
		if !ok {
			day = newStatusCounts()
			stats.Timeline[key] = day
		}
		day[e.Status]++
	}

	jobs, err := s.jobs.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		stats.Funnel[j.Status]++
	}

	return stats, nil
}
