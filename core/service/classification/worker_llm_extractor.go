package classification

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"

	"github.com/goccy/go-json"
)

// =============================================================================
// LLM Outcome
// =============================================================================

type LLMStatus string

const (
	LLMSkipped    LLMStatus = "skipped"
	LLMOK         LLMStatus = "ok"
	LLMUnparsable LLMStatus = "unparsable"
	LLMError      LLMStatus = "error"
)

// LLMOutcome separates "the model had no usable opinion" from "the model
// said not relevant". Only LLMOK carries an Extraction.
type LLMOutcome struct {
	Status     LLMStatus
	Extraction *LLMExtraction
	Err        error
}

// LLMExtraction is the validated model answer. Nil pointers mean the model
// left the field out.
type LLMExtraction struct {
	IsRelevant      *bool
	EventType       domain.EventType
	Company         string
	Position        string
	InterviewTime   *time.Time
	Deadline        *time.Time
	NeedsScheduling *bool
	Summary         string
	Rationale       string
	Confidence      *float64
}

// =============================================================================
// LLM Extractor
// =============================================================================

const extractionSystemPrompt = `You read emails for a job seeker and decide whether they report a change in a job application.

Respond with ONLY this JSON object:
{
  "isStatusUpdate": true|false,
  "eventType": "submission|oa|interview|rejection|offer",
  "company": "company name or empty",
  "position": "job title or empty",
  "interviewTime": "ISO 8601 datetime of the interview or assessment, or empty",
  "deadline": "ISO 8601 datetime, or empty",
  "needsScheduling": true|false,
  "summary": "one sentence",
  "confidence": 0.0-1.0,
  "rationale": "short reason"
}

eventType must be one of the five values above. Do not answer "other". If the email is not about an application status, set isStatusUpdate to false.`

type LLMExtractor struct {
	llm out.ChatCompleter
}

func NewLLMExtractor(llm out.ChatCompleter) *LLMExtractor {
	return &LLMExtractor{llm: llm}
}

// Extract asks the model for a structured judgment. It never returns an
// error: call failures and junk answers become non-OK outcomes.
func (e *LLMExtractor) Extract(ctx context.Context, subject, from, snippet string) LLMOutcome {
	if e == nil || e.llm == nil {
		return LLMOutcome{Status: LLMSkipped}
	}

	userPrompt := fmt.Sprintf("Subject: %s\nFrom: %s\nContent: %s", subject, from, snippet)

	resp, err := e.llm.CompleteWithSystem(ctx, extractionSystemPrompt, userPrompt)
	if err != nil {
		return LLMOutcome{Status: LLMError, Err: err}
	}

	ext, err := parseExtraction(resp)
	if err != nil {
		return LLMOutcome{Status: LLMUnparsable, Err: err}
	}
	return LLMOutcome{Status: LLMOK, Extraction: ext}
}

// =============================================================================
// Response Parsing
// =============================================================================

type rawExtraction struct {
	IsRelevant      *bool      `json:"isRelevant"`
	IsStatusUpdate  *bool      `json:"isStatusUpdate"`
	EventType       string     `json:"eventType"`
	Company         string     `json:"company"`
	Position        string     `json:"position"`
	InterviewTime   string     `json:"interviewTime"`
	Deadline        string     `json:"deadline"`
	NeedsScheduling *bool      `json:"needsScheduling"`
	Summary         string     `json:"summary"`
	Rationale       string     `json:"rationale"`
	Confidence      *flexFloat `json:"confidence"`
}

// parseExtraction takes the text between the first '{' and the last '}'.
func parseExtraction(resp string) (*LLMExtraction, error) {
	start := strings.IndexByte(resp, '{')
	end := strings.LastIndexByte(resp, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var raw rawExtraction
	if err := json.Unmarshal([]byte(resp[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse extraction: %w", err)
	}

	ext := &LLMExtraction{
		EventType:       domain.EventType(strings.ToLower(strings.TrimSpace(raw.EventType))),
		Company:         strings.TrimSpace(raw.Company),
		Position:        strings.TrimSpace(raw.Position),
		InterviewTime:   parseLooseTime(raw.InterviewTime),
		Deadline:        parseLooseTime(raw.Deadline),
		NeedsScheduling: raw.NeedsScheduling,
		Summary:         strings.TrimSpace(raw.Summary),
		Rationale:       strings.TrimSpace(raw.Rationale),
	}

	switch {
	case raw.IsRelevant != nil:
		ext.IsRelevant = raw.IsRelevant
	case raw.IsStatusUpdate != nil:
		ext.IsRelevant = raw.IsStatusUpdate
	}

	if raw.Confidence != nil {
		c := float64(*raw.Confidence)
		if !math.IsNaN(c) && !math.IsInf(c, 0) {
			c = math.Max(0, math.Min(1, c))
			ext.Confidence = &c
		}
	}

	return ext, nil
}

// flexFloat accepts 0.8 as well as "0.8".
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = flexFloat(math.NaN())
		return nil
	}
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		*f = flexFloat(math.NaN())
		return nil
	}
	*f = flexFloat(v)
	return nil
}

var looseTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseLooseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range looseTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
