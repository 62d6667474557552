// Package classification decides whether a message reports a job
// application event and extracts its fields.
package classification

import (
	"context"
	"math"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"
	"jobsync_worker/pkg/logger"
)

// =============================================================================
// Engine (rule stage + LLM escalation)
// =============================================================================

// Drop reasons reported when ShouldCreate is false.
const (
	ReasonRuleIrrelevant  = "rule_irrelevant"
	ReasonLLMIrrelevant   = "llm_irrelevant"
	ReasonNotStatusUpdate = "not_status_update"
)

type Config struct {
	// EscalationThreshold is the rule event-type confidence below which the
	// LLM is consulted.
	EscalationThreshold float64

	// LLMDefaultConfidence stands in for a missing LLM confidence in the merge.
	LLMDefaultConfidence float64
}

func DefaultConfig() *Config {
	return &Config{
		EscalationThreshold:  0.5,
		LLMDefaultConfidence: 0.5,
	}
}

type Result struct {
	ShouldCreate bool
	Reason       string
	Parsed       *domain.ParsedEvent

	RuleRelevance  RuleRelevance
	RuleType       RuleType
	RuleConfidence float64
	LLM            LLMOutcome
}

type Engine struct {
	config    *Config
	rules     *RuleClassifier
	extractor *LLMExtractor
}

// NewEngine builds the engine. A nil completer disables escalation.
func NewEngine(llm out.ChatCompleter, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	e := &Engine{
		config: config,
		rules:  NewRuleClassifier(),
	}
	if llm != nil {
		e.extractor = NewLLMExtractor(llm)
	}
	return e
}

// Classify runs the rule stage and, when it is unsure, the LLM stage.
func (e *Engine) Classify(ctx context.Context, msg domain.MailMessage) *Result {
	subject := Preprocess(msg.Subject)
	snippet := Preprocess(msg.Snippet)

	res := &Result{LLM: LLMOutcome{Status: LLMSkipped}}

	// Stage 1: relevance
	res.RuleRelevance = e.rules.Relevance(subject, snippet, msg.From)
	if res.RuleRelevance.Verdict == RelevanceNo {
		res.RuleConfidence = res.RuleRelevance.Confidence
		res.Reason = ReasonRuleIrrelevant
		return res
	}

	// Stage 1b: event type
	res.RuleType = e.rules.EventType(subject, snippet)
	res.RuleConfidence = math.Max(res.RuleRelevance.Confidence, res.RuleType.Confidence)

	// Stage 2: LLM escalation
	if res.RuleRelevance.Verdict == RelevanceUnknown || res.RuleType.Confidence < e.config.EscalationThreshold {
		res.LLM = e.extractor.Extract(ctx, subject, msg.From, snippet)
		if res.LLM.Status == LLMError || res.LLM.Status == LLMUnparsable {
			logger.WithContext(ctx).
				WithFields(map[string]any{"message_id": msg.ID, "llm_status": string(res.LLM.Status)}).
				WithError(res.LLM.Err).
				Warn("llm extraction unavailable, using rule output")
		}
	}

	return e.merge(msg, res)
}

func (e *Engine) merge(msg domain.MailMessage, res *Result) *Result {
	var ext *LLMExtraction
	if res.LLM.Status == LLMOK {
		ext = res.LLM.Extraction
	}

	relevant := res.RuleRelevance.Verdict != RelevanceNo
	if ext != nil && ext.IsRelevant != nil {
		relevant = *ext.IsRelevant
	}
	if !relevant {
		res.Reason = ReasonLLMIrrelevant
		return res
	}

	var eventType domain.EventType
	switch {
	case ext != nil && ext.EventType.IsStatusUpdate():
		eventType = ext.EventType
	case res.RuleType.EventType.IsStatusUpdate():
		eventType = res.RuleType.EventType
	default:
		res.Reason = ReasonNotStatusUpdate
		return res
	}

	llmConfidence := e.config.LLMDefaultConfidence
	if ext != nil && ext.Confidence != nil {
		llmConfidence = *ext.Confidence
	}

	parsed := &domain.ParsedEvent{
		EventType:         eventType,
		Confidence:        math.Max(res.RuleConfidence, llmConfidence),
		RecommendedAction: domain.RecommendedActionFor(eventType),
		Rationale:         "rule: " + res.RuleType.String(),
	}

	if ext != nil {
		parsed.Company = ext.Company
		parsed.Position = ext.Position
		parsed.InterviewTime = ext.InterviewTime
		parsed.Deadline = ext.Deadline
		parsed.Summary = ext.Summary
		if ext.Rationale != "" {
			parsed.Rationale = ext.Rationale
		}
		if ext.NeedsScheduling != nil {
			parsed.NeedsScheduling = *ext.NeedsScheduling
		}
	}
	if parsed.Summary == "" {
		parsed.Summary = msg.Subject
	}
	if eventType == domain.EventInterview && parsed.InterviewTime == nil && (ext == nil || ext.NeedsScheduling == nil) {
		parsed.NeedsScheduling = true
	}

	res.ShouldCreate = true
	res.Parsed = parsed
	return res
}
