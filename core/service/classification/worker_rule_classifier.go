package classification

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"jobsync_worker/core/domain"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// Keyword Tables
// =============================================================================

var jobKeywords = []string{
	"application",
	"apply",
	"interview",
	"offer",
	"rejection",
	"assessment",
	"take-home",
	"challenge",
	"submission",
	"position",
	"role",
	"candidate",
}

var spamHints = []string{
	"unsubscribe",
	"promotion",
	"newsletter",
	"marketing",
	"job alert",
	"job digest",
}

// Sender address fragments of alert and bulk mailers.
var senderSpamHints = []string{
	"jobalerts",
	"job-alerts",
	"alerts@",
	"alert@",
	"newsletter",
	"digest@",
	"marketing@",
	"no-reply",
	"noreply",
}

type typeKeywords struct {
	eventType domain.EventType
	words     []string
}

// Declaration order is the tie-break order.
var eventKeywords = []typeKeywords{
	{domain.EventSubmission, []string{"application received", "thank you for applying", "we received your application"}},
	{domain.EventOA, []string{"online assessment", "take-home", "coding challenge", "hackerrank", "codility"}},
	{domain.EventInterview, []string{"interview", "schedule", "invite", "onsite", "phone screen", "meeting"}},
	{domain.EventRejection, []string{"unfortunately", "regret to inform", "not moving forward", "reject"}},
	{domain.EventOffer, []string{"offer", "congratulations", "we are pleased to", "extend"}},
}

var signOffTokens = []string{"best regards", "thanks,", "thank you,", "cheers,"}

const maxPreprocessedRunes = 1500

// =============================================================================
// Results
// =============================================================================

// Relevance is the ternary rule verdict.
type Relevance int

const (
	RelevanceUnknown Relevance = iota
	RelevanceYes
	RelevanceNo
)

func (r Relevance) String() string {
	switch r {
	case RelevanceYes:
		return "relevant"
	case RelevanceNo:
		return "irrelevant"
	default:
		return "undetermined"
	}
}

const (
	decidedRelevanceConfidence   = 0.6
	undecidedRelevanceConfidence = 0.3
)

type RuleRelevance struct {
	Verdict    Relevance
	Confidence float64
	Signals    []string
}

type RuleType struct {
	EventType  domain.EventType
	Hits       int
	Confidence float64
}

// =============================================================================
// Rule Classifier
// =============================================================================

// RuleClassifier is the keyword stage. It never does I/O.
type RuleClassifier struct{}

func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Relevance scans subject and snippet for job keywords against spam hints.
// The sender address only contributes spam hints.
func (c *RuleClassifier) Relevance(subject, snippet, from string) RuleRelevance {
	text := normalize(subject + " " + snippet)
	sender := normalize(from)

	var signals []string
	hasKeyword := false
	for _, k := range jobKeywords {
		if strings.Contains(text, k) {
			hasKeyword = true
			signals = append(signals, "keyword:"+k)
			break
		}
	}

	hasSpam := false
	for _, h := range spamHints {
		if strings.Contains(text, h) {
			hasSpam = true
			signals = append(signals, "spam:"+h)
			break
		}
	}
	if !hasSpam {
		for _, h := range senderSpamHints {
			if strings.Contains(sender, h) {
				hasSpam = true
				signals = append(signals, "sender:"+h)
				break
			}
		}
	}

	switch {
	case hasKeyword && !hasSpam:
		return RuleRelevance{Verdict: RelevanceYes, Confidence: decidedRelevanceConfidence, Signals: signals}
	case hasSpam && !hasKeyword:
		return RuleRelevance{Verdict: RelevanceNo, Confidence: decidedRelevanceConfidence, Signals: signals}
	default:
		return RuleRelevance{Verdict: RelevanceUnknown, Confidence: undecidedRelevanceConfidence, Signals: signals}
	}
}

// EventType counts distinct keyword hits per category. The highest count
// wins; ties go to the earlier category. No hits yields "other".
func (c *RuleClassifier) EventType(subject, snippet string) RuleType {
	text := normalize(subject + " " + snippet)

	best := RuleType{EventType: domain.EventOther}
	for _, tk := range eventKeywords {
		hits := 0
		for _, w := range tk.words {
			if strings.Contains(text, w) {
				hits++
			}
		}
		if hits > best.Hits {
			best.EventType = tk.eventType
			best.Hits = hits
		}
	}

	best.Confidence = float64(best.Hits) / 3
	if best.Confidence > 1 {
		best.Confidence = 1
	}
	return best
}

func (t RuleType) String() string {
	return fmt.Sprintf("%s (%d keyword hits)", t.EventType, t.Hits)
}

// =============================================================================
// Text Helpers
// =============================================================================

// Preprocess drops everything from the first sign-off phrase on and caps the
// result at 1500 characters.
func Preprocess(text string) string {
	cut := len(text)
	for _, tok := range signOffTokens {
		if i := indexFold(text, tok); i >= 0 && i < cut {
			cut = i
		}
	}
	text = text[:cut]

	if utf8.RuneCountInString(text) > maxPreprocessedRunes {
		n := 0
		for i := range text {
			if n == maxPreprocessedRunes {
				text = text[:i]
				break
			}
			n++
		}
	}
	return text
}

// indexFold is strings.Index with ASCII case folding. substr must be lower case.
// Byte offsets stay valid for s, unlike searching a lowered copy.
func indexFold(s, substr string) int {
	n := len(substr)
	for i := 0; i+n <= len(s); i++ {
		match := true
		for j := 0; j < n; j++ {
			b := s[i+j]
			if 'A' <= b && b <= 'Z' {
				b += 'a' - 'A'
			}
			if b != substr[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// normalize folds compatibility characters and case so that keyword
// matching sees "Ｉｎｔｅｒｖｉｅｗ" and "INTERVIEW" as "interview".
func normalize(s string) string {
	return cases.Lower(language.Und).String(norm.NFKC.String(s))
}
