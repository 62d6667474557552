package domain

import "time"

// EventType is the kind of hiring event a message announces.
type EventType string

const (
	EventSubmission EventType = "submission"
	EventOA         EventType = "oa"
	EventInterview  EventType = "interview"
	EventRejection  EventType = "rejection"
	EventOffer      EventType = "offer"
	EventOther      EventType = "other"
)

// StatusEventTypes lists the event types that count as a status update, in
// declaration order. Rule scoring breaks ties by this order.
var StatusEventTypes = []EventType{
	EventSubmission,
	EventOA,
	EventInterview,
	EventRejection,
	EventOffer,
}

// IsStatusUpdate reports whether t is one of the five status events.
// "other" and unknown values are not.
func (t EventType) IsStatusUpdate() bool {
	for _, s := range StatusEventTypes {
		if t == s {
			return true
		}
	}
	return false
}

func (t EventType) IsValid() bool {
	return t == EventOther || t.IsStatusUpdate()
}

// UsesScheduledTime reports whether the event's timeline date should be the
// extracted scheduled time instead of the receipt time.
func (t EventType) UsesScheduledTime() bool {
	return t == EventInterview || t == EventOA
}

type RecommendedAction string

const (
	ActionAuto   RecommendedAction = "auto"
	ActionReview RecommendedAction = "review"
)

// RecommendedActionFor suggests human review for the events a user usually
// wants to see before the board changes.
func RecommendedActionFor(t EventType) RecommendedAction {
	if t == EventInterview || t == EventOffer {
		return ActionReview
	}
	return ActionAuto
}

// ParsedEvent is the merged judgment of the classification engine.
type ParsedEvent struct {
	EventType         EventType         `json:"event_type"`
	Company           string            `json:"company,omitempty"`
	Position          string            `json:"position,omitempty"`
	InterviewTime     *time.Time        `json:"interview_time,omitempty"`
	Deadline          *time.Time        `json:"deadline,omitempty"`
	NeedsScheduling   bool              `json:"needs_scheduling"`
	Summary           string            `json:"summary,omitempty"`
	Rationale         string            `json:"rationale,omitempty"`
	Confidence        float64           `json:"confidence"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
}
