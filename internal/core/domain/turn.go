package domain

import (
	"fmt"
	"time"
)

// TurnStage tracks how far a single query got through the pipeline.
type TurnStage string

const (
	StageReceived         TurnStage = "received"
	StageEmbedding        TurnStage = "embedding"
	StageFilterExtraction TurnStage = "filter_extraction"
	StageRetrieving       TurnStage = "retrieving"
	StageAssembling       TurnStage = "assembling"
	StageSynthesizing     TurnStage = "synthesizing"
	StageCompleted        TurnStage = "completed"
	StageFailed           TurnStage = "failed"
)

type TurnOutcome string

const (
	OutcomeAnswered  TurnOutcome = "answered"
	OutcomeNoResults TurnOutcome = "no_results"
	OutcomeFailed    TurnOutcome = "failed"
)

// FallbackMessage is shown when any external stage of a turn fails.
const FallbackMessage = "Sorry, I encountered an error while processing your question."

// NoResultsMessage is shown when retrieval returns nothing for the query.
func NoResultsMessage(subject string) string {
	if subject == "" {
		return "No relevant product information found. Please try a different question."
	}
	return fmt.Sprintf("No relevant %s information found. Please try a different question.", subject)
}

// TurnResult is what a single pass through the query pipeline produced.
// Answer is always the text the user sees for the turn.
type TurnResult struct {
	Answer        string           `json:"answer"`
	Records       []ProductRecord  `json:"records"`
	Filter        *FilterPredicate `json:"filter,omitempty"`
	Outcome       TurnOutcome      `json:"outcome"`
	Stage         TurnStage        `json:"stage"`
	FailedStage   TurnStage        `json:"failed_stage,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
	Duration      time.Duration    `json:"-"`
}

// TurnEvent is emitted once per finished turn.
type TurnEvent struct {
	SessionID     string      `json:"session_id"`
	Outcome       TurnOutcome `json:"outcome"`
	Stage         TurnStage   `json:"stage"`
	FailedStage   TurnStage   `json:"failed_stage,omitempty"`
	FailureReason string      `json:"failure_reason,omitempty"`
	RecordCount   int         `json:"record_count"`
	FilterApplied bool        `json:"filter_applied"`
	DurationMS    float64     `json:"duration_ms"`
	At            time.Time   `json:"at"`
}

func NewTurnEvent(sessionID string, result TurnResult) TurnEvent {
	return TurnEvent{
		SessionID:     sessionID,
		Outcome:       result.Outcome,
		Stage:         result.Stage,
		FailedStage:   result.FailedStage,
		FailureReason: result.FailureReason,
		RecordCount:   len(result.Records),
		FilterApplied: !result.Filter.Empty(),
		DurationMS:    float64(result.Duration.Microseconds()) / 1000.0,
		At:            time.Now().UTC(),
	}
}
