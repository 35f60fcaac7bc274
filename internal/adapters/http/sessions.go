package httpadapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
)

type askRequest struct {
	Question string `json:"question" validate:"required"`
}

type sessionResponse struct {
	SessionID      string           `json:"session_id"`
	Messages       []domain.Message `json:"messages"`
	PreviousAnswer string           `json:"previous_answer"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

type askResponse struct {
	SessionID     string                  `json:"session_id"`
	Answer        string                  `json:"answer"`
	Records       []domain.ProductRecord  `json:"records"`
	Outcome       domain.TurnOutcome      `json:"outcome"`
	Filter        *domain.FilterPredicate `json:"filter,omitempty"`
	FailedStage   domain.TurnStage        `json:"failed_stage,omitempty"`
	FailureReason string                  `json:"failure_reason,omitempty"`
	DurationMS    float64                 `json:"duration_ms"`
}

func (rt *Router) startSession(w http.ResponseWriter, r *http.Request) {
	state, err := rt.sessions.Start(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/sessions/"+state.ID)
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": state.ID})
}

func (rt *Router) getSession(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.sessionID(w, r)
	if !ok {
		return
	}
	state, err := rt.sessions.Get(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	messages := state.Messages
	if messages == nil {
		messages = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID:      state.ID,
		Messages:       messages,
		PreviousAnswer: state.PreviousAnswer,
		CreatedAt:      state.CreatedAt,
		UpdatedAt:      state.UpdatedAt,
	})
}

func (rt *Router) askQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.sessionID(w, r)
	if !ok {
		return
	}

	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if err := rt.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	ctx := r.Context()
	if rt.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.cfg.RequestTimeout)
		defer cancel()
	}

	result, err := rt.sessions.Ask(ctx, id, req.Question)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordTurn(result)
	}

	records := result.Records
	if records == nil {
		records = []domain.ProductRecord{}
	}
	writeJSON(w, http.StatusOK, askResponse{
		SessionID:     id,
		Answer:        result.Answer,
		Records:       records,
		Outcome:       result.Outcome,
		Filter:        result.Filter,
		FailedStage:   result.FailedStage,
		FailureReason: result.FailureReason,
		DurationMS:    float64(result.Duration.Microseconds()) / 1000.0,
	})
}

func (rt *Router) clearSession(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.sessionID(w, r)
	if !ok {
		return
	}
	if err := rt.sessions.Clear(r.Context(), id); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) endSession(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.sessionID(w, r)
	if !ok {
		return
	}
	if err := rt.sessions.End(r.Context(), id); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sessionID reads the path ID. Session IDs are UUIDs, so anything else cannot
// name an existing session.
func (rt *Router) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if err := rt.validate.Var(id, "required,uuid"); err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %q not found", id))
		return "", false
	}
	return id, true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
