package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jornada-hub/jornada/internal/application/command"
	"github.com/jornada-hub/jornada/internal/application/progression"
	"github.com/jornada-hub/jornada/internal/application/query"
	"github.com/jornada-hub/jornada/internal/domain/activity"
	"github.com/jornada-hub/jornada/internal/domain/badge"
	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST & RESPONSE BODIES
// ══════════════════════════════════════════════════════════════════════════════

type registerMemberRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type recordCompletionRequest struct {
	RequestID    string          `json:"request_id"`
	ActivityID   string          `json:"activity_id"`
	ActivityType activity.Type   `json:"activity_type"`
	Points       *int            `json:"points"`
	Period       activity.Period `json:"period"`
	School       string          `json:"school"`
	Comment      string          `json:"comment"`
	CompletedAt  *time.Time      `json:"completed_at"`
	Force        bool            `json:"force"`
}

type recordLoginRequest struct {
	At *time.Time `json:"at"`
}

// OutcomeResponse is the body returned by completion and revert requests.
type OutcomeResponse struct {
	UserID            string                 `json:"user_id"`
	Completion        activity.Completion    `json:"completion"`
	PreviousStats     member.Stats           `json:"previous_stats"`
	Stats             member.Stats           `json:"stats"`
	OldPhase          query.PhaseDTO         `json:"old_phase"`
	NewPhase          query.PhaseDTO         `json:"new_phase"`
	PhaseChanged      bool                   `json:"phase_changed"`
	NewlyEarnedBadges []query.BadgeDTO       `json:"newly_earned_badges"`
	Warnings          []string               `json:"warnings,omitempty"`
	Profile           member.Profile         `json:"profile"`
	ProcessedAt       time.Time              `json:"processed_at"`
	Availability      *activity.Availability `json:"availability,omitempty"`
	Attempts          int                    `json:"attempts,omitempty"`
}

// LoginResponse is the body returned by login requests.
type LoginResponse struct {
	UserID            string           `json:"user_id"`
	PreviousStreak    int              `json:"previous_streak"`
	Streak            int              `json:"streak"`
	Broken            bool             `json:"broken"`
	Stats             member.Stats     `json:"stats"`
	NewlyEarnedBadges []query.BadgeDTO `json:"newly_earned_badges"`
	Profile           member.Profile   `json:"profile"`
	ProcessedAt       time.Time        `json:"processed_at"`
}

func newOutcomeResponse(out *progression.Outcome) OutcomeResponse {
	return OutcomeResponse{
		UserID:            out.UserID,
		Completion:        out.Completion,
		PreviousStats:     out.PreviousStats,
		Stats:             out.Stats,
		OldPhase:          query.NewPhaseDTO(out.OldPhase),
		NewPhase:          query.NewPhaseDTO(out.NewPhase),
		PhaseChanged:      out.PhaseChanged,
		NewlyEarnedBadges: badgeDTOs(out.NewlyEarnedBadges),
		Warnings:          warningStrings(out.Warnings),
		Profile:           out.Profile,
		ProcessedAt:       out.ProcessedAt,
	}
}

func badgeDTOs(badges []badge.Badge) []query.BadgeDTO {
	dtos := make([]query.BadgeDTO, 0, len(badges))
	for _, b := range badges {
		dtos = append(dtos, query.NewBadgeDTO(b))
	}
	return dtos
}

func warningStrings(warnings []*shared.ConsistencyWarning) []string {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, w.Error())
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// MEMBER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRegisterMember handles POST /v1/members.
func (s *Server) handleRegisterMember(w http.ResponseWriter, r *http.Request) {
	var req registerMemberRequest
	if !s.decode(w, r, &req) {
		return
	}

	profile, err := s.deps.RegisterMember.Handle(r.Context(), command.RegisterMemberCommand{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/members/"+profile.ID+"/progress")
	writeJSON(w, r, http.StatusCreated, profile)
}

// handleGetProgress handles GET /v1/members/{userID}/progress.
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.GetProgress.Handle(r.Context(), query.GetProgressQuery{
		UserID:    chi.URLParam(r, "userID"),
		SkipCache: queryBool(r, "fresh"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// handleRecordCompletion handles POST /v1/members/{userID}/completions.
func (s *Server) handleRecordCompletion(w http.ResponseWriter, r *http.Request) {
	var req recordCompletionRequest
	if !s.decode(w, r, &req) {
		return
	}

	userID := chi.URLParam(r, "userID")
	if req.Force && s.config.AllowForce != nil && !s.config.AllowForce(userID) {
		writeJSONError(w, r, http.StatusForbidden, "forbidden", "Cool-down overrides are disabled")
		return
	}

	cmd := command.RecordCompletionCommand{
		RequestID:    req.RequestID,
		UserID:       userID,
		ActivityID:   req.ActivityID,
		ActivityType: req.ActivityType,
		Points:       req.Points,
		Period:       req.Period,
		School:       req.School,
		Comment:      req.Comment,
		Force:        req.Force,
	}
	if req.CompletedAt != nil {
		cmd.CompletedAt = *req.CompletedAt
	}
	if cmd.RequestID == "" {
		cmd.RequestID = r.Header.Get("Idempotency-Key")
	}

	result, err := s.deps.RecordCompletion.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := newOutcomeResponse(result.Outcome)
	resp.Availability = &result.Availability
	resp.Attempts = result.Attempts
	writeJSON(w, r, http.StatusCreated, resp)
}

// handleRevertCompletion handles DELETE /v1/members/{userID}/completions/{completionID}.
func (s *Server) handleRevertCompletion(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.RevertCompletion.Handle(r.Context(), command.RevertCompletionCommand{
		UserID:       chi.URLParam(r, "userID"),
		CompletionID: chi.URLParam(r, "completionID"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newOutcomeResponse(out))
}

// handleRecordLogin handles POST /v1/members/{userID}/logins. The body is
// optional.
func (s *Server) handleRecordLogin(w http.ResponseWriter, r *http.Request) {
	var req recordLoginRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}

	cmd := command.RecordLoginCommand{UserID: chi.URLParam(r, "userID")}
	if req.At != nil {
		cmd.At = *req.At
	}

	out, err := s.deps.RecordLogin.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, LoginResponse{
		UserID:            out.UserID,
		PreviousStreak:    out.PreviousStreak,
		Streak:            out.Streak,
		Broken:            out.Broken,
		Stats:             out.Stats,
		NewlyEarnedBadges: badgeDTOs(out.NewlyEarnedBadges),
		Profile:           out.Profile,
		ProcessedAt:       out.ProcessedAt,
	})
}

// handleCheckAvailability handles
// GET /v1/members/{userID}/activities/{activityID}/availability?at=RFC3339.
func (s *Server) handleCheckAvailability(w http.ResponseWriter, r *http.Request) {
	q := query.CheckAvailabilityQuery{
		UserID:     chi.URLParam(r, "userID"),
		ActivityID: chi.URLParam(r, "activityID"),
	}
	if raw := r.URL.Query().Get("at"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSONError(w, r, http.StatusBadRequest, "validation_error", "at must be an RFC 3339 timestamp")
			return
		}
		q.At = at
	}

	availability, err := s.deps.CheckAvailability.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, availability)
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG & PROBES
// ══════════════════════════════════════════════════════════════════════════════

// handleListPhases handles GET /v1/phases.
func (s *Server) handleListPhases(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Catalog.Phases())
}

// handleListBadges handles GET /v1/badges.
func (s *Server) handleListBadges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Catalog.Badges())
}

// handleHealthz handles GET /healthz (liveness).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Health.Live())
}

// handleReadyz handles GET /readyz. Only a failing critical check returns 503.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	if !status.Ready {
		writeJSONErrorWithDetails(w, r, http.StatusServiceUnavailable, "not_ready", status.Message, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// DECODING & ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
	case errors.Is(err, io.EOF):
		writeJSONError(w, r, http.StatusBadRequest, "invalid_body", "Request body is required")
	default:
		writeJSONError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON: "+err.Error())
	}
	return false
}

// writeError maps an application error to a status code and error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var locked *command.LockedError
	switch {
	case errors.As(err, &locked):
		writeJSONErrorWithDetails(w, r, http.StatusConflict, "activity_locked", locked.Error(), locked.Availability)
	case errors.Is(err, shared.ErrActivityLocked):
		writeJSONError(w, r, http.StatusConflict, "activity_locked", publicMessage(err))
	case shared.IsValidation(err):
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", publicMessage(err))
	case shared.IsNotFound(err):
		writeJSONError(w, r, http.StatusNotFound, "not_found", publicMessage(err))
	case shared.IsAlreadyExists(err):
		writeJSONError(w, r, http.StatusConflict, "already_exists", publicMessage(err))
	case shared.IsConflict(err):
		writeJSONError(w, r, http.StatusConflict, "conflict", publicMessage(err))
	case shared.IsStoreUnavailable(err):
		logger.FromContext(r.Context()).Error("store unavailable", logger.Err(err))
		w.Header().Set("Retry-After", "5")
		writeJSONError(w, r, http.StatusServiceUnavailable, "unavailable", "Storage is temporarily unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, r, http.StatusGatewayTimeout, "timeout", "Request timed out")
	default:
		logger.FromContext(r.Context()).Error("request failed", logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

// publicMessage returns the innermost domain message, without operation
// prefixes or wrapped store errors.
func publicMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}
