package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/michaelbrown/labrunner/internal/execution"
	"github.com/michaelbrown/labrunner/internal/exercise"
	"github.com/michaelbrown/labrunner/internal/storage"
)

// errAttemptLimit is returned when a user has used up an exercise's attempts.
var errAttemptLimit = errors.New("attempt limit reached")

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Execute ---

type executeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type executeResponse struct {
	Output  string            `json:"output"`
	Outcome execution.Outcome `json:"outcome"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "No code provided")
		return
	}
	language := execution.ParseLanguage(req.Language)
	if language != execution.LanguagePython {
		writeError(w, http.StatusBadRequest, "Only Python is supported currently")
		return
	}

	out, err := s.deps.Coordinator.RunFree(r.Context(), execution.SubmittedCode{Source: req.Code, Language: language})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if out.FailureKind == execution.FailurePolicyViolation {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Security violation: usage of '%s' is not allowed.", out.Pattern))
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{Output: out.Output(), Outcome: out})
}

// --- Exercises ---

func (s *Server) handleListExercises(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Catalog.List())
}

func (s *Server) handleGetExercise(w http.ResponseWriter, r *http.Request) {
	ex, err := s.deps.Catalog.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "exercise not found")
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

type submitRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ex, err := s.deps.Catalog.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "exercise not found")
		return
	}

	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	sub, err := s.submit(r.Context(), UserID(r.Context()), ex, req.Code, nil)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, execution.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errAttemptLimit):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, context.Canceled):
		s.log.Debug().Msg("submission cancelled by client")
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.log.Error().Err(err).Msg("submission failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// submit grades source for user, enforces the attempt limit, and records,
// hints and publishes the result.
func (s *Server) submit(ctx context.Context, user string, ex *exercise.Exercise, source string, onResult func(execution.TestCaseResult)) (*storage.Submission, error) {
	unlock := s.attempts.Lock(user, ex.ID)
	defer unlock()

	if ex.MaxAttempts > 0 {
		n, err := s.deps.Store.CountAttempts(ctx, user, ex.ID)
		if err != nil {
			return nil, err
		}
		if n >= ex.MaxAttempts {
			return nil, fmt.Errorf("%w (%d of %d used)", errAttemptLimit, n, ex.MaxAttempts)
		}
	}

	res, err := s.deps.Coordinator.SubmitStream(ctx, ex, source, onResult)
	if err != nil {
		return nil, err
	}
	// A grading cut short by a disconnect does not count as an attempt.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := storage.NewSubmission(user, ex.ID, ex.Language, source, res)
	sub.ID = uuid.NewString()

	if s.deps.Hinter != nil && !res.AllPassed {
		hint, err := s.deps.Hinter.Hint(ctx, ex, source, res)
		if err != nil {
			s.log.Warn().Err(err).Str("exercise", ex.ID).Msg("hint generation failed")
		}
		sub.Hint = hint
	}

	// A finished grading is recorded even if the caller leaves now.
	if err := s.deps.Store.CreateSubmission(context.WithoutCancel(ctx), sub); err != nil {
		return nil, fmt.Errorf("saving submission: %w", err)
	}

	if err := s.deps.Publisher.PublishGraded(context.WithoutCancel(ctx), sub); err != nil {
		s.log.Warn().Err(err).Str("submission", sub.ID).Msg("publishing graded event failed")
	}

	s.log.Info().
		Str("submission", sub.ID).
		Str("user", user).
		Str("exercise", ex.ID).
		Str("status", string(sub.Status)).
		Int("passed", sub.PassedCount).
		Int("total", sub.TotalCount).
		Msg("submission recorded")
	return sub, nil
}

// --- Submissions ---

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.ListOptions{
		UserID:     UserID(r.Context()),
		ExerciseID: q.Get("exercise"),
		Status:     storage.SubmissionStatus(q.Get("status")),
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := q.Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	subs, err := s.deps.Store.ListSubmissions(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if subs == nil {
		subs = []storage.Submission{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := s.deps.Store.GetSubmission(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrAmbiguous):
		writeError(w, http.StatusNotFound, "submission not found")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Submissions are private to their author.
	if sub.UserID != UserID(r.Context()) {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
