package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opencampus/examcore/internal/attempt"
	"github.com/opencampus/examcore/internal/rbac"
)

// POST /attempts  { "exam_id": "..." }
// Idempotent for the caller: an open attempt is resumed, not doubled.
func StartAttemptHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ExamID string `json:"exam_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.ExamID == "" {
			http.Error(w, "exam_id required", http.StatusBadRequest)
			return
		}
		a, err := svc.Start(r.Context(), req.ExamID, rbac.SubjectFromContext(r.Context()))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

// PUT /attempts/{attemptID}/answers/{questionID}
// { "content": <shape depends on question type>, "time_spent_seconds": 12 }
func SubmitAnswerHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content          json.RawMessage `json:"content"`
			TimeSpentSeconds *int64          `json:"time_spent_seconds,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		ans, err := svc.SubmitAnswer(r.Context(), attempt.SubmitInput{
			AttemptID:        chi.URLParam(r, "attemptID"),
			UserID:           rbac.SubjectFromContext(r.Context()),
			QuestionID:       chi.URLParam(r, "questionID"),
			Content:          req.Content,
			TimeSpentSeconds: req.TimeSpentSeconds,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ans)
	}
}

// POST /attempts/{attemptID}/answers  { "answers": [ ... ] }
// Items fail independently; the reply carries per-item errors.
func BatchSubmitHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Answers []attempt.BatchItem `json:"answers"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		results := svc.BatchSubmit(r.Context(),
			chi.URLParam(r, "attemptID"), rbac.SubjectFromContext(r.Context()), req.Answers)
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

// POST /attempts/{attemptID}/finish
func FinishAttemptHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.Finish(r.Context(),
			chi.URLParam(r, "attemptID"), rbac.SubjectFromContext(r.Context()))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

// POST /attempts/{attemptID}/grade  (teacher closeout after review)
func MarkGradedHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.MarkGraded(r.Context(), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

// GET /attempts/{attemptID}
func GetResultHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := rbac.RoleFromContext(r.Context())
		viewAll := rbac.Has(role, "attempt:view-all")
		res, err := svc.GetResult(r.Context(),
			chi.URLParam(r, "attemptID"), rbac.SubjectFromContext(r.Context()), viewAll)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /attempts?exam_id=...&user_id=...&status=...&limit=50&offset=0
// Students are always scoped to their own attempts.
func ListAttemptsHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := rbac.RoleFromContext(r.Context())
		sub := rbac.SubjectFromContext(r.Context())

		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if !rbac.Has(role, "attempt:view-all") {
			userID = sub
		}
		list, err := svc.ListAttempts(r.Context(), attempt.ListOpts{
			ExamID: strings.TrimSpace(r.URL.Query().Get("exam_id")),
			UserID: userID,
			Status: strings.TrimSpace(r.URL.Query().Get("status")),
			Limit:  parseIntDefault(r.URL.Query().Get("limit"), 50),
			Offset: parseIntDefault(r.URL.Query().Get("offset"), 0),
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /exams/{examID}/stats
func GetStatsHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.GetStats(r.Context(), chi.URLParam(r, "examID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}
