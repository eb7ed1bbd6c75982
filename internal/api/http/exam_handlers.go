package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencampus/examcore/internal/catalog"
	"github.com/opencampus/examcore/internal/rbac"
)

// POST /exams  seeds an exam with its questions. Authoring workflows
// proper live elsewhere; this is the minimal upsert.
func UploadExamHandler(store catalog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Exam      catalog.Exam       `json:"exam"`
			Questions []catalog.Question `json:"questions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Exam.ID == "" {
			http.Error(w, "exam id required", http.StatusBadRequest)
			return
		}
		if req.Exam.CreatorID == "" {
			req.Exam.CreatorID = rbac.SubjectFromContext(r.Context())
		}
		for _, q := range req.Questions {
			if err := store.PutQuestion(r.Context(), q); err != nil {
				writeErr(w, err)
				return
			}
		}
		if err := store.PutExam(r.Context(), req.Exam); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, req.Exam)
	}
}

// GET /exams/{examID} returns the student-safe view (no correct flags,
// no rubric).
func GetExamHandler(store catalog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "examID")
		e, err := store.GetExam(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		out := struct {
			catalog.Exam
			QuestionDetails []catalog.Question `json:"question_details"`
		}{Exam: e}
		for _, eq := range e.Questions {
			q, err := store.GetQuestion(r.Context(), eq.QuestionID)
			if err != nil {
				continue // question list may reference content not yet seeded
			}
			out.QuestionDetails = append(out.QuestionDetails, q.Sanitize())
		}
		writeJSON(w, http.StatusOK, out)
	}
}
