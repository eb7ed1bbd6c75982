package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opencampus/examcore/internal/catalog"
	"github.com/opencampus/examcore/internal/errs"
	"github.com/opencampus/examcore/internal/events"
	"github.com/opencampus/examcore/internal/grading"
)

// Service drives the attempt lifecycle: start -> answer writes ->
// finish -> (optional) manual grade closeout, plus the per-exam stats
// snapshot.
type Service struct {
	store   Store
	catalog catalog.Store
	grader  grading.Grader
	pub     events.Publisher
	log     *slog.Logger

	now func() time.Time
}

func NewService(store Store, cat catalog.Store, grader grading.Grader, pub events.Publisher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:   store,
		catalog: cat,
		grader:  grader,
		pub:     pub,
		log:     log,
		now:     time.Now,
	}
}

// Start creates a new in_progress attempt, or resumes the caller's
// existing one. Concurrent calls for the same (user, exam) converge on
// a single record: losers of the insert race return the winner's row.
func (s *Service) Start(ctx context.Context, examID, userID string) (Attempt, error) {
	ex, err := s.catalog.GetExam(ctx, examID)
	if err != nil {
		return Attempt{}, err
	}
	if ex.Status != catalog.ExamPublished && ex.Status != catalog.ExamActive {
		return Attempt{}, fmt.Errorf("exam %q is %s: %w", examID, ex.Status, errs.ErrInvalidState)
	}
	now := s.now()
	if ex.StartTime != nil && now.Before(*ex.StartTime) {
		return Attempt{}, fmt.Errorf("exam %q has not opened yet: %w", examID, errs.ErrInvalidState)
	}
	if ex.EndTime != nil && now.After(*ex.EndTime) {
		return Attempt{}, fmt.Errorf("exam %q has closed: %w", examID, errs.ErrInvalidState)
	}

	// Resume before the cap check: an open attempt never burns a slot.
	if a, err := s.store.FindInProgress(ctx, userID, examID); err == nil {
		return a, nil
	} else if !errors.Is(err, errs.ErrNotFound) {
		return Attempt{}, err
	}

	count, err := s.store.CountAttempts(ctx, userID, examID)
	if err != nil {
		return Attempt{}, err
	}
	if ex.MaxAttempts >= 1 && count >= ex.MaxAttempts {
		return Attempt{}, fmt.Errorf("exam %q allows %d attempts: %w", examID, ex.MaxAttempts, errs.ErrAttemptLimitExceeded)
	}

	a := Attempt{
		ID:          uuid.NewString(),
		ExamID:      examID,
		UserID:      userID,
		Status:      StatusInProgress,
		TotalPoints: ex.TotalPoints,
		StartedAt:   now,
	}
	if err := s.store.CreateAttempt(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicateInProgress) {
			// lost the race: the other caller's record wins
			return s.store.FindInProgress(ctx, userID, examID)
		}
		return Attempt{}, err
	}
	s.publish(ctx, events.AttemptStarted, a.ID, map[string]string{
		"attempt_id": a.ID, "exam_id": examID, "user_id": userID,
	})
	return a, nil
}

type SubmitInput struct {
	AttemptID        string
	UserID           string
	QuestionID       string
	Content          json.RawMessage
	TimeSpentSeconds *int64
}

// SubmitAnswer grades and upserts one answer. Resubmission overwrites
// the prior record for the same (attempt, question) key.
func (s *Service) SubmitAnswer(ctx context.Context, in SubmitInput) (Answer, error) {
	a, err := s.store.GetAttempt(ctx, in.AttemptID)
	if err != nil {
		return Answer{}, err
	}
	if a.UserID != in.UserID {
		return Answer{}, fmt.Errorf("attempt %q belongs to another user: %w", in.AttemptID, errs.ErrAccessDenied)
	}
	if a.Status != StatusInProgress {
		return Answer{}, fmt.Errorf("attempt %q is %s: %w", in.AttemptID, a.Status, errs.ErrInvalidState)
	}
	q, err := s.catalog.GetQuestion(ctx, in.QuestionID)
	if err != nil {
		return Answer{}, err
	}
	parsed, err := grading.ParseAnswer(q.Type, in.Content)
	if err != nil {
		return Answer{}, err
	}
	v, err := s.grader.Grade(ctx, q, parsed)
	if err != nil {
		return Answer{}, err
	}
	rec := Answer{
		AttemptID:        in.AttemptID,
		QuestionID:       in.QuestionID,
		Content:          in.Content,
		Correct:          v.Correct,
		Score:            v.Score,
		NeedsReview:      v.NeedsReview,
		Note:             v.Note,
		TimeSpentSeconds: in.TimeSpentSeconds,
		SubmittedAt:      s.now(),
	}
	if err := s.store.UpsertAnswer(ctx, rec); err != nil {
		return Answer{}, err
	}
	return rec, nil
}

type BatchItem struct {
	QuestionID       string          `json:"question_id"`
	Content          json.RawMessage `json:"content"`
	TimeSpentSeconds *int64          `json:"time_spent_seconds,omitempty"`
}

type BatchResult struct {
	QuestionID string  `json:"question_id"`
	Answer     *Answer `json:"answer,omitempty"`
	Err        error   `json:"-"`
	Error      string  `json:"error,omitempty"`
}

// BatchSubmit applies SubmitAnswer per item; one item's failure never
// aborts the rest.
func (s *Service) BatchSubmit(ctx context.Context, attemptID, userID string, items []BatchItem) []BatchResult {
	out := make([]BatchResult, 0, len(items))
	for _, it := range items {
		res := BatchResult{QuestionID: it.QuestionID}
		ans, err := s.SubmitAnswer(ctx, SubmitInput{
			AttemptID:        attemptID,
			UserID:           userID,
			QuestionID:       it.QuestionID,
			Content:          it.Content,
			TimeSpentSeconds: it.TimeSpentSeconds,
		})
		if err != nil {
			res.Err = err
			res.Error = err.Error()
		} else {
			res.Answer = &ans
		}
		out = append(out, res)
	}
	return out
}

// Finish closes an attempt: CAS to submitted, sum answer scores, stamp
// timing, then best-effort stats recompute and event publish. It is
// deliberately not idempotent; a second call fails with invalid state.
func (s *Service) Finish(ctx context.Context, attemptID, userID string) (Attempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.UserID != userID {
		return Attempt{}, fmt.Errorf("attempt %q belongs to another user: %w", attemptID, errs.ErrAccessDenied)
	}
	now := s.now()
	spent := int64(now.Sub(a.StartedAt) / time.Second)
	ok, err := s.store.MarkSubmitted(ctx, attemptID, now, spent)
	if err != nil {
		return Attempt{}, err
	}
	if !ok {
		return Attempt{}, fmt.Errorf("attempt %q is not in progress: %w", attemptID, errs.ErrInvalidState)
	}

	// The CAS above is the write-lock point; answers are frozen now.
	score, err := s.sumAnswerScores(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if err := s.store.SetScore(ctx, attemptID, score); err != nil {
		return Attempt{}, err
	}

	if _, err := s.RecomputeStats(ctx, a.ExamID); err != nil {
		s.log.Warn("stats recompute failed", "exam_id", a.ExamID, "err", err)
	}
	s.publish(ctx, events.AttemptFinished, attemptID, map[string]any{
		"attempt_id": attemptID, "exam_id": a.ExamID, "user_id": userID, "score": score,
	})
	return s.store.GetAttempt(ctx, attemptID)
}

// MarkGraded is the manual-review closeout: submitted -> graded, with
// the score recomputed from the answers as they stand after review.
func (s *Service) MarkGraded(ctx context.Context, attemptID string) (Attempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.Status != StatusSubmitted {
		return Attempt{}, fmt.Errorf("attempt %q is %s: %w", attemptID, a.Status, errs.ErrInvalidState)
	}
	score, err := s.sumAnswerScores(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	ok, err := s.store.MarkGraded(ctx, attemptID, score)
	if err != nil {
		return Attempt{}, err
	}
	if !ok {
		return Attempt{}, fmt.Errorf("attempt %q is no longer submitted: %w", attemptID, errs.ErrInvalidState)
	}
	if _, err := s.RecomputeStats(ctx, a.ExamID); err != nil {
		s.log.Warn("stats recompute failed", "exam_id", a.ExamID, "err", err)
	}
	s.publish(ctx, events.AttemptGraded, attemptID, map[string]any{
		"attempt_id": attemptID, "exam_id": a.ExamID, "score": score,
	})
	return s.store.GetAttempt(ctx, attemptID)
}

// GetResult returns an attempt with its answers. viewAll lets
// teacher/admin callers read attempts they do not own.
func (s *Service) GetResult(ctx context.Context, attemptID, userID string, viewAll bool) (Result, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Result{}, err
	}
	if a.UserID != userID && !viewAll {
		return Result{}, fmt.Errorf("attempt %q belongs to another user: %w", attemptID, errs.ErrAccessDenied)
	}
	answers, err := s.store.GetAnswers(ctx, attemptID)
	if err != nil {
		return Result{}, err
	}
	return Result{Attempt: a, Answers: answers}, nil
}

func (s *Service) ListAttempts(ctx context.Context, opts ListOpts) ([]Attempt, error) {
	return s.store.ListAttempts(ctx, opts)
}

// GetStats returns the stored snapshot, computing one on the fly if the
// exam has never finalized an attempt through this service.
func (s *Service) GetStats(ctx context.Context, examID string) (Stats, error) {
	st, err := s.store.GetStats(ctx, examID)
	if errors.Is(err, errs.ErrNotFound) {
		return s.RecomputeStats(ctx, examID)
	}
	return st, err
}

// RecomputeStats rebuilds the snapshot from all submitted/graded
// attempts and overwrites it whole. No incremental patching, so a
// partial failure cannot leave drift behind.
func (s *Service) RecomputeStats(ctx context.Context, examID string) (Stats, error) {
	ex, err := s.catalog.GetExam(ctx, examID)
	if err != nil {
		return Stats{}, err
	}
	finalized, err := s.store.ListFinalized(ctx, examID)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{ExamID: examID, UpdatedAt: s.now()}
	if len(finalized) > 0 {
		st.TotalAttempts = len(finalized)
		sum := 0.0
		passed := 0
		st.MinScore = attemptScore(finalized[0])
		for _, a := range finalized {
			sc := attemptScore(a)
			sum += sc
			if sc > st.MaxScore {
				st.MaxScore = sc
			}
			if sc < st.MinScore {
				st.MinScore = sc
			}
			if ex.PassingScore != nil && sc >= *ex.PassingScore {
				passed++
			}
		}
		st.AvgScore = grading.Round2(sum / float64(len(finalized)))
		if ex.PassingScore != nil {
			st.PassRate = grading.Round2(100 * float64(passed) / float64(len(finalized)))
		}
	}
	if err := s.store.UpsertStats(ctx, st); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func (s *Service) sumAnswerScores(ctx context.Context, attemptID string) (float64, error) {
	answers, err := s.store.GetAnswers(ctx, attemptID)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, ans := range answers {
		sum += ans.Score
	}
	return grading.Round2(sum), nil
}

func (s *Service) publish(ctx context.Context, typ, key string, payload any) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, typ, key, payload); err != nil {
		s.log.Warn("event publish failed", "type", typ, "key", key, "err", err)
	}
}

func attemptScore(a Attempt) float64 {
	if a.Score == nil {
		return 0
	}
	return *a.Score
}
