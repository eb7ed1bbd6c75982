package attempt

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusGraded     Status = "graded"
)

// Attempt is one learner's timed instance of taking an exam.
// TotalPoints is snapshotted from the exam at creation and never
// follows later edits to the definition.
type Attempt struct {
	ID               string     `json:"id"`
	ExamID           string     `json:"exam_id"`
	UserID           string     `json:"user_id"`
	Status           Status     `json:"status"`
	TotalPoints      float64    `json:"total_points"`
	Score            *float64   `json:"score,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	TimeSpentSeconds *int64     `json:"time_spent_seconds,omitempty"`
}

// Answer is the stored verdict for one (attempt, question) key.
// Correct nil means not objectively gradable yet (essay pending
// review).
type Answer struct {
	AttemptID        string          `json:"attempt_id"`
	QuestionID       string          `json:"question_id"`
	Content          json.RawMessage `json:"content"`
	Correct          *bool           `json:"is_correct"`
	Score            float64         `json:"score"`
	NeedsReview      bool            `json:"needs_review,omitempty"`
	Note             string          `json:"note,omitempty"`
	TimeSpentSeconds *int64          `json:"time_spent_seconds,omitempty"`
	SubmittedAt      time.Time       `json:"submitted_at"`
}

// Stats is the exam-wide aggregate snapshot, fully recomputed on every
// finalize.
type Stats struct {
	ExamID        string    `json:"exam_id"`
	TotalAttempts int       `json:"total_attempts"`
	AvgScore      float64   `json:"avg_score"`
	MaxScore      float64   `json:"max_score"`
	MinScore      float64   `json:"min_score"`
	PassRate      float64   `json:"pass_rate"` // percentage; 0 when no passing score configured
	UpdatedAt     time.Time `json:"updated_at"`
}

// Result is an attempt together with its per-question verdicts.
type Result struct {
	Attempt Attempt  `json:"attempt"`
	Answers []Answer `json:"answers"`
}
