package catalog

import "time"

type ExamStatus string

const (
	ExamDraft     ExamStatus = "draft"
	ExamPublished ExamStatus = "published"
	ExamActive    ExamStatus = "active"
	ExamEnded     ExamStatus = "ended"
	ExamCancelled ExamStatus = "cancelled"
)

type QuestionType string

const (
	SingleChoice   QuestionType = "single_choice"
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	FillBlank      QuestionType = "fill_blank"
	Essay          QuestionType = "essay"
)

type Option struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	IsCorrect bool   `json:"is_correct,omitempty"`
}

type Question struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Prompt  string       `json:"prompt"`
	Points  float64      `json:"points"`
	Options []Option     `json:"options,omitempty"`
	Rubric  string       `json:"rubric,omitempty"` // essay only
}

// ExamQuestion is one entry of an exam's ordered question list.
type ExamQuestion struct {
	QuestionID string  `json:"question_id"`
	Points     float64 `json:"points"`
	Order      int     `json:"order"`
}

type Exam struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	Status           ExamStatus     `json:"status"`
	CreatorID        string         `json:"creator_id,omitempty"`
	TotalPoints      float64        `json:"total_points"`
	PassingScore     *float64       `json:"passing_score,omitempty"`
	MaxAttempts      int            `json:"max_attempts"`
	TimeLimitMinutes *int           `json:"time_limit_minutes,omitempty"`
	StartTime        *time.Time     `json:"start_time,omitempty"`
	EndTime          *time.Time     `json:"end_time,omitempty"`
	Questions        []ExamQuestion `json:"questions"`

	CreatedAt int64 `json:"created_at,omitempty"`
}

// CorrectOptions returns the option ids flagged correct.
func (q Question) CorrectOptions() []string {
	var out []string
	for _, o := range q.Options {
		if o.IsCorrect {
			out = append(out, o.ID)
		}
	}
	return out
}

// Sanitize strips grading material (correct flags, rubric) so the
// question is safe to serve to students.
func (q Question) Sanitize() Question {
	c := q
	c.Rubric = ""
	c.Options = make([]Option, len(q.Options))
	for i, o := range q.Options {
		c.Options[i] = Option{ID: o.ID, Content: o.Content}
	}
	return c
}
