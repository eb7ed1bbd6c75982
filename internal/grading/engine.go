package grading

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opencampus/examcore/internal/catalog"
	"github.com/opencampus/examcore/internal/errs"
)

// Verdict is the outcome of grading a single answer.
// Correct is nil when the answer is not objectively gradable yet
// (essay pending review).
type Verdict struct {
	Correct     *bool
	Score       float64
	Note        string
	NeedsReview bool
}

// Strategy grades one answer for one question type.
type Strategy interface {
	Grade(ctx context.Context, q catalog.Question, ans Answer) (Verdict, error)
}

// Grader routes by question type to the correct Strategy.
type Grader interface {
	Grade(ctx context.Context, q catalog.Question, ans Answer) (Verdict, error)
}

type defaultGrader struct {
	strategies map[catalog.QuestionType]Strategy
}

func (g *defaultGrader) Grade(ctx context.Context, q catalog.Question, ans Answer) (Verdict, error) {
	s, ok := g.strategies[q.Type]
	if !ok {
		return Verdict{}, fmt.Errorf("question type %q: %w", q.Type, errs.ErrValidation)
	}
	return s.Grade(ctx, q, ans)
}

type Option func(*config)

type config struct {
	Judge        Judge
	JudgeTimeout time.Duration
}

func WithJudge(j Judge) Option                { return func(c *config) { c.Judge = j } }
func WithJudgeTimeout(d time.Duration) Option { return func(c *config) { c.JudgeTimeout = d } }

// NewGrader installs the built-in strategies. Without a judge, essays
// fall back to a pending-review verdict.
func NewGrader(opts ...Option) Grader {
	cfg := &config{JudgeTimeout: 30 * time.Second}
	for _, o := range opts {
		o(cfg)
	}
	return &defaultGrader{
		strategies: map[catalog.QuestionType]Strategy{
			catalog.SingleChoice:   singleChoiceStrategy{},
			catalog.MultipleChoice: multiChoiceStrategy{},
			catalog.TrueFalse:      trueFalseStrategy{},
			catalog.FillBlank:      fillBlankStrategy{},
			catalog.Essay:          essayStrategy{judge: cfg.Judge, timeout: cfg.JudgeTimeout},
		},
	}
}

// --- Strategies ---

type singleChoiceStrategy struct{}

func (singleChoiceStrategy) Grade(_ context.Context, q catalog.Question, ans Answer) (Verdict, error) {
	correct := false
	for _, id := range q.CorrectOptions() {
		if ans.OptionID == id {
			correct = true
			break
		}
	}
	return binaryVerdict(correct, q.Points), nil
}

type multiChoiceStrategy struct{}

func (multiChoiceStrategy) Grade(_ context.Context, q catalog.Question, ans Answer) (Verdict, error) {
	correctSet := map[string]struct{}{}
	for _, id := range q.CorrectOptions() {
		correctSet[id] = struct{}{}
	}
	if len(correctSet) == 0 {
		// misconfigured question: no option flagged correct
		f := false
		return Verdict{Correct: &f, Score: 0, Note: "question has no correct options"}, nil
	}
	selected := 0
	wrong := 0
	seen := map[string]struct{}{}
	for _, id := range ans.OptionIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := correctSet[id]; ok {
			selected++
		} else {
			wrong++
		}
	}
	frac := float64(selected-wrong) / float64(len(correctSet))
	if frac < 0 {
		frac = 0
	}
	correct := selected == len(correctSet) && wrong == 0
	return Verdict{
		Correct: &correct,
		Score:   Round2(Clamp(frac*q.Points, q.Points)),
	}, nil
}

type trueFalseStrategy struct{}

func (trueFalseStrategy) Grade(_ context.Context, q catalog.Question, ans Answer) (Verdict, error) {
	correct := false
	for _, o := range q.Options {
		if !o.IsCorrect {
			continue
		}
		// match by option id or by content ("true"/"false"), case-insensitive
		if ans.OptionID == o.ID || strings.EqualFold(strings.TrimSpace(ans.OptionID), o.Content) {
			correct = true
			break
		}
	}
	return binaryVerdict(correct, q.Points), nil
}

type fillBlankStrategy struct{}

func (fillBlankStrategy) Grade(_ context.Context, q catalog.Question, ans Answer) (Verdict, error) {
	got := strings.TrimSpace(ans.Text)
	correct := false
	for _, o := range q.Options {
		if o.IsCorrect && strings.EqualFold(got, strings.TrimSpace(o.Content)) {
			correct = true
			break
		}
	}
	return binaryVerdict(correct, q.Points), nil
}

type essayStrategy struct {
	judge   Judge
	timeout time.Duration
}

func (s essayStrategy) Grade(ctx context.Context, q catalog.Question, ans Answer) (Verdict, error) {
	if s.judge == nil {
		return Verdict{Score: 0, NeedsReview: true, Note: "essay judge not configured"}, nil
	}
	jctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	jv, err := s.judge.Judge(jctx, JudgeRequest{
		QuestionText:  q.Prompt,
		Rubric:        q.Rubric,
		SubmittedText: ans.Text,
		MaxPoints:     q.Points,
	})
	if err != nil {
		// Judge failure is never fatal: the answer stays pending review.
		return Verdict{Score: 0, NeedsReview: true, Note: "judge unavailable: " + err.Error()}, nil
	}
	return Verdict{
		Correct: &jv.Correct,
		Score:   Round2(Clamp(jv.Score, q.Points)),
		Note:    jv.Feedback,
	}, nil
}

func binaryVerdict(correct bool, points float64) Verdict {
	v := Verdict{Correct: &correct}
	if correct {
		v.Score = Round2(points)
	}
	return v
}
