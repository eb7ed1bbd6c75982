package grading

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opencampus/examcore/internal/catalog"
	"github.com/opencampus/examcore/internal/errs"
)

// Answer is submitted content decoded for one question type. Only the
// field matching the type is set; ParseAnswer enforces the shape before
// anything reaches a Strategy.
type Answer struct {
	Type      catalog.QuestionType
	OptionID  string   // single_choice, true_false
	OptionIDs []string // multiple_choice
	Text      string   // fill_blank, essay
}

// ParseAnswer validates raw submitted content against the question's
// type. Wire shapes: a JSON string for single_choice/true_false (option
// id or true/false literal), a JSON array of option ids for
// multiple_choice, a JSON string for fill_blank and essay.
func ParseAnswer(t catalog.QuestionType, raw json.RawMessage) (Answer, error) {
	ans := Answer{Type: t}
	switch t {
	case catalog.SingleChoice, catalog.TrueFalse:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Answer{}, fmt.Errorf("%s answer must be a string: %w", t, errs.ErrValidation)
		}
		if strings.TrimSpace(s) == "" {
			return Answer{}, fmt.Errorf("%s answer is empty: %w", t, errs.ErrValidation)
		}
		ans.OptionID = s
	case catalog.MultipleChoice:
		var ids []string
		if err := json.Unmarshal(raw, &ids); err != nil {
			return Answer{}, fmt.Errorf("%s answer must be an array of option ids: %w", t, errs.ErrValidation)
		}
		ans.OptionIDs = ids
	case catalog.FillBlank, catalog.Essay:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Answer{}, fmt.Errorf("%s answer must be a string: %w", t, errs.ErrValidation)
		}
		ans.Text = s
	default:
		return Answer{}, fmt.Errorf("unknown question type %q: %w", t, errs.ErrValidation)
	}
	return ans, nil
}
